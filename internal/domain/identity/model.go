package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqr/medqr/internal/platform/access"
)

// User maps to the app_user table. Users are deactivated, never deleted.
type User struct {
	ID           uuid.UUID   `json:"id"`
	Email        string      `json:"email"`
	PasswordHash string      `json:"-"`
	Role         access.Role `json:"role"`
	FirstName    string      `json:"first_name"`
	LastName     string      `json:"last_name"`
	Phone        string      `json:"phone,omitempty"`
	HospitalID   *uuid.UUID  `json:"hospital_id,omitempty"`
	PatientID    *uuid.UUID  `json:"patient_id,omitempty"`
	Active       bool        `json:"active"`
	LastLoginAt  *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// NewUser is the body of a user creation request.
type NewUser struct {
	Email      string      `json:"email"`
	Password   string      `json:"password"`
	Role       access.Role `json:"role"`
	FirstName  string      `json:"first_name"`
	LastName   string      `json:"last_name"`
	Phone      string      `json:"phone"`
	HospitalID *uuid.UUID  `json:"hospital_id"`
	PatientID  *uuid.UUID  `json:"patient_id"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// Filter narrows a user listing.
type Filter struct {
	Role       access.Role
	HospitalID uuid.UUID
	Active     *bool
	Search     string
}
