package hospital

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqr/medqr/internal/platform/access"
)

const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// ValidStatus reports whether s is a known hospital status.
func ValidStatus(s string) bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended:
		return true
	}
	return false
}

// Hospital maps to the hospital table.
type Hospital struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Address     Address     `json:"address"`
	Phone       string      `json:"phone,omitempty"`
	Email       string      `json:"email,omitempty"`
	Partnership Partnership `json:"partnership"`
	Status      string      `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

// Partnership records whether the hospital takes part in the emergency
// network and on what terms.
type Partnership struct {
	IsPartner bool       `json:"is_partner"`
	Since     *time.Time `json:"since,omitempty"`
	Tier      string     `json:"tier,omitempty"`
}

// Active reports whether the hospital accepts new work.
func (h *Hospital) Active() bool { return h.Status == StatusActive }

// Target describes h for access decisions.
func (h *Hospital) Target() access.Target {
	return access.HospitalTarget(h.ID, h.Status)
}

// Input is the writable part of a hospital.
type Input struct {
	Name        string      `json:"name"`
	Address     Address     `json:"address"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email"`
	Partnership Partnership `json:"partnership"`
}

// Filter narrows a hospital listing.
type Filter struct {
	Name      string
	Status    string
	IsPartner *bool
}
