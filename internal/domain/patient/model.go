package patient

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqr/medqr/internal/platform/access"
)

const (
	AccessFull          = "full"
	AccessLimited       = "limited"
	AccessEmergencyOnly = "emergency_only"
)

// ValidAccessLevel reports whether s is a known access level.
func ValidAccessLevel(s string) bool {
	switch s {
	case AccessFull, AccessLimited, AccessEmergencyOnly:
		return true
	}
	return false
}

// Patient maps to the patient table. Nested documents are stored as JSONB.
type Patient struct {
	ID                    uuid.UUID             `json:"id"`
	PatientNumber         string                `json:"patient_id"`
	QRCode                string                `json:"qr_code,omitempty"`
	Biodata               Biodata               `json:"biodata"`
	MedicalHistory        MedicalHistory        `json:"medical_history"`
	EmergencyContact      EmergencyContact      `json:"emergency_contact"`
	EmergencySubscription EmergencySubscription `json:"emergency_subscription"`
	HMO                   HMO                   `json:"hmo"`
	PrimaryHospitalID     *uuid.UUID            `json:"primary_hospital_id,omitempty"`
	RegisteredHospitals   []Registration        `json:"registered_hospitals"`
	AccessLevel           string                `json:"access_level"`
	Active                bool                  `json:"active"`
	CreatedBy             *uuid.UUID            `json:"created_by,omitempty"`
	QRGeneratedAt         time.Time             `json:"qr_generated_at"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

type Biodata struct {
	FirstName     string  `json:"first_name"`
	MiddleName    string  `json:"middle_name,omitempty"`
	LastName      string  `json:"last_name"`
	DateOfBirth   string  `json:"date_of_birth"`
	Gender        string  `json:"gender,omitempty"`
	BloodGroup    string  `json:"blood_group,omitempty"`
	Genotype      string  `json:"genotype,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	Email         string  `json:"email,omitempty"`
	Address       Address `json:"address"`
	MaritalStatus string  `json:"marital_status,omitempty"`
	Occupation    string  `json:"occupation,omitempty"`
	Nationality   string  `json:"nationality,omitempty"`
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type MedicalHistory struct {
	Allergies        []Allergy        `json:"allergies"`
	ChronicIllnesses []ChronicIllness `json:"chronic_illnesses"`
	Surgeries        []Surgery        `json:"surgeries"`
	Medications      []string         `json:"current_medications"`
	FamilyHistory    string           `json:"family_history,omitempty"`
}

type Allergy struct {
	Allergen string `json:"allergen"`
	Reaction string `json:"reaction,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type ChronicIllness struct {
	Condition     string `json:"condition"`
	DiagnosedDate string `json:"diagnosed_date,omitempty"`
	Severity      string `json:"severity,omitempty"`
	Active        bool   `json:"active"`
}

type Surgery struct {
	Procedure string `json:"procedure"`
	Date      string `json:"date,omitempty"`
	Hospital  string `json:"hospital,omitempty"`
}

type EmergencyContact struct {
	Name         string `json:"name,omitempty"`
	Relationship string `json:"relationship,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Email        string `json:"email,omitempty"`
}

// EmergencySubscription lists the emergency services the patient has
// opted into.
type EmergencySubscription struct {
	Subscribed       bool   `json:"subscribed"`
	Plan             string `json:"plan,omitempty"`
	AmbulanceService bool   `json:"ambulance_service"`
	EmergencyCare    bool   `json:"emergency_care"`
	NotifyContact    bool   `json:"notify_contact"`
}

type HMO struct {
	Provider     string `json:"provider,omitempty"`
	Plan         string `json:"plan,omitempty"`
	PolicyNumber string `json:"policy_number,omitempty"`
	ExpiryDate   string `json:"expiry_date,omitempty"`
}

// Registration links a patient to a hospital. Entries are never removed;
// unregistering clears Active.
type Registration struct {
	HospitalID   uuid.UUID `json:"hospital_id"`
	RegisteredAt time.Time `json:"registered_at"`
	Active       bool      `json:"active"`
}

// Target describes p for access decisions.
func (p *Patient) Target() access.Target {
	return access.PatientTarget(p.ID, p.Active)
}

// RegisteredAt reports whether the patient is, or was, registered at the
// hospital. The primary hospital always counts.
func (p *Patient) RegisteredAt(hospitalID uuid.UUID) bool {
	if p.PrimaryHospitalID != nil && *p.PrimaryHospitalID == hospitalID {
		return true
	}
	for _, r := range p.RegisteredHospitals {
		if r.HospitalID == hospitalID {
			return true
		}
	}
	return false
}

// activeRegistration reports whether an active entry for the hospital
// exists.
func (p *Patient) activeRegistration(hospitalID uuid.UUID) bool {
	for _, r := range p.RegisteredHospitals {
		if r.HospitalID == hospitalID && r.Active {
			return true
		}
	}
	return false
}

// Input is the writable part of a patient.
type Input struct {
	Biodata               Biodata               `json:"biodata"`
	MedicalHistory        MedicalHistory        `json:"medical_history"`
	EmergencyContact      EmergencyContact      `json:"emergency_contact"`
	EmergencySubscription EmergencySubscription `json:"emergency_subscription"`
	HMO                   HMO                   `json:"hmo"`
	PrimaryHospitalID     *uuid.UUID            `json:"primary_hospital_id"`
	AccessLevel           string                `json:"access_level"`
}

// QRCode is the response of the QR endpoints.
type QRCode struct {
	PatientID     uuid.UUID `json:"id"`
	PatientNumber string    `json:"patient_id"`
	QRCode        string    `json:"qr_code"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Filter narrows a patient listing. HospitalID and PatientID come from the
// access decision, never from the request.
type Filter struct {
	Search      string
	AccessLevel string
	HospitalID  uuid.UUID
	PatientID   uuid.UUID
	// ActiveOnly hides deactivated patients.
	ActiveOnly bool
}
