package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/medqr/medqr/internal/platform/access"
)

const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// ValidStatus reports whether s is a known record status.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// transitions lists the moves SetStatus accepts. Archiving has its own
// operation and leaving archived is reserved to admins.
var transitions = map[string][]string{
	StatusDraft:     {StatusActive, StatusCompleted},
	StatusActive:    {StatusCompleted},
	StatusCompleted: {StatusActive},
	StatusArchived:  {StatusActive},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	VisitOutpatient = "outpatient"
	VisitInpatient  = "inpatient"
	VisitEmergency  = "emergency"
	VisitFollowUp   = "follow_up"
)

func validVisitType(s string) bool {
	switch s {
	case VisitOutpatient, VisitInpatient, VisitEmergency, VisitFollowUp:
		return true
	}
	return false
}

// Record maps to the medical_record table. Sections are JSONB documents;
// they are only ever replaced whole or appended to.
type Record struct {
	ID           uuid.UUID     `json:"id"`
	PatientID    uuid.UUID     `json:"patient_id"`
	HospitalID   uuid.UUID     `json:"hospital_id"`
	CreatedBy    uuid.UUID     `json:"created_by"`
	VisitInfo    VisitInfo     `json:"visit_info"`
	VitalSigns   *VitalSigns   `json:"vital_signs,omitempty"`
	Assessment   *Assessment   `json:"assessment,omitempty"`
	Treatment    *Treatment    `json:"treatment,omitempty"`
	Labs         []Lab         `json:"labs"`
	Imaging      []Imaging     `json:"imaging"`
	NursingNotes []NursingNote `json:"nursing_notes"`
	Discharge    *Discharge    `json:"discharge,omitempty"`
	Status       string        `json:"status"`
	IsEmergency  bool          `json:"is_emergency"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Target describes r for access decisions.
func (r *Record) Target() access.Target {
	return access.RecordTarget(r.ID, r.PatientID, r.HospitalID, r.Status)
}

type VisitInfo struct {
	VisitDate          time.Time  `json:"visit_date"`
	VisitType          string     `json:"visit_type"`
	ChiefComplaint     string     `json:"chief_complaint"`
	Department         string     `json:"department,omitempty"`
	AttendingPhysician string     `json:"attending_physician,omitempty"`
	ReferredBy         string     `json:"referred_by,omitempty"`
	AdmittedAt         *time.Time `json:"admitted_at,omitempty"`
}

type VitalSigns struct {
	BloodPressure    string    `json:"blood_pressure,omitempty"`
	HeartRate        int       `json:"heart_rate,omitempty"`
	Temperature      float64   `json:"temperature,omitempty"`
	RespiratoryRate  int       `json:"respiratory_rate,omitempty"`
	OxygenSaturation float64   `json:"oxygen_saturation,omitempty"`
	WeightKg         float64   `json:"weight_kg,omitempty"`
	HeightCm         float64   `json:"height_cm,omitempty"`
	RecordedAt       time.Time `json:"recorded_at"`
	RecordedBy       uuid.UUID `json:"recorded_by"`
}

type Assessment struct {
	Diagnosis Diagnosis `json:"diagnosis"`
	Findings  string    `json:"findings,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

type Diagnosis struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary,omitempty"`
	Codes     []string `json:"codes,omitempty"`
}

type Treatment struct {
	Medications  []Medication `json:"medications"`
	Procedures   []string     `json:"procedures,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Route     string `json:"route,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type Lab struct {
	ID             uuid.UUID  `json:"id"`
	TestName       string     `json:"test_name"`
	Result         string     `json:"result,omitempty"`
	Unit           string     `json:"unit,omitempty"`
	ReferenceRange string     `json:"reference_range,omitempty"`
	Status         string     `json:"status"`
	OrderedAt      time.Time  `json:"ordered_at"`
	ResultedAt     *time.Time `json:"resulted_at,omitempty"`
	RecordedBy     uuid.UUID  `json:"recorded_by"`
}

type Imaging struct {
	ID          uuid.UUID `json:"id"`
	Modality    string    `json:"modality"`
	BodyPart    string    `json:"body_part,omitempty"`
	Findings    string    `json:"findings,omitempty"`
	Impression  string    `json:"impression,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
	RecordedBy  uuid.UUID `json:"recorded_by"`
}

type NursingNote struct {
	ID         uuid.UUID `json:"id"`
	Note       string    `json:"note"`
	Shift      string    `json:"shift,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	RecordedBy uuid.UUID `json:"recorded_by"`
}

type Discharge struct {
	DischargeDate time.Time  `json:"discharge_date"`
	Summary       string     `json:"summary"`
	Condition     string     `json:"condition,omitempty"`
	Instructions  string     `json:"instructions,omitempty"`
	FollowUpDate  *time.Time `json:"follow_up_date,omitempty"`
}

// CreateInput is the body of a new record.
type CreateInput struct {
	PatientID   string      `json:"patient_id"`
	HospitalID  string      `json:"hospital_id"`
	VisitInfo   VisitInfo   `json:"visit_info"`
	VitalSigns  *VitalSigns `json:"vital_signs"`
	Assessment  *Assessment `json:"assessment"`
	Treatment   *Treatment  `json:"treatment"`
	Status      string      `json:"status"`
	IsEmergency bool        `json:"is_emergency"`
}

// Filter narrows a record listing. HospitalID and PatientScope come from
// the access decision.
type Filter struct {
	PatientID    uuid.UUID
	HospitalID   uuid.UUID
	PatientScope uuid.UUID
	Status       string
	IsEmergency  *bool
}
