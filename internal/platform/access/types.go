// Package access decides, for every caller and every entity, whether an
// operation is allowed. All authorization in the service goes through
// Decide; handlers never compare roles inline.
package access

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Role is the role carried by an identity and its token.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleMedicalPersonnel Role = "medical_personnel"
	RolePatient          Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMedicalPersonnel, RolePatient:
		return true
	}
	return false
}

// Kind is the entity class an action applies to.
type Kind string

const (
	KindHospital      Kind = "hospital"
	KindPatient       Kind = "patient"
	KindMedicalRecord Kind = "medical_record"
)

// Verb is the operation requested on an entity.
type Verb string

const (
	VerbRead    Verb = "read"
	VerbList    Verb = "list"
	VerbCreate  Verb = "create"
	VerbUpdate  Verb = "update"
	VerbArchive Verb = "archive"
)

// instanceLevel reports whether the verb addresses one existing entity.
func (v Verb) instanceLevel() bool {
	return v == VerbRead || v == VerbUpdate || v == VerbArchive
}

// Action pairs a verb with the entity kind it targets.
type Action struct {
	Verb Verb
	Kind Kind
}

func (a Action) String() string {
	return string(a.Kind) + "." + string(a.Verb)
}

func Read(k Kind) Action    { return Action{Verb: VerbRead, Kind: k} }
func List(k Kind) Action    { return Action{Verb: VerbList, Kind: k} }
func Create(k Kind) Action  { return Action{Verb: VerbCreate, Kind: k} }
func Update(k Kind) Action  { return Action{Verb: VerbUpdate, Kind: k} }
func Archive(k Kind) Action { return Action{Verb: VerbArchive, Kind: k} }

// Caller is the resolved identity behind a verified token. It is built once
// per request from the token claims plus a fresh identity lookup and passed
// by value to every decision.
type Caller struct {
	SubjectID uuid.UUID
	Role      Role
	Active    bool

	// HospitalID is the affiliated hospital of a medical_personnel caller;
	// uuid.Nil when the identity has none.
	HospitalID     uuid.UUID
	HospitalActive bool

	// PatientID is the patient linked to a patient-role caller.
	PatientID uuid.UUID
}

// System is the caller used by the admin CLI and the seeder, which act
// outside any HTTP request.
var System = Caller{Role: RoleAdmin, Active: true}

// Target describes the entity an action is aimed at, as loaded from the
// store. A zero-value instance target (Found=false) means the reference did
// not resolve, including malformed ids.
type Target struct {
	Kind  Kind
	Found bool

	ID         uuid.UUID
	PatientID  uuid.UUID
	HospitalID uuid.UUID
	Status     string
	Active     bool

	// HospitalActive is only consulted when creating a medical record.
	HospitalActive bool
}

// Class is the target of class-level actions such as List or Create.
func Class(k Kind) Target {
	return Target{Kind: k, Found: true}
}

// Missing is the target for a reference that did not resolve.
func Missing(k Kind) Target {
	return Target{Kind: k}
}

// HospitalTarget describes an existing hospital.
func HospitalTarget(id uuid.UUID, status string) Target {
	return Target{Kind: KindHospital, Found: true, ID: id, HospitalID: id, Status: status, Active: status == "active"}
}

// PatientTarget describes an existing patient.
func PatientTarget(id uuid.UUID, active bool) Target {
	return Target{Kind: KindPatient, Found: true, ID: id, PatientID: id, Active: active}
}

// RecordTarget describes an existing medical record.
func RecordTarget(id, patientID, hospitalID uuid.UUID, status string) Target {
	return Target{
		Kind:       KindMedicalRecord,
		Found:      true,
		ID:         id,
		PatientID:  patientID,
		HospitalID: hospitalID,
		Status:     status,
		Active:     true,
	}
}

// NewRecordTarget describes a medical record about to be created for the
// given patient at the given hospital. patientFound=false yields a target
// that resolves to NotFound.
func NewRecordTarget(patientID, hospitalID uuid.UUID, patientFound, patientActive, hospitalActive bool) Target {
	return Target{
		Kind:           KindMedicalRecord,
		Found:          patientFound,
		PatientID:      patientID,
		HospitalID:     hospitalID,
		Active:         patientActive,
		HospitalActive: hospitalActive,
	}
}

// Reason explains a denial.
type Reason string

const (
	ReasonAccountDeactivated    Reason = "account_deactivated"
	ReasonIncompleteProfile     Reason = "incomplete_profile"
	ReasonNotFound              Reason = "not_found"
	ReasonForbidden             Reason = "forbidden"
	ReasonRestrictedAccessLevel Reason = "restricted_access_level"
)

// Decision is the outcome of Decide. An allowed List decision may carry a
// scope the query must be filtered to.
type Decision struct {
	Allowed bool
	Action  Action
	Reason  Reason

	HospitalScope uuid.UUID
	PatientScope  uuid.UUID
}

// Err returns nil for an allowed decision and a *Denial otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Denial{Action: d.Action, Reason: d.Reason}
}

// Denial is the error form of a negative decision.
type Denial struct {
	Action Action
	Reason Reason
}

func (d *Denial) Error() string {
	return fmt.Sprintf("access denied: %s (%s)", d.Action, d.Reason)
}

// Deny builds a denial error outside of Decide, e.g. for view refusals.
func Deny(a Action, r Reason) error {
	return &Denial{Action: a, Reason: r}
}

// DenialReason extracts the reason from err when it is a denial.
func DenialReason(err error) (Reason, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d.Reason, true
	}
	return "", false
}
