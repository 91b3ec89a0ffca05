package record

import (
	"github.com/medqr/medqr/internal/platform/access"
)

// Mutation is one change to an existing record. The set is closed: every
// mutation is either a whole-section replacement, an append to a sub-list
// or a status change, and each maps to a single atomic store update.
type Mutation interface {
	// Verb is the access verb the mutation is authorized under.
	Verb() access.Verb
	applyTo(r *Record)
}

type ReplaceVitalSigns struct{ VitalSigns VitalSigns }
type ReplaceAssessment struct{ Assessment Assessment }
type ReplaceTreatment struct{ Treatment Treatment }
type ReplaceDischarge struct{ Discharge Discharge }
type AppendLab struct{ Lab Lab }
type AppendImaging struct{ Imaging Imaging }
type AppendNursingNote struct{ Note NursingNote }

// SetStatus moves a record between statuses. From is the status the
// change was validated against; the store applies it only if the record
// still has that status.
type SetStatus struct {
	From string
	To   string
}

// Archive makes a record read-only for everyone but admins.
type Archive struct{ From string }

func (ReplaceVitalSigns) Verb() access.Verb { return access.VerbUpdate }
func (ReplaceAssessment) Verb() access.Verb { return access.VerbUpdate }
func (ReplaceTreatment) Verb() access.Verb  { return access.VerbUpdate }
func (ReplaceDischarge) Verb() access.Verb  { return access.VerbUpdate }
func (AppendLab) Verb() access.Verb         { return access.VerbUpdate }
func (AppendImaging) Verb() access.Verb     { return access.VerbUpdate }
func (AppendNursingNote) Verb() access.Verb { return access.VerbUpdate }
func (SetStatus) Verb() access.Verb         { return access.VerbUpdate }
func (Archive) Verb() access.Verb           { return access.VerbArchive }

func (m ReplaceVitalSigns) applyTo(r *Record) { v := m.VitalSigns; r.VitalSigns = &v }
func (m ReplaceAssessment) applyTo(r *Record) { v := m.Assessment; r.Assessment = &v }
func (m ReplaceTreatment) applyTo(r *Record)  { v := m.Treatment; r.Treatment = &v }
func (m ReplaceDischarge) applyTo(r *Record)  { v := m.Discharge; r.Discharge = &v }
func (m AppendLab) applyTo(r *Record)         { r.Labs = append(r.Labs, m.Lab) }
func (m AppendImaging) applyTo(r *Record)     { r.Imaging = append(r.Imaging, m.Imaging) }
func (m AppendNursingNote) applyTo(r *Record) { r.NursingNotes = append(r.NursingNotes, m.Note) }
func (m SetStatus) applyTo(r *Record)         { r.Status = m.To }
func (m Archive) applyTo(r *Record)           { r.Status = StatusArchived }

// Apply applies m to a copy of r and returns it. Repositories without a
// store-side update use it directly.
func Apply(r *Record, m Mutation) *Record {
	cp := *r
	cp.Labs = append([]Lab(nil), r.Labs...)
	cp.Imaging = append([]Imaging(nil), r.Imaging...)
	cp.NursingNotes = append([]NursingNote(nil), r.NursingNotes...)
	m.applyTo(&cp)
	return &cp
}
