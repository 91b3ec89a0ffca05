package record

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/domain/hospital"
	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/events"
	"github.com/medqr/medqr/internal/platform/middleware"
)

type PatientLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type HospitalLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*hospital.Hospital, error)
}

type Service struct {
	repo      Repository
	authz     *access.Authorizer
	patients  PatientLookup
	hospitals HospitalLookup
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, authz *access.Authorizer, patients PatientLookup, hospitals HospitalLookup) *Service {
	return &Service{
		repo:      repo,
		authz:     authz,
		patients:  patients,
		hospitals: hospitals,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
}

// SetEvents attaches the publisher domain events are sent to.
func (s *Service) SetEvents(p events.Publisher, logger zerolog.Logger) {
	s.events = p
	s.logger = logger
}

// Create opens a record for a patient at a hospital. Medical personnel
// default to, and are limited to, their own hospital. The patient must be
// or have been registered there.
func (s *Service) Create(ctx context.Context, caller access.Caller, in CreateInput) (*Record, error) {
	if in.HospitalID == "" && caller.Role == access.RoleMedicalPersonnel {
		in.HospitalID = caller.HospitalID.String()
	}
	if in.HospitalID == "" && caller.Role == access.RoleAdmin {
		var errs errsx.Map
		errs.Set("hospital_id", "is required")
		return nil, apperr.Validation(errs)
	}

	target, pat, err := s.creationTarget(ctx, in)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Check(caller, access.Create(access.KindMedicalRecord), target); err != nil {
		return nil, err
	}
	if !pat.RegisteredAt(target.HospitalID) {
		var errs errsx.Map
		errs.Set("hospital_id", "patient is not registered at this hospital")
		return nil, apperr.Validation(errs)
	}

	rec := &Record{
		PatientID:    pat.ID,
		HospitalID:   target.HospitalID,
		CreatedBy:    caller.SubjectID,
		VisitInfo:    in.VisitInfo,
		VitalSigns:   in.VitalSigns,
		Assessment:   in.Assessment,
		Treatment:    in.Treatment,
		Labs:         []Lab{},
		Imaging:      []Imaging{},
		NursingNotes: []NursingNote{},
		Status:       in.Status,
		IsEmergency:  in.IsEmergency,
	}
	if err := s.validateNew(caller, rec); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.emit(ctx, events.New(events.RecordCreated, rec.ID, caller.SubjectID, map[string]any{
		"patient_id":   rec.PatientID.String(),
		"hospital_id":  rec.HospitalID.String(),
		"is_emergency": rec.IsEmergency,
	}))
	return rec, nil
}

// creationTarget loads the patient and hospital a new record refers to.
// References that do not resolve produce a target the engine reports as
// not found.
func (s *Service) creationTarget(ctx context.Context, in CreateInput) (access.Target, *patient.Patient, error) {
	patientID, perr := uuid.Parse(in.PatientID)
	hospitalID, herr := uuid.Parse(in.HospitalID)

	var pat *patient.Patient
	if perr == nil {
		p, err := s.patients.Lookup(ctx, patientID)
		if err != nil && !apperr.IsNotFound(err) {
			return access.Target{}, nil, err
		}
		pat = p
	}

	hospitalActive := false
	if herr == nil {
		h, err := s.hospitals.Lookup(ctx, hospitalID)
		if err != nil && !apperr.IsNotFound(err) {
			return access.Target{}, nil, err
		}
		hospitalActive = h != nil && h.Active()
	}

	if pat == nil {
		return access.NewRecordTarget(patientID, hospitalID, false, false, hospitalActive), nil, nil
	}
	return access.NewRecordTarget(pat.ID, hospitalID, true, pat.Active, hospitalActive), pat, nil
}

func (s *Service) Get(ctx context.Context, caller access.Caller, rawID string) (*Record, error) {
	return s.load(ctx, caller, access.Read(access.KindMedicalRecord), rawID)
}

func (s *Service) List(ctx context.Context, caller access.Caller, f Filter, limit, offset int) ([]*Record, int, error) {
	d, err := s.authz.Check(caller, access.List(access.KindMedicalRecord), access.Class(access.KindMedicalRecord))
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, apperr.Invalid("unknown status filter")
	}
	f.HospitalID = d.HospitalScope
	f.PatientScope = d.PatientScope
	return s.repo.List(ctx, f, limit, offset)
}

// Recent returns the latest non-archived records of a patient without an
// access check. The emergency view uses it after resolving a QR code.
func (s *Service) Recent(ctx context.Context, patientID uuid.UUID, limit int) ([]*Record, error) {
	return s.repo.Recent(ctx, patientID, limit)
}

// Mutate authorizes m against the record, validates it and applies it as
// a single store update.
func (s *Service) Mutate(ctx context.Context, caller access.Caller, rawID string, m Mutation) (*Record, error) {
	rec, err := s.load(ctx, caller, access.Action{Verb: m.Verb(), Kind: access.KindMedicalRecord}, rawID)
	if err != nil {
		return nil, err
	}
	if _, ok := m.(Archive); ok && rec.Status == StatusArchived {
		return rec, nil
	}
	m, err = s.prepare(caller, rec, m)
	if err != nil {
		return nil, err
	}

	out, err := s.repo.Apply(ctx, rec.ID, m)
	if err != nil {
		return nil, err
	}

	switch m := m.(type) {
	case SetStatus:
		s.emit(ctx, events.New(events.RecordStatus, out.ID, caller.SubjectID, map[string]any{
			"from": m.From,
			"to":   m.To,
		}))
	case Archive:
		s.emit(ctx, events.New(events.RecordArchived, out.ID, caller.SubjectID, map[string]any{
			"patient_id": out.PatientID.String(),
		}))
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, caller access.Caller, action access.Action, rawID string) (*Record, error) {
	target := access.Missing(access.KindMedicalRecord)
	var rec *Record
	if id, err := uuid.Parse(rawID); err == nil {
		found, err := s.repo.GetByID(ctx, id)
		switch {
		case err == nil:
			rec = found
			target = rec.Target()
		case !apperr.IsNotFound(err):
			return nil, err
		}
	}
	if _, err := s.authz.Check(caller, action, target); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	events.Emit(ctx, s.events, s.logger, e)
}

// validateNew checks and fills the sections supplied at creation.
func (s *Service) validateNew(caller access.Caller, rec *Record) error {
	var errs errsx.Map
	now := s.now().UTC()

	v := &rec.VisitInfo
	v.ChiefComplaint = middleware.SanitizeString(v.ChiefComplaint)
	v.Department = middleware.SanitizeString(v.Department)
	v.AttendingPhysician = middleware.SanitizeString(v.AttendingPhysician)
	v.ReferredBy = middleware.SanitizeString(v.ReferredBy)
	if v.VisitDate.IsZero() {
		v.VisitDate = now
	}
	if v.VisitType == "" {
		v.VisitType = VisitOutpatient
		if rec.IsEmergency {
			v.VisitType = VisitEmergency
		}
	}
	if !validVisitType(v.VisitType) {
		errs.Set("visit_info.visit_type", "must be outpatient, inpatient, emergency or follow_up")
	}
	if v.ChiefComplaint == "" {
		errs.Set("visit_info.chief_complaint", "is required")
	}
	if v.VisitType == VisitEmergency {
		rec.IsEmergency = true
	}

	switch rec.Status {
	case "":
		rec.Status = StatusDraft
	case StatusDraft, StatusActive:
	default:
		errs.Set("status", "a new record must be draft or active")
	}

	if rec.VitalSigns != nil {
		stampVitals(rec.VitalSigns, caller, now)
		checkVitals(&errs, *rec.VitalSigns)
	}
	if rec.Assessment != nil {
		checkAssessment(&errs, rec.Assessment)
	}
	if rec.Treatment != nil {
		checkTreatment(&errs, rec.Treatment)
	}
	return apperr.Validation(errs)
}

var labStatuses = map[string]bool{"ordered": true, "in_progress": true, "completed": true, "cancelled": true}

// prepare validates m against the current record and fills server-side
// fields such as entry ids, timestamps and authors.
func (s *Service) prepare(caller access.Caller, rec *Record, m Mutation) (Mutation, error) {
	var errs errsx.Map
	now := s.now().UTC()

	switch m := m.(type) {
	case ReplaceVitalSigns:
		stampVitals(&m.VitalSigns, caller, now)
		checkVitals(&errs, m.VitalSigns)
		return m, apperr.Validation(errs)

	case ReplaceAssessment:
		checkAssessment(&errs, &m.Assessment)
		return m, apperr.Validation(errs)

	case ReplaceTreatment:
		checkTreatment(&errs, &m.Treatment)
		return m, apperr.Validation(errs)

	case ReplaceDischarge:
		d := &m.Discharge
		d.Summary = middleware.SanitizeString(d.Summary)
		d.Condition = middleware.SanitizeString(d.Condition)
		d.Instructions = middleware.SanitizeString(d.Instructions)
		if d.Summary == "" {
			errs.Set("summary", "is required")
		}
		if d.DischargeDate.IsZero() {
			d.DischargeDate = now
		}
		if d.FollowUpDate != nil && d.FollowUpDate.Before(d.DischargeDate) {
			errs.Set("follow_up_date", "must not be before the discharge date")
		}
		return m, apperr.Validation(errs)

	case AppendLab:
		l := &m.Lab
		l.ID = uuid.New()
		l.RecordedBy = caller.SubjectID
		l.TestName = middleware.SanitizeString(l.TestName)
		l.Result = middleware.SanitizeString(l.Result)
		if l.TestName == "" {
			errs.Set("test_name", "is required")
		}
		if l.Status == "" {
			l.Status = "ordered"
		} else if !labStatuses[l.Status] {
			errs.Set("status", "must be ordered, in_progress, completed or cancelled")
		}
		if l.OrderedAt.IsZero() {
			l.OrderedAt = now
		}
		return m, apperr.Validation(errs)

	case AppendImaging:
		i := &m.Imaging
		i.ID = uuid.New()
		i.RecordedBy = caller.SubjectID
		i.Modality = middleware.SanitizeString(i.Modality)
		i.BodyPart = middleware.SanitizeString(i.BodyPart)
		i.Findings = middleware.SanitizeString(i.Findings)
		i.Impression = middleware.SanitizeString(i.Impression)
		if i.Modality == "" {
			errs.Set("modality", "is required")
		}
		if i.PerformedAt.IsZero() {
			i.PerformedAt = now
		}
		return m, apperr.Validation(errs)

	case AppendNursingNote:
		n := &m.Note
		n.ID = uuid.New()
		n.RecordedBy = caller.SubjectID
		n.RecordedAt = now
		n.Note = middleware.SanitizeString(n.Note)
		n.Shift = middleware.SanitizeString(n.Shift)
		if n.Note == "" {
			errs.Set("note", "is required")
		}
		return m, apperr.Validation(errs)

	case SetStatus:
		m.From = rec.Status
		switch {
		case m.To == StatusArchived:
			errs.Set("status", "use the archive operation to archive a record")
		case !ValidStatus(m.To):
			errs.Set("status", "must be draft, active or completed")
		case !canTransition(m.From, m.To):
			errs.Set("status", fmt.Sprintf("cannot move a %s record to %s", m.From, m.To))
		}
		return m, apperr.Validation(errs)

	case Archive:
		m.From = rec.Status
		return m, nil
	}
	return nil, fmt.Errorf("unsupported mutation %T", m)
}

func stampVitals(v *VitalSigns, caller access.Caller, now time.Time) {
	v.BloodPressure = middleware.SanitizeString(v.BloodPressure)
	v.RecordedAt = now
	v.RecordedBy = caller.SubjectID
}

func checkVitals(errs *errsx.Map, v VitalSigns) {
	if v.HeartRate < 0 || v.HeartRate > 300 {
		errs.Set("vital_signs.heart_rate", "must be between 0 and 300")
	}
	if v.Temperature != 0 && (v.Temperature < 25 || v.Temperature > 45) {
		errs.Set("vital_signs.temperature", "must be between 25 and 45 degrees Celsius")
	}
	if v.RespiratoryRate < 0 || v.RespiratoryRate > 100 {
		errs.Set("vital_signs.respiratory_rate", "must be between 0 and 100")
	}
	if v.OxygenSaturation < 0 || v.OxygenSaturation > 100 {
		errs.Set("vital_signs.oxygen_saturation", "must be a percentage")
	}
	if v.WeightKg < 0 || v.HeightCm < 0 {
		errs.Set("vital_signs", "weight and height must not be negative")
	}
}

func checkAssessment(errs *errsx.Map, a *Assessment) {
	a.Diagnosis.Primary = middleware.SanitizeString(a.Diagnosis.Primary)
	for i := range a.Diagnosis.Secondary {
		a.Diagnosis.Secondary[i] = middleware.SanitizeString(a.Diagnosis.Secondary[i])
	}
	a.Findings = middleware.SanitizeString(a.Findings)
	a.Notes = middleware.SanitizeString(a.Notes)
	if a.Diagnosis.Primary == "" {
		errs.Set("assessment.diagnosis.primary", "is required")
	}
}

func checkTreatment(errs *errsx.Map, t *Treatment) {
	if t.Medications == nil {
		t.Medications = []Medication{}
	}
	for i := range t.Medications {
		med := &t.Medications[i]
		med.Name = middleware.SanitizeString(med.Name)
		med.Dosage = middleware.SanitizeString(med.Dosage)
		med.Frequency = middleware.SanitizeString(med.Frequency)
		if med.Name == "" {
			errs.Set("treatment.medications", "every medication needs a name")
		}
	}
	t.Instructions = middleware.SanitizeString(t.Instructions)
}
