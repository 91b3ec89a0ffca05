package patient

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/domain/hospital"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/events"
	"github.com/medqr/medqr/internal/platform/middleware"
	"github.com/medqr/medqr/pkg/codes"
	"github.com/medqr/medqr/pkg/phone"
)

// HospitalLookup resolves hospital references without an access check.
type HospitalLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*hospital.Hospital, error)
}

type Service struct {
	repo      Repository
	authz     *access.Authorizer
	hospitals HospitalLookup
	events    events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, authz *access.Authorizer, hospitals HospitalLookup) *Service {
	return &Service{repo: repo, authz: authz, hospitals: hospitals, logger: zerolog.Nop(), now: time.Now}
}

// SetEvents attaches the publisher domain events are sent to.
func (s *Service) SetEvents(p events.Publisher, logger zerolog.Logger) {
	s.events = p
	s.logger = logger
}

// Lookup loads a patient without an access check.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// LookupByQRCode resolves a QR code without an access check. Malformed
// codes are reported as not found without touching the store.
func (s *Service) LookupByQRCode(ctx context.Context, code string) (*Patient, error) {
	if !codes.ValidQRToken(code) {
		return nil, apperr.NotFound("patient")
	}
	return s.repo.GetByQRCode(ctx, code)
}

// Create registers a new patient. The patient number and the first QR code
// are issued here and the number never changes afterwards.
func (s *Service) Create(ctx context.Context, caller access.Caller, in Input) (*Patient, error) {
	if _, err := s.authz.Check(caller, access.Create(access.KindPatient), access.Class(access.KindPatient)); err != nil {
		return nil, err
	}
	if in.PrimaryHospitalID == nil && caller.Role == access.RoleMedicalPersonnel {
		id := caller.HospitalID
		in.PrimaryHospitalID = &id
	}
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	if in.PrimaryHospitalID != nil {
		if err := s.requireHospital(ctx, *in.PrimaryHospitalID, "primary_hospital_id"); err != nil {
			return nil, err
		}
	}

	seq, err := s.repo.NextNumber(ctx)
	if err != nil {
		return nil, err
	}
	qr, err := codes.NewQRToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	p := &Patient{
		PatientNumber:         codes.PatientNumber(seq, now),
		QRCode:                qr,
		Biodata:               in.Biodata,
		MedicalHistory:        in.MedicalHistory,
		EmergencyContact:      in.EmergencyContact,
		EmergencySubscription: in.EmergencySubscription,
		HMO:                   in.HMO,
		PrimaryHospitalID:     in.PrimaryHospitalID,
		RegisteredHospitals:   []Registration{},
		AccessLevel:           in.AccessLevel,
		Active:                true,
	}
	if in.PrimaryHospitalID != nil {
		p.RegisteredHospitals = append(p.RegisteredHospitals,
			Registration{HospitalID: *in.PrimaryHospitalID, RegisteredAt: now, Active: true})
	}
	if caller.SubjectID != uuid.Nil {
		by := caller.SubjectID
		p.CreatedBy = &by
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	s.emit(ctx, events.New(events.PatientCreated, p.ID, caller.SubjectID, map[string]any{
		"patient_number": p.PatientNumber,
	}))
	return p, nil
}

// Get resolves rawID, a UUID or a patient number, and returns the patient
// if caller may read it.
func (s *Service) Get(ctx context.Context, caller access.Caller, rawID string) (*Patient, error) {
	return s.load(ctx, caller, access.Read(access.KindPatient), rawID)
}

// Me returns the patient linked to caller.
func (s *Service) Me(ctx context.Context, caller access.Caller) (*Patient, error) {
	return s.load(ctx, caller, access.Read(access.KindPatient), caller.PatientID.String())
}

func (s *Service) List(ctx context.Context, caller access.Caller, f Filter, limit, offset int) ([]*Patient, int, error) {
	d, err := s.authz.Check(caller, access.List(access.KindPatient), access.Class(access.KindPatient))
	if err != nil {
		return nil, 0, err
	}
	if f.AccessLevel != "" && !ValidAccessLevel(f.AccessLevel) {
		return nil, 0, apperr.Invalid("unknown access_level filter")
	}
	f.HospitalID = d.HospitalScope
	f.PatientID = d.PatientScope
	f.ActiveOnly = caller.Role != access.RoleAdmin
	return s.repo.List(ctx, f, limit, offset)
}

// Update replaces the writable documents of a patient. The patient number
// and QR code are not touched.
func (s *Service) Update(ctx context.Context, caller access.Caller, rawID string, in Input) (*Patient, error) {
	p, err := s.load(ctx, caller, access.Update(access.KindPatient), rawID)
	if err != nil {
		return nil, err
	}
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	if in.PrimaryHospitalID != nil && (p.PrimaryHospitalID == nil || *p.PrimaryHospitalID != *in.PrimaryHospitalID) {
		if err := s.requireHospital(ctx, *in.PrimaryHospitalID, "primary_hospital_id"); err != nil {
			return nil, err
		}
	}
	p.Biodata = in.Biodata
	p.MedicalHistory = in.MedicalHistory
	p.EmergencyContact = in.EmergencyContact
	p.EmergencySubscription = in.EmergencySubscription
	p.HMO = in.HMO
	p.PrimaryHospitalID = in.PrimaryHospitalID
	p.AccessLevel = in.AccessLevel
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Archive deactivates a patient. Patients are never deleted.
func (s *Service) Archive(ctx context.Context, caller access.Caller, rawID string) error {
	p, err := s.load(ctx, caller, access.Archive(access.KindPatient), rawID)
	if err != nil {
		return err
	}
	if !p.Active {
		return nil
	}
	if err := s.repo.SetActive(ctx, p.ID, false); err != nil {
		return err
	}
	s.emit(ctx, events.New(events.PatientDeactivated, p.ID, caller.SubjectID, nil))
	return nil
}

// RegisterHospital links the patient to an active hospital.
func (s *Service) RegisterHospital(ctx context.Context, caller access.Caller, rawID string, hospitalID uuid.UUID) (*Patient, error) {
	p, err := s.load(ctx, caller, access.Update(access.KindPatient), rawID)
	if err != nil {
		return nil, err
	}
	if err := s.requireHospital(ctx, hospitalID, "hospital_id"); err != nil {
		return nil, err
	}
	if p.activeRegistration(hospitalID) {
		return nil, apperr.Conflict("patient is already registered at this hospital")
	}
	if err := s.repo.AddRegistration(ctx, p.ID, Registration{
		HospitalID:   hospitalID,
		RegisteredAt: s.now().UTC(),
		Active:       true,
	}); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, p.ID)
}

// UnregisterHospital marks the patient's registration at the hospital
// inactive. The entry itself is kept.
func (s *Service) UnregisterHospital(ctx context.Context, caller access.Caller, rawID, rawHospitalID string) (*Patient, error) {
	p, err := s.load(ctx, caller, access.Update(access.KindPatient), rawID)
	if err != nil {
		return nil, err
	}
	hospitalID, err := uuid.Parse(rawHospitalID)
	if err != nil || !p.activeRegistration(hospitalID) {
		return nil, apperr.NotFound("hospital registration")
	}
	if err := s.repo.DeactivateRegistration(ctx, p.ID, hospitalID); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, p.ID)
}

// QRCode returns the patient's current QR code.
func (s *Service) QRCode(ctx context.Context, caller access.Caller, rawID string) (*QRCode, error) {
	p, err := s.load(ctx, caller, access.Read(access.KindPatient), rawID)
	if err != nil {
		return nil, err
	}
	return qrOf(p), nil
}

// RegenerateQRCode issues a new QR code. The old code stops resolving as
// soon as the update commits.
func (s *Service) RegenerateQRCode(ctx context.Context, caller access.Caller, rawID string) (*QRCode, error) {
	p, err := s.load(ctx, caller, access.Update(access.KindPatient), rawID)
	if err != nil {
		return nil, err
	}
	code, err := codes.NewQRToken()
	if err != nil {
		return nil, err
	}
	at, err := s.repo.ReplaceQRCode(ctx, p.ID, code)
	if err != nil {
		return nil, err
	}
	p.QRCode = code
	p.QRGeneratedAt = at

	s.emit(ctx, events.New(events.QRRegenerated, p.ID, caller.SubjectID, map[string]any{
		"patient_number": p.PatientNumber,
	}))
	return qrOf(p), nil
}

// Scan resolves a QR code for an authenticated caller and returns the
// patient if caller may read it.
func (s *Service) Scan(ctx context.Context, caller access.Caller, code string) (*Patient, error) {
	target := access.Missing(access.KindPatient)
	p, err := s.LookupByQRCode(ctx, code)
	switch {
	case err == nil:
		target = p.Target()
	case !apperr.IsNotFound(err):
		return nil, err
	}
	if _, err := s.authz.Check(caller, access.Read(access.KindPatient), target); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) load(ctx context.Context, caller access.Caller, action access.Action, rawID string) (*Patient, error) {
	target := access.Missing(access.KindPatient)
	var p *Patient
	var err error
	if id, perr := uuid.Parse(rawID); perr == nil {
		p, err = s.repo.GetByID(ctx, id)
	} else if codes.IsPatientNumber(rawID) {
		p, err = s.repo.GetByNumber(ctx, rawID)
	} else {
		err = apperr.NotFound("patient")
	}
	switch {
	case err == nil:
		target = p.Target()
	case !apperr.IsNotFound(err):
		return nil, err
	}
	if _, err := s.authz.Check(caller, action, target); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) requireHospital(ctx context.Context, id uuid.UUID, field string) error {
	h, err := s.hospitals.Lookup(ctx, id)
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}
	if err != nil || !h.Active() {
		var errs errsx.Map
		errs.Set(field, "unknown or inactive hospital")
		return apperr.Validation(errs)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, e events.Event) {
	events.Emit(ctx, s.events, s.logger, e)
}

func qrOf(p *Patient) *QRCode {
	return &QRCode{
		PatientID:     p.ID,
		PatientNumber: p.PatientNumber,
		QRCode:        p.QRCode,
		GeneratedAt:   p.QRGeneratedAt,
	}
}

var (
	genders    = set("male", "female", "other")
	bloodTypes = set("A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-")
	genotypes  = set("AA", "AS", "AC", "SS", "SC", "CC")
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// normalize cleans and validates in. Free text is sanitized, phone
// numbers are stored in E.164 and the access level defaults to full.
func (s *Service) normalize(in *Input) error {
	var errs errsx.Map
	b := &in.Biodata

	b.FirstName = middleware.SanitizeString(b.FirstName)
	b.MiddleName = middleware.SanitizeString(b.MiddleName)
	b.LastName = middleware.SanitizeString(b.LastName)
	b.Occupation = middleware.SanitizeString(b.Occupation)
	b.Nationality = middleware.SanitizeString(b.Nationality)
	if b.FirstName == "" {
		errs.Set("biodata.first_name", "is required")
	}
	if b.LastName == "" {
		errs.Set("biodata.last_name", "is required")
	}
	if dob, err := time.Parse(time.DateOnly, b.DateOfBirth); err != nil {
		errs.Set("biodata.date_of_birth", "must be a date in YYYY-MM-DD form")
	} else if dob.After(s.now()) {
		errs.Set("biodata.date_of_birth", "must not be in the future")
	}
	b.Gender = strings.ToLower(strings.TrimSpace(b.Gender))
	if b.Gender != "" && !genders[b.Gender] {
		errs.Set("biodata.gender", "must be male, female or other")
	}
	b.BloodGroup = strings.ToUpper(strings.TrimSpace(b.BloodGroup))
	if b.BloodGroup != "" && !bloodTypes[b.BloodGroup] {
		errs.Set("biodata.blood_group", "is not a known blood group")
	}
	b.Genotype = strings.ToUpper(strings.TrimSpace(b.Genotype))
	if b.Genotype != "" && !genotypes[b.Genotype] {
		errs.Set("biodata.genotype", "is not a known genotype")
	}
	if p, err := phone.Normalize(b.Phone); err != nil {
		errs.Set("biodata.phone", err)
	} else {
		b.Phone = p
	}
	if b.Email != "" {
		if addr, err := mail.ParseAddress(b.Email); err != nil {
			errs.Set("biodata.email", "is not a valid address")
		} else {
			b.Email = strings.ToLower(addr.Address)
		}
	}

	c := &in.EmergencyContact
	c.Name = middleware.SanitizeString(c.Name)
	c.Relationship = middleware.SanitizeString(c.Relationship)
	if p, err := phone.Normalize(c.Phone); err != nil {
		errs.Set("emergency_contact.phone", err)
	} else {
		c.Phone = p
	}

	h := &in.MedicalHistory
	for i := range h.Allergies {
		h.Allergies[i].Allergen = middleware.SanitizeString(h.Allergies[i].Allergen)
		h.Allergies[i].Reaction = middleware.SanitizeString(h.Allergies[i].Reaction)
		if h.Allergies[i].Allergen == "" {
			errs.Set("medical_history.allergies", "every allergy needs an allergen")
		}
	}
	for i := range h.ChronicIllnesses {
		h.ChronicIllnesses[i].Condition = middleware.SanitizeString(h.ChronicIllnesses[i].Condition)
		if h.ChronicIllnesses[i].Condition == "" {
			errs.Set("medical_history.chronic_illnesses", "every illness needs a condition")
		}
	}
	h.FamilyHistory = middleware.SanitizeString(h.FamilyHistory)
	if h.Allergies == nil {
		h.Allergies = []Allergy{}
	}
	if h.ChronicIllnesses == nil {
		h.ChronicIllnesses = []ChronicIllness{}
	}
	if h.Surgeries == nil {
		h.Surgeries = []Surgery{}
	}
	if h.Medications == nil {
		h.Medications = []string{}
	}

	if in.AccessLevel == "" {
		in.AccessLevel = AccessFull
	} else if !ValidAccessLevel(in.AccessLevel) {
		errs.Set("access_level", "must be full, limited or emergency_only")
	}

	return apperr.Validation(errs)
}
