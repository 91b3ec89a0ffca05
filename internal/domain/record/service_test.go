package record

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hengadev/errsx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medqr/medqr/internal/domain/hospital"
	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/events"
)

// -- Mock Repository --

func clone(r *Record) *Record { return Apply(r, SetStatus{To: r.Status}) }

type mockRepo struct {
	records map[uuid.UUID]*Record
	clock   time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*Record), clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *mockRepo) Create(_ context.Context, r *Record) error {
	r.ID = uuid.New()
	m.clock = m.clock.Add(time.Minute)
	r.CreatedAt = m.clock
	r.UpdatedAt = m.clock
	m.records[r.ID] = clone(r)
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("medical record")
	}
	return clone(r), nil
}

func (m *mockRepo) Apply(_ context.Context, id uuid.UUID, mut Mutation) (*Record, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.NotFound("medical record")
	}
	switch mut := mut.(type) {
	case SetStatus:
		if r.Status != mut.From {
			return nil, apperr.Conflict("record status changed concurrently")
		}
	case Archive:
		if r.Status != mut.From {
			return nil, apperr.Conflict("record status changed concurrently")
		}
	}
	next := Apply(r, mut)
	m.records[id] = next
	return clone(next), nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Record, int, error) {
	var out []*Record
	for _, r := range m.records {
		if f.HospitalID != uuid.Nil && r.HospitalID != f.HospitalID {
			continue
		}
		if f.PatientScope != uuid.Nil && r.PatientID != f.PatientScope {
			continue
		}
		if f.PatientID != uuid.Nil && r.PatientID != f.PatientID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.IsEmergency != nil && r.IsEmergency != *f.IsEmergency {
			continue
		}
		out = append(out, r)
	}
	return out, len(out), nil
}

func (m *mockRepo) Recent(_ context.Context, patientID uuid.UUID, limit int) ([]*Record, error) {
	var out []*Record
	for _, r := range m.records {
		if r.PatientID == patientID && r.Status != StatusArchived {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitInfo.VisitDate.After(out[j].VisitInfo.VisitDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -- Mock Lookups --

type patients map[uuid.UUID]*patient.Patient

func (m patients) Lookup(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	return p, nil
}

type hospitals map[uuid.UUID]*hospital.Hospital

func (m hospitals) Lookup(_ context.Context, id uuid.UUID) (*hospital.Hospital, error) {
	h, ok := m[id]
	if !ok {
		return nil, apperr.NotFound("hospital")
	}
	return h, nil
}

type recordingPublisher struct{ types []string }

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.types = append(p.types, e.Type)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// -- Fixtures --

type fixture struct {
	svc       *Service
	repo      *mockRepo
	patients  patients
	hospitals hospitals
	pub       *recordingPublisher
	hospA     uuid.UUID
	hospB     uuid.UUID
	pat       *patient.Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      newMockRepo(),
		patients:  patients{},
		hospitals: hospitals{},
		pub:       &recordingPublisher{},
	}
	f.hospA = f.addHospital(hospital.StatusActive)
	f.hospB = f.addHospital(hospital.StatusActive)
	f.pat = f.addPatient(f.hospA)
	f.svc = NewService(f.repo, access.NewAuthorizer(), f.patients, f.hospitals)
	f.svc.SetEvents(f.pub, zerolog.Nop())
	return f
}

func (f *fixture) addHospital(status string) uuid.UUID {
	id := uuid.New()
	f.hospitals[id] = &hospital.Hospital{ID: id, Status: status}
	return id
}

func (f *fixture) addPatient(primary uuid.UUID) *patient.Patient {
	p := &patient.Patient{ID: uuid.New(), PrimaryHospitalID: &primary, Active: true, AccessLevel: patient.AccessFull}
	f.patients[p.ID] = p
	return p
}

var admin = access.Caller{SubjectID: uuid.New(), Role: access.RoleAdmin, Active: true}

func personnel(hospitalID uuid.UUID) access.Caller {
	return access.Caller{SubjectID: uuid.New(), Role: access.RoleMedicalPersonnel, Active: true, HospitalID: hospitalID, HospitalActive: true}
}

func patientCaller(id uuid.UUID) access.Caller {
	return access.Caller{SubjectID: uuid.New(), Role: access.RolePatient, Active: true, PatientID: id}
}

func (f *fixture) create(t *testing.T, c access.Caller) *Record {
	t.Helper()
	rec, err := f.svc.Create(context.Background(), c, CreateInput{
		PatientID: f.pat.ID.String(),
		VisitInfo: VisitInfo{ChiefComplaint: "  chest pain\x00 "},
	})
	require.NoError(t, err)
	return rec
}

func reason(t *testing.T, err error) access.Reason {
	t.Helper()
	r, ok := access.DenialReason(err)
	require.Truef(t, ok, "expected a denial, got %v", err)
	return r
}

func fieldErrors(t *testing.T, err error) errsx.Map {
	t.Helper()
	var fields errsx.Map
	require.Truef(t, errors.As(err, &fields), "expected validation errors, got %v", err)
	return fields
}

// -- Tests --

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t)
	mp := personnel(f.hospA)
	rec := f.create(t, mp)

	assert.Equal(t, f.hospA, rec.HospitalID)
	assert.Equal(t, mp.SubjectID, rec.CreatedBy)
	assert.Equal(t, StatusDraft, rec.Status)
	assert.Equal(t, VisitOutpatient, rec.VisitInfo.VisitType)
	assert.Equal(t, "chest pain", rec.VisitInfo.ChiefComplaint)
	assert.False(t, rec.VisitInfo.VisitDate.IsZero())
	assert.Equal(t, []string{events.RecordCreated}, f.pub.types)
}

func TestCreate_EmergencyVisit(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.Create(context.Background(), personnel(f.hospA), CreateInput{
		PatientID: f.pat.ID.String(),
		VisitInfo: VisitInfo{VisitType: VisitEmergency, ChiefComplaint: "trauma"},
	})
	require.NoError(t, err)
	assert.True(t, rec.IsEmergency)
}

func TestCreate_Denials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	suspended := f.addHospital(hospital.StatusSuspended)
	inactive := f.addPatient(f.hospA)
	inactive.Active = false

	tests := []struct {
		name   string
		caller access.Caller
		in     CreateInput
		want   access.Reason
	}{
		{"unknown patient", personnel(f.hospA), CreateInput{PatientID: uuid.NewString()}, access.ReasonNotFound},
		{"malformed patient", personnel(f.hospA), CreateInput{PatientID: "x"}, access.ReasonNotFound},
		{"inactive patient", personnel(f.hospA), CreateInput{PatientID: inactive.ID.String()}, access.ReasonNotFound},
		{"suspended hospital", admin, CreateInput{PatientID: f.pat.ID.String(), HospitalID: suspended.String()}, access.ReasonNotFound},
		{"other hospital", personnel(f.hospB), CreateInput{PatientID: f.pat.ID.String(), HospitalID: f.hospA.String()}, access.ReasonForbidden},
		{"patient role", patientCaller(f.pat.ID), CreateInput{PatientID: f.pat.ID.String(), HospitalID: f.hospA.String()}, access.ReasonForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.VisitInfo.ChiefComplaint = "x"
			_, err := f.svc.Create(ctx, tt.caller, tt.in)
			assert.Equal(t, tt.want, reason(t, err))
		})
	}
}

func TestCreate_PatientNotRegisteredAtHospital(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), personnel(f.hospB), CreateInput{
		PatientID: f.pat.ID.String(),
		VisitInfo: VisitInfo{ChiefComplaint: "fever"},
	})
	assert.Contains(t, fieldErrors(t, err), "hospital_id")

	f.pat.RegisteredHospitals = append(f.pat.RegisteredHospitals, patient.Registration{HospitalID: f.hospB, Active: false})
	_, err = f.svc.Create(context.Background(), personnel(f.hospB), CreateInput{
		PatientID: f.pat.ID.String(),
		VisitInfo: VisitInfo{ChiefComplaint: "fever"},
	})
	assert.NoError(t, err, "a past registration is enough")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), personnel(f.hospA), CreateInput{
		PatientID:  f.pat.ID.String(),
		Status:     StatusCompleted,
		VisitInfo:  VisitInfo{VisitType: "spa"},
		VitalSigns: &VitalSigns{HeartRate: 900, OxygenSaturation: 120},
		Assessment: &Assessment{},
	})
	fields := fieldErrors(t, err)
	for _, key := range []string{"status", "visit_info.visit_type", "visit_info.chief_complaint",
		"vital_signs.heart_rate", "vital_signs.oxygen_saturation", "assessment.diagnosis.primary"} {
		assert.Contains(t, fields, key)
	}

	_, err = f.svc.Create(context.Background(), admin, CreateInput{PatientID: f.pat.ID.String()})
	assert.Contains(t, fieldErrors(t, err), "hospital_id")
}

func TestGet_CrossHospitalIsNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, personnel(f.hospA))
	ctx := context.Background()

	_, err := f.svc.Get(ctx, personnel(f.hospA), rec.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, personnel(f.hospB), rec.ID.String())
	assert.Equal(t, access.ReasonNotFound, reason(t, err))

	_, err = f.svc.Mutate(ctx, personnel(f.hospB), rec.ID.String(), AppendNursingNote{Note: NursingNote{Note: "x"}})
	assert.Equal(t, access.ReasonNotFound, reason(t, err))

	_, err = f.svc.Get(ctx, patientCaller(f.pat.ID), rec.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, patientCaller(uuid.New()), rec.ID.String())
	assert.Equal(t, access.ReasonNotFound, reason(t, err))
}

func TestMutate_PatientCannotWriteOwnRecord(t *testing.T) {
	f := newFixture(t)
	rec := f.create(t, personnel(f.hospA))

	_, err := f.svc.Mutate(context.Background(), patientCaller(f.pat.ID), rec.ID.String(), SetStatus{To: StatusActive})
	assert.Equal(t, access.ReasonForbidden, reason(t, err))
}

func TestMutate_Appends(t *testing.T) {
	f := newFixture(t)
	mp := personnel(f.hospA)
	rec := f.create(t, mp)
	ctx := context.Background()

	_, err := f.svc.Mutate(ctx, mp, rec.ID.String(), AppendLab{Lab: Lab{TestName: "FBC"}})
	require.NoError(t, err)
	got, err := f.svc.Mutate(ctx, mp, rec.ID.String(), AppendLab{Lab: Lab{TestName: "Malaria parasite", Status: "completed", Result: "negative"}})
	require.NoError(t, err)

	require.Len(t, got.Labs, 2)
	assert.NotEqual(t, got.Labs[0].ID, got.Labs[1].ID)
	assert.Equal(t, "ordered", got.Labs[0].Status)
	assert.Equal(t, mp.SubjectID, got.Labs[1].RecordedBy)

	got, err = f.svc.Mutate(ctx, mp, rec.ID.String(), AppendNursingNote{Note: NursingNote{Note: "Patient stable", Shift: "night"}})
	require.NoError(t, err)
	assert.Len(t, got.NursingNotes, 1)

	got, err = f.svc.Mutate(ctx, mp, rec.ID.String(), AppendImaging{Imaging: Imaging{Modality: "X-ray", BodyPart: "chest"}})
	require.NoError(t, err)
	assert.Len(t, got.Imaging, 1)

	_, err = f.svc.Mutate(ctx, mp, rec.ID.String(), AppendLab{Lab: Lab{Status: "lost"}})
	fields := fieldErrors(t, err)
	assert.Contains(t, fields, "test_name")
	assert.Contains(t, fields, "status")
}

func TestMutate_ReplaceSections(t *testing.T) {
	f := newFixture(t)
	mp := personnel(f.hospA)
	rec := f.create(t, mp)
	ctx := context.Background()

	got, err := f.svc.Mutate(ctx, mp, rec.ID.String(), ReplaceVitalSigns{VitalSigns: VitalSigns{BloodPressure: "120/80", HeartRate: 72, Temperature: 36.8}})
	require.NoError(t, err)
	require.NotNil(t, got.VitalSigns)
	assert.Equal(t, mp.SubjectID, got.VitalSigns.RecordedBy)

	got, err = f.svc.Mutate(ctx, mp, rec.ID.String(), ReplaceAssessment{Assessment: Assessment{Diagnosis: Diagnosis{Primary: "Malaria"}}})
	require.NoError(t, err)
	assert.Equal(t, "Malaria", got.Assessment.Diagnosis.Primary)

	got, err = f.svc.Mutate(ctx, mp, rec.ID.String(), ReplaceTreatment{Treatment: Treatment{Medications: []Medication{{Name: "Artemether", Dosage: "80mg"}}}})
	require.NoError(t, err)
	assert.Len(t, got.Treatment.Medications, 1)

	past := time.Now().Add(-72 * time.Hour)
	_, err = f.svc.Mutate(ctx, mp, rec.ID.String(), ReplaceDischarge{Discharge: Discharge{Summary: "Recovered", FollowUpDate: &past}})
	assert.Contains(t, fieldErrors(t, err), "follow_up_date")

	got, err = f.svc.Mutate(ctx, mp, rec.ID.String(), ReplaceDischarge{Discharge: Discharge{Summary: "Recovered"}})
	require.NoError(t, err)
	assert.False(t, got.Discharge.DischargeDate.IsZero())
}

func TestMutate_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	mp := personnel(f.hospA)
	rec := f.create(t, mp)
	ctx := context.Background()
	id := rec.ID.String()

	steps := []struct {
		to string
		ok bool
	}{
		{StatusDraft, false},
		{StatusActive, true},
		{StatusDraft, false},
		{StatusCompleted, true},
		{StatusActive, true},
		{StatusArchived, false},
		{"deleted", false},
	}
	for _, s := range steps {
		_, err := f.svc.Mutate(ctx, mp, id, SetStatus{To: s.to})
		if s.ok {
			require.NoErrorf(t, err, "to %s", s.to)
		} else {
			assert.Containsf(t, fieldErrors(t, err), "status", "to %s", s.to)
		}
	}
	assert.Contains(t, f.pub.types, events.RecordStatus)
}

func TestArchive_ReadOnlyForNonAdmins(t *testing.T) {
	f := newFixture(t)
	mp := personnel(f.hospA)
	rec := f.create(t, mp)
	ctx := context.Background()
	id := rec.ID.String()

	got, err := f.svc.Mutate(ctx, mp, id, Archive{})
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, got.Status)
	assert.Contains(t, f.pub.types, events.RecordArchived)

	_, err = f.svc.Get(ctx, mp, id)
	assert.NoError(t, err, "archived records stay readable")

	_, err = f.svc.Mutate(ctx, mp, id, AppendNursingNote{Note: NursingNote{Note: "late entry"}})
	assert.Equal(t, access.ReasonForbidden, reason(t, err))

	_, err = f.svc.Mutate(ctx, mp, id, Archive{})
	assert.Equal(t, access.ReasonForbidden, reason(t, err))

	_, err = f.svc.Mutate(ctx, mp, id, SetStatus{To: StatusActive})
	assert.Equal(t, access.ReasonForbidden, reason(t, err))

	again, err := f.svc.Mutate(ctx, admin, id, Archive{})
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, again.Status)

	got, err = f.svc.Mutate(ctx, admin, id, SetStatus{To: StatusActive})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
}

func TestList_Scoped(t *testing.T) {
	f := newFixture(t)
	other := f.addPatient(f.hospB)
	f.create(t, personnel(f.hospA))
	_, err := f.svc.Create(context.Background(), personnel(f.hospB), CreateInput{
		PatientID: other.ID.String(),
		VisitInfo: VisitInfo{ChiefComplaint: "cough", VisitType: VisitEmergency},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, total, err := f.svc.List(ctx, personnel(f.hospA), Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, total, err = f.svc.List(ctx, admin, Filter{}, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	yes := true
	items, total, err := f.svc.List(ctx, admin, Filter{IsEmergency: &yes}, 20, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, other.ID, items[0].PatientID)

	items, _, err = f.svc.List(ctx, patientCaller(f.pat.ID), Filter{PatientID: other.ID}, 20, 0)
	require.NoError(t, err)
	assert.Empty(t, items, "a patient never sees another patient's records")

	_, _, err = f.svc.List(ctx, admin, Filter{Status: "lost"}, 20, 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestMutation_Verbs(t *testing.T) {
	assert.Equal(t, access.VerbArchive, Archive{}.Verb())
	for _, m := range []Mutation{ReplaceVitalSigns{}, ReplaceAssessment{}, ReplaceTreatment{}, ReplaceDischarge{},
		AppendLab{}, AppendImaging{}, AppendNursingNote{}, SetStatus{}} {
		assert.Equalf(t, access.VerbUpdate, m.Verb(), "%T", m)
	}
}
