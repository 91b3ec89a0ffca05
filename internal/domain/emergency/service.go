// Package emergency serves the public QR lookups used by first responders.
// The QR code is the only credential; what it reveals is limited to the
// emergency snapshot and, unless the patient restricted it, a short list
// of record summaries.
package emergency

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medqr/medqr/internal/domain/patient"
	"github.com/medqr/medqr/internal/domain/record"
	"github.com/medqr/medqr/internal/platform/access"
	"github.com/medqr/medqr/internal/platform/apperr"
	"github.com/medqr/medqr/internal/platform/events"
	"github.com/medqr/medqr/internal/platform/view"
)

// Scan results reported to the observer.
const (
	ResultOK         = "ok"
	ResultNotFound   = "not_found"
	ResultRestricted = "restricted"
	ResultError      = "error"
)

type PatientSource interface {
	LookupByQRCode(ctx context.Context, code string) (*patient.Patient, error)
}

type RecordSource interface {
	Recent(ctx context.Context, patientID uuid.UUID, limit int) ([]*record.Record, error)
}

// Observer is told the view and outcome of every lookup.
type Observer func(view, result string)

type Service struct {
	patients PatientSource
	records  RecordSource
	proj     *view.Projector
	observe  Observer
	events   events.Publisher
	logger   zerolog.Logger
}

func NewService(patients PatientSource, records RecordSource, proj *view.Projector) *Service {
	return &Service{
		patients: patients,
		records:  records,
		proj:     proj,
		observe:  func(string, string) {},
		logger:   zerolog.Nop(),
	}
}

func (s *Service) SetObserver(o Observer) {
	if o != nil {
		s.observe = o
	}
}

// SetEvents attaches the publisher scan events are sent to.
func (s *Service) SetEvents(p events.Publisher, logger zerolog.Logger) {
	s.events = p
	s.logger = logger
}

// Snapshot returns the emergency snapshot of the patient the code belongs to.
func (s *Service) Snapshot(ctx context.Context, code string) (view.PartialView, error) {
	p, err := s.resolve(ctx, code, view.EmergencySnapshot)
	if err != nil {
		return nil, err
	}
	v, err := s.proj.Project(p, view.EmergencySnapshot)
	if err != nil {
		s.observe(string(view.EmergencySnapshot), ResultError)
		return nil, err
	}
	s.scanned(ctx, p, view.EmergencySnapshot)
	return v, nil
}

// Records returns summaries of the patient's most recent records. Patients
// with the emergency_only access level get a restricted-access denial.
func (s *Service) Records(ctx context.Context, code string) ([]view.PartialView, error) {
	p, err := s.resolve(ctx, code, view.RecordSummary)
	if err != nil {
		return nil, err
	}
	// Checked before loading so restricted patients cost no record query.
	if p.AccessLevel == patient.AccessEmergencyOnly {
		s.observe(string(view.RecordSummary), ResultRestricted)
		return nil, access.Deny(access.Read(access.KindMedicalRecord), access.ReasonRestrictedAccessLevel)
	}
	recs, err := s.records.Recent(ctx, p.ID, view.MaxRecordSummaries)
	if err != nil {
		s.observe(string(view.RecordSummary), ResultError)
		return nil, err
	}
	out, err := s.proj.RecordSummaries(p, recs)
	if err != nil {
		if _, denied := access.DenialReason(err); denied {
			s.observe(string(view.RecordSummary), ResultRestricted)
		} else {
			s.observe(string(view.RecordSummary), ResultError)
		}
		return nil, err
	}
	s.scanned(ctx, p, view.RecordSummary)
	return out, nil
}

// resolve maps a code to an active patient. Unknown, malformed and
// deactivated all look the same to the caller.
func (s *Service) resolve(ctx context.Context, code string, name view.Name) (*patient.Patient, error) {
	p, err := s.patients.LookupByQRCode(ctx, code)
	switch {
	case err == nil && p.Active:
		return p, nil
	case err == nil || apperr.IsNotFound(err):
		s.observe(string(name), ResultNotFound)
		return nil, apperr.NotFound("patient")
	}
	s.observe(string(name), ResultError)
	return nil, err
}

func (s *Service) scanned(ctx context.Context, p *patient.Patient, name view.Name) {
	s.observe(string(name), ResultOK)
	events.Emit(ctx, s.events, s.logger, events.New(events.EmergencyScanned, p.ID, uuid.Nil, map[string]any{
		"view": string(name),
	}))
}
