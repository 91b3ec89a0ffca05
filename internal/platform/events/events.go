// Package events publishes domain events. Publishing is best-effort: a
// failed publish is logged by the caller and never rolls back the change
// that produced the event.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	PatientCreated     = "patient.created"
	PatientDeactivated = "patient.deactivated"
	QRRegenerated      = "patient.qr_regenerated"
	RecordCreated      = "medical_record.created"
	RecordStatus       = "medical_record.status_changed"
	RecordArchived     = "medical_record.archived"
	EmergencyScanned   = "emergency.scanned"
	UserDeactivated    = "user.deactivated"
	AuditAccess        = "audit.phi_access"
)

// Event is the envelope written to the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Subject   string         `json:"subject,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func newID() string { return uuid.NewString() }

// New stamps an event with a fresh id and the current time. A nil actor
// is left empty.
func New(eventType string, subject, actor uuid.UUID, data map[string]any) Event {
	e := Event{
		ID:        newID(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if subject != uuid.Nil {
		e.Subject = subject.String()
	}
	if actor != uuid.Nil {
		e.ActorID = actor.String()
	}
	return e
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log only. It is used when no broker
// is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID).
		Str("event_type", e.Type).
		Str("subject", e.Subject).
		Str("actor_id", e.ActorID).
		Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Observed wraps a publisher and reports every attempt to observe.
func Observed(p Publisher, observe func(eventType string, err error)) Publisher {
	return &observed{Publisher: p, observe: observe}
}

type observed struct {
	Publisher
	observe func(string, error)
}

func (o *observed) Publish(ctx context.Context, e Event) error {
	err := o.Publisher.Publish(ctx, e)
	o.observe(e.Type, err)
	return err
}

// Emit publishes e and logs a failure instead of returning it. A nil
// publisher drops the event.
func Emit(ctx context.Context, p Publisher, logger zerolog.Logger, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn().Err(err).
			Str("event_id", e.ID).
			Str("event_type", e.Type).
			Msg("publish event failed")
	}
}
