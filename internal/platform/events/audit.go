package events

import (
	"context"
	"time"

	"github.com/medqr/medqr/internal/platform/middleware"
)

const auditPublishTimeout = 2 * time.Second

// AuditRecorder forwards audit entries from the HTTP middleware to p.
func AuditRecorder(p Publisher) middleware.AuditRecorder {
	return middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		ctx, cancel := context.WithTimeout(context.Background(), auditPublishTimeout)
		defer cancel()

		subject := entry.PatientID
		if subject == "" {
			subject = entry.ResourceID
		}
		return p.Publish(ctx, Event{
			ID:        newID(),
			Type:      AuditAccess,
			Subject:   subject,
			ActorID:   entry.UserID,
			Timestamp: entry.Timestamp,
			Data: map[string]any{
				"role":          entry.Role,
				"resource_type": entry.ResourceType,
				"resource_id":   entry.ResourceID,
				"action":        entry.Action,
				"method":        entry.Method,
				"path":          entry.Path,
				"status":        entry.StatusCode,
				"ip_address":    entry.IPAddress,
				"request_id":    entry.RequestID,
			},
		})
	})
}
