package hospital

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the persistence interface for hospitals.
type Repository interface {
	Create(ctx context.Context, h *Hospital) error
	GetByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	Update(ctx context.Context, h *Hospital) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Hospital, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}
