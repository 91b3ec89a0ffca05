package record

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	// Apply performs m as one statement and returns the updated record.
	// Status changes that lost a race return a conflict.
	Apply(ctx context.Context, id uuid.UUID, m Mutation) (*Record, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Record, int, error)
	// Recent returns up to limit non-archived records of a patient, most
	// recent visit first.
	Recent(ctx context.Context, patientID uuid.UUID, limit int) ([]*Record, error)
}
