package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// NextNumber draws the next value of the patient number sequence.
	NextNumber(ctx context.Context) (int64, error)
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByNumber(ctx context.Context, number string) (*Patient, error)
	GetByQRCode(ctx context.Context, code string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// AddRegistration appends an active registration unless one for the
	// hospital is already active, in which case it returns a conflict.
	AddRegistration(ctx context.Context, id uuid.UUID, reg Registration) error
	// DeactivateRegistration clears the active flag of the hospital's
	// registration entry.
	DeactivateRegistration(ctx context.Context, id, hospitalID uuid.UUID) error
	// ReplaceQRCode swaps the QR code in one statement and returns the new
	// generation time. The previous code stops resolving immediately.
	ReplaceQRCode(ctx context.Context, id uuid.UUID, code string) (time.Time, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error)
}
