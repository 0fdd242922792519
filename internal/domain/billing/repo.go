package billing

import (
	"context"

	"github.com/google/uuid"
)

type AbonoRepository interface {
	Create(ctx context.Context, a *Abono) error
	GetByID(ctx context.Context, id uuid.UUID) (*Abono, error)
	// GetForUpdate reads the abono and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Abono, error)
	// Save writes the remaining amount and status.
	Save(ctx context.Context, a *Abono) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Abono, int, error)
	CreateUsage(ctx context.Context, u *AbonoUsage) error
	ListUsagesByAbono(ctx context.Context, abonoID uuid.UUID) ([]*AbonoUsage, error)
	ListUsagesByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*AbonoUsage, error)
	MarkUsageReversed(ctx context.Context, usageID uuid.UUID) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	MarkVoided(ctx context.Context, p *Payment) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Payment, int, error)
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error)
	ListBySale(ctx context.Context, saleID uuid.UUID) ([]*Payment, error)
}

type SaleRepository interface {
	// Create inserts the sale and its items.
	Create(ctx context.Context, s *Sale) error
	// GetByID returns the sale with its items.
	GetByID(ctx context.Context, id uuid.UUID) (*Sale, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Sale, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Sale, int, error)
}
