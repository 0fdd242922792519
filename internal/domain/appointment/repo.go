package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts the appointment and its lines.
	Create(ctx context.Context, a *Appointment) error
	// GetByID returns the appointment with its lines and paid amount.
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes the editable fields and replaces the lines.
	Update(ctx context.Context, a *Appointment) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	// Cancel marks the appointment canceled with reason.
	Cancel(ctx context.Context, id uuid.UUID, reason *string) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Appointment, int, error)
	// ListDueReminders returns registered, not yet reminded appointments
	// scheduled in [from, to).
	ListDueReminders(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
	WorkerStats(ctx context.Context, workerID uuid.UUID, from, to *time.Time) (*WorkerStats, error)
}
