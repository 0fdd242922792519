package worker

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, w *Worker) error
	GetByID(ctx context.Context, id uuid.UUID) (*Worker, error)
	GetByUsername(ctx context.Context, username string) (*Worker, error)
	Update(ctx context.Context, w *Worker) error
	Delete(ctx context.Context, id uuid.UUID) error
	TouchLogin(ctx context.Context, id uuid.UUID) error
	CountWithAccess(ctx context.Context) (int, error)
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Worker, int, error)
}
