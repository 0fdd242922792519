package settings

import "context"

type Repository interface {
	// Get returns the stored settings or an apperr.ErrNotFound error.
	Get(ctx context.Context) (*Settings, error)
	Upsert(ctx context.Context, s *Settings) error
}
