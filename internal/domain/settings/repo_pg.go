package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Get(ctx context.Context) (*Settings, error) {
	var raw []byte
	var updated time.Time
	err := r.conn(ctx).QueryRow(ctx, `SELECT data, updated_at FROM clinic_settings WHERE id = 1`).Scan(&raw, &updated)
	if err != nil {
		return nil, apperr.FromDB(err, "settings")
	}
	s := &Settings{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	s.UpdatedAt = &updated
	return s, nil
}

func (r *repoPG) Upsert(ctx context.Context, s *Settings) error {
	doc := *s
	doc.UpdatedAt = nil
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	var updated time.Time
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinic_settings (id, data, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
		RETURNING updated_at`, raw).Scan(&updated)
	if err != nil {
		return err
	}
	s.UpdatedAt = &updated
	return nil
}
