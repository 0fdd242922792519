package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/search"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const workerCols = `id, first_name, last_name, document_type, document_number, phone, email,
	specialization, role, active, has_system_access, username, COALESCE(password_hash, ''),
	last_login_at, created_at, updated_at`

var searchConfig = search.Config{
	Params: map[string]search.ParamConfig{
		"search":            {Type: search.Text, Columns: []string{"first_name", "last_name", "first_name || ' ' || last_name", "document_number", "username"}},
		"specialization":    {Type: search.Text, Column: "specialization"},
		"role":              {Type: search.Exact, Column: "role", Values: map[string]bool{"admin": true, "receptionist": true, "practitioner": true}},
		"active":            {Type: search.Bool, Column: "active"},
		"has_system_access": {Type: search.Bool, Column: "has_system_access"},
	},
	Sorts: map[string]string{
		"first_name": "first_name",
		"last_name":  "last_name",
		"created_at": "created_at",
	},
	DefaultOrder: "last_name ASC, first_name ASC",
}

func scanWorker(row pgx.Row) (*Worker, error) {
	var w Worker
	err := row.Scan(&w.ID, &w.FirstName, &w.LastName, &w.DocumentType, &w.DocumentNumber,
		&w.Phone, &w.Email, &w.Specialization, &w.Role, &w.Active, &w.HasSystemAccess,
		&w.Username, &w.PasswordHash, &w.LastLoginAt, &w.CreatedAt, &w.UpdatedAt)
	return &w, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) Create(ctx context.Context, w *Worker) error {
	w.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO workers (id, first_name, last_name, document_type, document_number, phone, email,
			specialization, role, active, has_system_access, username, password_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		w.ID, w.FirstName, w.LastName, w.DocumentType, w.DocumentNumber, w.Phone, w.Email,
		w.Specialization, w.Role, w.Active, w.HasSystemAccess, w.Username, nullable(w.PasswordHash),
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	return apperr.FromDB(err, "worker")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Worker, error) {
	w, err := scanWorker(r.conn(ctx).QueryRow(ctx, `SELECT `+workerCols+` FROM workers WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "worker")
	}
	return w, nil
}

func (r *repoPG) GetByUsername(ctx context.Context, username string) (*Worker, error) {
	w, err := scanWorker(r.conn(ctx).QueryRow(ctx, `SELECT `+workerCols+` FROM workers WHERE username = $1`, username))
	if err != nil {
		return nil, apperr.FromDB(err, "worker")
	}
	return w, nil
}

func (r *repoPG) Update(ctx context.Context, w *Worker) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE workers SET first_name=$2, last_name=$3, document_type=$4, document_number=$5,
			phone=$6, email=$7, specialization=$8, role=$9, active=$10, has_system_access=$11,
			username=$12, password_hash=$13, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		w.ID, w.FirstName, w.LastName, w.DocumentType, w.DocumentNumber,
		w.Phone, w.Email, w.Specialization, w.Role, w.Active, w.HasSystemAccess,
		w.Username, nullable(w.PasswordHash),
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	return apperr.FromDB(err, "worker")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM workers WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "worker")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("worker")
	}
	return nil
}

func (r *repoPG) TouchLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE workers SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) CountWithAccess(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM workers WHERE has_system_access`).Scan(&n)
	return n, err
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Worker, int, error) {
	q := search.NewQuery("workers", workerCols)
	if err := q.Build(params, sort, searchConfig); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, w)
	}
	return items, total, rows.Err()
}
