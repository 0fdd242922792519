package patient

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

// balanceExpr is the patient balance: active credit minus package debt minus
// what registered appointments still owe.
const balanceExpr = `(
	COALESCE((SELECT SUM(a.remaining_amount) FROM abonos a
		WHERE a.patient_id = p.id AND a.status = 'active'), 0)
	- COALESCE((SELECT SUM(pp.debt) FROM patient_packages pp
		WHERE pp.patient_id = p.id AND pp.status <> 'canceled'), 0)
	- COALESCE((SELECT SUM(GREATEST(ap.appointment_price
			- COALESCE((SELECT SUM(pay.amount) FROM payments pay
				WHERE pay.appointment_id = ap.id AND pay.status = 'completed'), 0)
			- COALESCE((SELECT SUM(u.amount) FROM abono_usages u
				WHERE u.appointment_id = ap.id AND u.reversed_at IS NULL), 0), 0))
		FROM appointments ap
		WHERE ap.patient_id = p.id AND ap.status = 'registered'), 0)
)::float8`

const patientCols = `p.id, p.first_name, p.last_name, p.document_type, p.document_number,
	p.phone, p.email, p.birth_date, p.gender, p.address, p.notes, p.active,
	` + balanceExpr + `, p.created_at, p.updated_at`

var searchConfig = search.Config{
	Params: map[string]search.ParamConfig{
		"search":          {Type: search.Text, Columns: []string{"p.first_name", "p.last_name", "p.first_name || ' ' || p.last_name", "p.document_number", "p.phone"}},
		"document_type":   {Type: search.Exact, Column: "p.document_type"},
		"document_number": {Type: search.Exact, Column: "p.document_number"},
		"gender":          {Type: search.Exact, Column: "p.gender", Values: validGenders},
		"active":          {Type: search.Bool, Column: "p.active"},
		"created_from":    {Type: search.From, Column: "p.created_at"},
		"created_to":      {Type: search.To, Column: "p.created_at"},
	},
	Sorts: map[string]string{
		"first_name": "p.first_name",
		"last_name":  "p.last_name",
		"created_at": "p.created_at",
	},
	DefaultOrder: "p.last_name ASC, p.first_name ASC",
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.DocumentType, &p.DocumentNumber,
		&p.Phone, &p.Email, &p.BirthDate, &p.Gender, &p.Address, &p.Notes, &p.Active,
		&p.Balance, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, document_type, document_number,
			phone, email, birth_date, gender, address, notes, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DocumentType, p.DocumentNumber,
		p.Phone, p.Email, p.BirthDate, p.Gender, p.Address, p.Notes, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients p WHERE p.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, document_type=$4, document_number=$5,
			phone=$6, email=$7, birth_date=$8, gender=$9, address=$10, notes=$11, active=$12,
			updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DocumentType, p.DocumentNumber,
		p.Phone, p.Email, p.BirthDate, p.Gender, p.Address, p.Notes, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "patient")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient")
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Patient, int, error) {
	q := search.NewQuery("patients p", patientCols)
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

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
