package packages

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/search"
)

// ---- Package Repo ----

type packageRepoPG struct{ pool *pgxpool.Pool }

func NewPackageRepoPG(pool *pgxpool.Pool) PackageRepository {
	return &packageRepoPG{pool: pool}
}

func (r *packageRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const packageCols = `id, name, description, sessions, price::float8, status, created_at, updated_at`

var packageSearch = search.Config{
	Params: map[string]search.ParamConfig{
		"search": {Type: search.Text, Columns: []string{"name", "description"}},
		"status": {Type: search.Exact, Column: "status", Values: validPackageStatuses},
	},
	Sorts:        map[string]string{"name": "name", "price": "price", "sessions": "sessions", "created_at": "created_at"},
	DefaultOrder: "name ASC",
}

func scanPackage(row pgx.Row) (*Package, error) {
	var p Package
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Sessions, &p.Price, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *packageRepoPG) Create(ctx context.Context, p *Package) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO packages (id, name, description, sessions, price, status)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Sessions, p.Price, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "package")
}

func (r *packageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Package, error) {
	p, err := scanPackage(r.conn(ctx).QueryRow(ctx, `SELECT `+packageCols+` FROM packages WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "package")
	}
	return p, nil
}

func (r *packageRepoPG) Update(ctx context.Context, p *Package) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE packages SET name=$2, description=$3, sessions=$4, price=$5, status=$6, updated_at=NOW()
		WHERE id = $1 RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Sessions, p.Price, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "package")
}

func (r *packageRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM packages WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "package")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("package")
	}
	return nil
}

func (r *packageRepoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Package, int, error) {
	q := search.NewQuery("packages", packageCols)
	if err := q.Build(params, sort, packageSearch); err != nil {
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
	var items []*Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// ---- PatientPackage Repo ----

type patientPackageRepoPG struct{ pool *pgxpool.Pool }

func NewPatientPackageRepoPG(pool *pgxpool.Pool) PatientPackageRepository {
	return &patientPackageRepoPG{pool: pool}
}

func (r *patientPackageRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const patientPackageCols = `pp.id, pp.patient_id, pp.package_id, pk.name, pp.total_sessions, pp.remaining_sessions,
	pp.package_price::float8, pp.paid_amount::float8, pp.debt::float8, pp.status, pp.purchased_at, pp.updated_at`

const patientPackageFrom = `patient_packages pp JOIN packages pk ON pk.id = pp.package_id`

func scanPatientPackage(row pgx.Row) (*PatientPackage, error) {
	var pp PatientPackage
	err := row.Scan(&pp.ID, &pp.PatientID, &pp.PackageID, &pp.PackageName, &pp.TotalSessions, &pp.RemainingSessions,
		&pp.PackagePrice, &pp.PaidAmount, &pp.Debt, &pp.Status, &pp.PurchasedAt, &pp.UpdatedAt)
	return &pp, err
}

func (r *patientPackageRepoPG) Create(ctx context.Context, pp *PatientPackage) error {
	pp.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_packages (id, patient_id, package_id, total_sessions, remaining_sessions,
			package_price, paid_amount, debt, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING purchased_at, updated_at`,
		pp.ID, pp.PatientID, pp.PackageID, pp.TotalSessions, pp.RemainingSessions,
		pp.PackagePrice, pp.PaidAmount, pp.Debt, pp.Status,
	).Scan(&pp.PurchasedAt, &pp.UpdatedAt)
	return apperr.FromDB(err, "patient package")
}

func (r *patientPackageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	pp, err := scanPatientPackage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientPackageCols+` FROM `+patientPackageFrom+` WHERE pp.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "patient package")
	}
	return pp, nil
}

func (r *patientPackageRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	pp, err := scanPatientPackage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientPackageCols+` FROM `+patientPackageFrom+` WHERE pp.id = $1 FOR UPDATE OF pp`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "patient package")
	}
	return pp, nil
}

func (r *patientPackageRepoPG) Save(ctx context.Context, pp *PatientPackage) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_packages SET remaining_sessions=$2, paid_amount=$3, debt=$4, status=$5, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`,
		pp.ID, pp.RemainingSessions, pp.PaidAmount, pp.Debt, pp.Status,
	).Scan(&pp.UpdatedAt)
	return apperr.FromDB(err, "patient package")
}

func (r *patientPackageRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*PatientPackage, error) {
	sql := `SELECT ` + patientPackageCols + ` FROM ` + patientPackageFrom + ` WHERE pp.patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		sql += ` AND pp.status = $2`
		args = append(args, status)
	}
	rows, err := r.conn(ctx).Query(ctx, sql+` ORDER BY pp.purchased_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PatientPackage
	for rows.Next() {
		pp, err := scanPatientPackage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, pp)
	}
	return items, rows.Err()
}

func (r *patientPackageRepoPG) FindOpen(ctx context.Context, patientID, packageID uuid.UUID) (*PatientPackage, error) {
	pp, err := scanPatientPackage(r.conn(ctx).QueryRow(ctx, `
		SELECT `+patientPackageCols+` FROM `+patientPackageFrom+`
		WHERE pp.patient_id = $1 AND pp.package_id = $2
			AND pp.status = 'active' AND pp.remaining_sessions > 0
		ORDER BY pp.purchased_at ASC LIMIT 1`, patientID, packageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pp, nil
}
