package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/search"
	"github.com/clinic/clinic/pkg/money"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptFrom = `appointments a
	JOIN patients p ON p.id = a.patient_id
	JOIN workers w ON w.id = a.worker_id`

// paidExpr is completed payments plus unreversed abono usages.
const paidExpr = `(COALESCE((SELECT SUM(amount) FROM payments WHERE appointment_id = a.id AND status = 'completed'), 0)
	+ COALESCE((SELECT SUM(amount) FROM abono_usages WHERE appointment_id = a.id AND reversed_at IS NULL), 0))`

const apptCols = `a.id, a.patient_id, p.first_name || ' ' || p.last_name, a.worker_id, w.first_name || ' ' || w.last_name,
	a.scheduled_at, a.duration_minutes, a.diagnosis, a.treatment_notes, a.treatment_price::float8,
	a.appointment_price::float8, ` + paidExpr + `::float8, a.status, a.cancel_reason, a.reminded_at, a.canceled_at,
	a.created_by, a.created_at, a.updated_at`

var validStatuses = map[string]bool{StatusRegistered: true, StatusPaid: true, StatusCanceled: true}

var searchConfig = search.Config{
	Params: map[string]search.ParamConfig{
		"search":     {Type: search.Text, Columns: []string{"p.first_name || ' ' || p.last_name", "p.document_number"}},
		"status":     {Type: search.Exact, Column: "a.status", Values: validStatuses},
		"patient_id": {Type: search.Ref, Column: "a.patient_id"},
		"worker_id":  {Type: search.Ref, Column: "a.worker_id"},
		"from":       {Type: search.From, Column: "a.scheduled_at"},
		"to":         {Type: search.To, Column: "a.scheduled_at"},
	},
	Sorts: map[string]string{
		"scheduled_at":      "a.scheduled_at",
		"created_at":        "a.created_at",
		"appointment_price": "a.appointment_price",
		"patient":           "p.last_name",
	},
	DefaultOrder: "a.scheduled_at DESC",
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.WorkerID, &a.WorkerName,
		&a.ScheduledAt, &a.DurationMinutes, &a.Diagnosis, &a.TreatmentNotes, &a.TreatmentPrice,
		&a.AppointmentPrice, &a.PaidAmount, &a.Status, &a.CancelReason, &a.RemindedAt, &a.CanceledAt,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, worker_id, scheduled_at, duration_minutes, diagnosis,
			treatment_notes, treatment_price, appointment_price, status, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.WorkerID, a.ScheduledAt, a.DurationMinutes, a.Diagnosis,
		a.TreatmentNotes, a.TreatmentPrice, a.AppointmentPrice, a.Status, a.CreatedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "appointment")
	}
	return r.insertLines(ctx, a)
}

func (r *repoPG) insertLines(ctx context.Context, a *Appointment) error {
	q := r.conn(ctx)
	for i := range a.Products {
		l := &a.Products[i]
		l.ID = uuid.New()
		l.AppointmentID = a.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO appointment_products (id, appointment_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, l.AppointmentID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.Subtotal); err != nil {
			return apperr.FromDB(err, "appointment product")
		}
	}
	for i := range a.Packages {
		l := &a.Packages[i]
		l.ID = uuid.New()
		l.AppointmentID = a.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO appointment_packages (id, appointment_id, package_id, patient_package_id, package_name,
				payment_amount, new_purchase)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			l.ID, l.AppointmentID, l.PackageID, l.PatientPackageID, l.PackageName, l.PaymentAmount, l.NewPurchase); err != nil {
			return apperr.FromDB(err, "appointment package")
		}
	}
	return nil
}

func (r *repoPG) loadLines(ctx context.Context, a *Appointment) error {
	q := r.conn(ctx)
	rows, err := q.Query(ctx, `
		SELECT id, appointment_id, product_id, product_name, quantity, unit_price::float8, subtotal::float8
		FROM appointment_products WHERE appointment_id = $1 ORDER BY product_name`, a.ID)
	if err != nil {
		return err
	}
	a.Products = []ProductLine{}
	for rows.Next() {
		var l ProductLine
		if err := rows.Scan(&l.ID, &l.AppointmentID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice, &l.Subtotal); err != nil {
			rows.Close()
			return err
		}
		a.Products = append(a.Products, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT id, appointment_id, package_id, patient_package_id, package_name, payment_amount::float8, new_purchase
		FROM appointment_packages WHERE appointment_id = $1 ORDER BY package_name`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	a.Packages = []PackageLine{}
	for rows.Next() {
		var l PackageLine
		if err := rows.Scan(&l.ID, &l.AppointmentID, &l.PackageID, &l.PatientPackageID, &l.PackageName, &l.PaymentAmount, &l.NewPurchase); err != nil {
			return err
		}
		a.Packages = append(a.Packages, l)
	}
	return rows.Err()
}

func (r *repoPG) get(ctx context.Context, sql string, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, sql, id))
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	if err := r.loadLines(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM `+apptFrom+` WHERE a.id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+apptCols+` FROM `+apptFrom+` WHERE a.id = $1 FOR UPDATE OF a`, id)
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		UPDATE appointments SET patient_id=$2, worker_id=$3, scheduled_at=$4, duration_minutes=$5, diagnosis=$6,
			treatment_notes=$7, treatment_price=$8, appointment_price=$9, status=$10, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`,
		a.ID, a.PatientID, a.WorkerID, a.ScheduledAt, a.DurationMinutes, a.Diagnosis,
		a.TreatmentNotes, a.TreatmentPrice, a.AppointmentPrice, a.Status,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "appointment")
	}
	if _, err := q.Exec(ctx, `DELETE FROM appointment_products WHERE appointment_id = $1`, a.ID); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM appointment_packages WHERE appointment_id = $1`, a.ID); err != nil {
		return err
	}
	return r.insertLines(ctx, a)
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperr.FromDB(err, "appointment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment")
	}
	return nil
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.exec(ctx, `UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *repoPG) Cancel(ctx context.Context, id uuid.UUID, reason *string) error {
	return r.exec(ctx, `
		UPDATE appointments SET status = 'canceled', cancel_reason = $2, canceled_at = NOW(), updated_at = NOW()
		WHERE id = $1`, id, reason)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
}

func (r *repoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Appointment, int, error) {
	q := search.NewQuery(apptFrom, apptCols)
	if err := q.Build(params, sort, searchConfig); err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListDueReminders(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM `+apptFrom+`
		WHERE a.status = 'registered' AND a.reminded_at IS NULL
		AND a.scheduled_at >= $1 AND a.scheduled_at < $2
		ORDER BY a.scheduled_at`, from, to)
}

func (r *repoPG) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE appointments SET reminded_at = $2 WHERE id = $1`, id, at)
}

func (r *repoPG) WorkerStats(ctx context.Context, workerID uuid.UUID, from, to *time.Time) (*WorkerStats, error) {
	where := "a.worker_id = $1"
	args := []interface{}{workerID}
	if from != nil {
		args = append(args, *from)
		where += fmt.Sprintf(" AND a.scheduled_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		where += fmt.Sprintf(" AND a.scheduled_at < $%d", len(args))
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.status, COUNT(*),
			COALESCE(SUM(a.appointment_price), 0)::float8,
			COALESCE(SUM((SELECT SUM(amount) FROM payments WHERE appointment_id = a.id AND status = 'completed')), 0)::float8
		FROM appointments a WHERE `+where+` GROUP BY a.status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &WorkerStats{WorkerID: workerID, From: from, To: to, ByStatus: map[string]int{}}
	var billed, collected []float64
	for rows.Next() {
		var (
			status      string
			count       int
			price, paid float64
		)
		if err := rows.Scan(&status, &count, &price, &paid); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
		if status != StatusCanceled {
			billed = append(billed, price)
			collected = append(collected, paid)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.Billed = money.Sum(billed...)
	stats.Collected = money.Sum(collected...)
	return stats, nil
}
