package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/search"
)

// ---- Abono Repo ----

type abonoRepoPG struct{ pool *pgxpool.Pool }

func NewAbonoRepoPG(pool *pgxpool.Pool) AbonoRepository {
	return &abonoRepoPG{pool: pool}
}

func (r *abonoRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const abonoCols = `id, patient_id, amount::float8, remaining_amount::float8, method, note, status,
	source_id, created_at, updated_at`

var abonoSearch = search.Config{
	Params: map[string]search.ParamConfig{
		"patient_id": {Type: search.Ref, Column: "patient_id"},
		"status":     {Type: search.Exact, Column: "status", Values: map[string]bool{AbonoActive: true, AbonoExhausted: true, AbonoCanceled: true}},
		"method":     {Type: search.Exact, Column: "method"},
		"from":       {Type: search.From, Column: "created_at"},
		"to":         {Type: search.To, Column: "created_at"},
	},
	Sorts:        map[string]string{"created_at": "created_at", "amount": "amount", "remaining_amount": "remaining_amount"},
	DefaultOrder: "created_at ASC",
}

func scanAbono(row pgx.Row) (*Abono, error) {
	var a Abono
	err := row.Scan(&a.ID, &a.PatientID, &a.Amount, &a.RemainingAmount, &a.Method, &a.Note, &a.Status,
		&a.SourceID, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *abonoRepoPG) Create(ctx context.Context, a *Abono) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO abonos (id, patient_id, amount, remaining_amount, method, note, status, source_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Amount, a.RemainingAmount, a.Method, a.Note, a.Status, a.SourceID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromDB(err, "abono")
}

func (r *abonoRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Abono, error) {
	a, err := scanAbono(r.conn(ctx).QueryRow(ctx, `SELECT `+abonoCols+` FROM abonos WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "abono")
	}
	return a, nil
}

func (r *abonoRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Abono, error) {
	a, err := scanAbono(r.conn(ctx).QueryRow(ctx, `SELECT `+abonoCols+` FROM abonos WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "abono")
	}
	return a, nil
}

func (r *abonoRepoPG) Save(ctx context.Context, a *Abono) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE abonos SET remaining_amount=$2, status=$3, updated_at=NOW()
		WHERE id = $1 RETURNING updated_at`, a.ID, a.RemainingAmount, a.Status).Scan(&a.UpdatedAt)
	return apperr.FromDB(err, "abono")
}

func (r *abonoRepoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Abono, int, error) {
	q := search.NewQuery("abonos", abonoCols)
	if err := q.Build(params, sort, abonoSearch); err != nil {
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
	var items []*Abono
	for rows.Next() {
		a, err := scanAbono(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

const usageCols = `id, abono_id, appointment_id, amount::float8, created_at, reversed_at`

func (r *abonoRepoPG) CreateUsage(ctx context.Context, u *AbonoUsage) error {
	u.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO abono_usages (id, abono_id, appointment_id, amount)
		VALUES ($1,$2,$3,$4) RETURNING created_at`,
		u.ID, u.AbonoID, u.AppointmentID, u.Amount,
	).Scan(&u.CreatedAt)
}

func (r *abonoRepoPG) listUsages(ctx context.Context, sql string, arg uuid.UUID) ([]*AbonoUsage, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AbonoUsage
	for rows.Next() {
		var u AbonoUsage
		if err := rows.Scan(&u.ID, &u.AbonoID, &u.AppointmentID, &u.Amount, &u.CreatedAt, &u.ReversedAt); err != nil {
			return nil, err
		}
		items = append(items, &u)
	}
	return items, rows.Err()
}

func (r *abonoRepoPG) ListUsagesByAbono(ctx context.Context, abonoID uuid.UUID) ([]*AbonoUsage, error) {
	return r.listUsages(ctx, `SELECT `+usageCols+` FROM abono_usages WHERE abono_id = $1 ORDER BY created_at`, abonoID)
}

func (r *abonoRepoPG) ListUsagesByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*AbonoUsage, error) {
	return r.listUsages(ctx, `SELECT `+usageCols+` FROM abono_usages WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
}

func (r *abonoRepoPG) MarkUsageReversed(ctx context.Context, usageID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE abono_usages SET reversed_at = NOW() WHERE id = $1 AND reversed_at IS NULL`, usageID)
	return err
}

// ---- Payment Repo ----

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const paymentFrom = `payments pay LEFT JOIN patients pt ON pt.id = pay.patient_id`

const paymentCols = `pay.id, pay.patient_id, pt.first_name || ' ' || pt.last_name, pay.appointment_id, pay.sale_id,
	pay.patient_package_id, pay.amount::float8, pay.method, pay.status, pay.reference,
	pay.paid_at, pay.voided_at, pay.created_by, pay.created_at`

var paymentSearch = search.Config{
	Params: map[string]search.ParamConfig{
		"search":             {Type: search.Text, Columns: []string{"pt.first_name || ' ' || pt.last_name", "pay.reference"}},
		"patient_id":         {Type: search.Ref, Column: "pay.patient_id"},
		"appointment_id":     {Type: search.Ref, Column: "pay.appointment_id"},
		"sale_id":            {Type: search.Ref, Column: "pay.sale_id"},
		"patient_package_id": {Type: search.Ref, Column: "pay.patient_package_id"},
		"method":             {Type: search.Exact, Column: "pay.method"},
		"status":             {Type: search.Exact, Column: "pay.status", Values: map[string]bool{PaymentCompleted: true, PaymentVoided: true}},
		"from":               {Type: search.From, Column: "pay.paid_at"},
		"to":                 {Type: search.To, Column: "pay.paid_at"},
	},
	Sorts:        map[string]string{"paid_at": "pay.paid_at", "amount": "pay.amount", "method": "pay.method"},
	DefaultOrder: "pay.paid_at DESC",
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PatientID, &p.PatientName, &p.AppointmentID, &p.SaleID,
		&p.PatientPackageID, &p.Amount, &p.Method, &p.Status, &p.Reference,
		&p.PaidAt, &p.VoidedAt, &p.CreatedBy, &p.CreatedAt)
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, patient_id, appointment_id, sale_id, patient_package_id,
			amount, method, status, reference, paid_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING created_at`,
		p.ID, p.PatientID, p.AppointmentID, p.SaleID, p.PatientPackageID,
		p.Amount, p.Method, p.Status, p.Reference, p.PaidAt, p.CreatedBy,
	).Scan(&p.CreatedAt)
	return apperr.FromDB(err, "payment")
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM `+paymentFrom+` WHERE pay.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "payment")
	}
	return p, nil
}

func (r *paymentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM `+paymentFrom+` WHERE pay.id = $1 FOR UPDATE OF pay`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "payment")
	}
	return p, nil
}

func (r *paymentRepoPG) MarkVoided(ctx context.Context, p *Payment) error {
	var voided time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE payments SET status = 'voided', voided_at = NOW()
		WHERE id = $1 AND status = 'completed' RETURNING voided_at`, p.ID).Scan(&voided)
	if err != nil {
		return apperr.FromDB(err, "payment")
	}
	p.Status = PaymentVoided
	p.VoidedAt = &voided
	return nil
}

func (r *paymentRepoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Payment, int, error) {
	q := search.NewQuery(paymentFrom, paymentCols)
	if err := q.Build(params, sort, paymentSearch); err != nil {
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
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *paymentRepoPG) listBy(ctx context.Context, column string, id uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM `+paymentFrom+` WHERE pay.`+column+` = $1 ORDER BY pay.paid_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *paymentRepoPG) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	return r.listBy(ctx, "appointment_id", appointmentID)
}

func (r *paymentRepoPG) ListBySale(ctx context.Context, saleID uuid.UUID) ([]*Payment, error) {
	return r.listBy(ctx, "sale_id", saleID)
}

// ---- Sale Repo ----

type saleRepoPG struct{ pool *pgxpool.Pool }

func NewSaleRepoPG(pool *pgxpool.Pool) SaleRepository {
	return &saleRepoPG{pool: pool}
}

func (r *saleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const saleCols = `s.id, s.patient_id, s.total::float8,
	COALESCE((SELECT SUM(amount) FROM payments WHERE sale_id = s.id AND status = 'completed'), 0)::float8,
	s.status, s.note, s.created_by, s.created_at, s.updated_at`

var saleSearch = search.Config{
	Params: map[string]search.ParamConfig{
		"patient_id": {Type: search.Ref, Column: "s.patient_id"},
		"status":     {Type: search.Exact, Column: "s.status", Values: map[string]bool{SalePending: true, SalePaid: true, SaleCanceled: true}},
		"from":       {Type: search.From, Column: "s.created_at"},
		"to":         {Type: search.To, Column: "s.created_at"},
	},
	Sorts:        map[string]string{"created_at": "s.created_at", "total": "s.total"},
	DefaultOrder: "s.created_at DESC",
}

func scanSale(row pgx.Row) (*Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.PatientID, &s.Total, &s.PaidAmount, &s.Status, &s.Note, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *saleRepoPG) Create(ctx context.Context, s *Sale) error {
	s.ID = uuid.New()
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO sales (id, patient_id, total, status, note, created_by)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at, updated_at`,
		s.ID, s.PatientID, s.Total, s.Status, s.Note, s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return apperr.FromDB(err, "sale")
	}
	for i := range s.Items {
		it := &s.Items[i]
		it.ID = uuid.New()
		it.SaleID = s.ID
		if _, err := q.Exec(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, it.SaleID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.Subtotal); err != nil {
			return apperr.FromDB(err, "sale item")
		}
	}
	return nil
}

func (r *saleRepoPG) get(ctx context.Context, sql string, id uuid.UUID) (*Sale, error) {
	s, err := scanSale(r.conn(ctx).QueryRow(ctx, sql, id))
	if err != nil {
		return nil, apperr.FromDB(err, "sale")
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, sale_id, product_id, product_name, quantity, unit_price::float8, subtotal::float8
		FROM sale_items WHERE sale_id = $1 ORDER BY product_name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s.Items = []SaleItem{}
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		s.Items = append(s.Items, it)
	}
	return s, rows.Err()
}

func (r *saleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return r.get(ctx, `SELECT `+saleCols+` FROM sales s WHERE s.id = $1`, id)
}

func (r *saleRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return r.get(ctx, `SELECT `+saleCols+` FROM sales s WHERE s.id = $1 FOR UPDATE OF s`, id)
}

func (r *saleRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE sales SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("sale")
	}
	return nil
}

func (r *saleRepoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Sale, int, error) {
	q := search.NewQuery("sales s", saleCols)
	if err := q.Build(params, sort, saleSearch); err != nil {
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
	var items []*Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
