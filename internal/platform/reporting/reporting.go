// Package reporting evaluates predefined SQL measures and the dashboard
// summary against the tenant schema of the request.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
)

// MeasureDefinition is a named SQL query. Every query takes the period
// bounds as $1 (from, inclusive) and $2 (to, exclusive); either may be NULL.
type MeasureDefinition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	SQL         string   `json:"-"`
	Parameters  []string `json:"parameters"`
}

// MeasureReport holds the rows produced by one evaluation.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	From        *time.Time               `json:"from,omitempty"`
	To          *time.Time               `json:"to,omitempty"`
	Results     []map[string]interface{} `json:"results"`
}

var period = []string{"from", "to"}

// PredefinedMeasures lists the measures exposed under /reports/measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "appointments-by-status",
		Name:        "Appointments by Status",
		Description: "Appointments scheduled in the period grouped by status, with their billed value",
		SQL: `SELECT status, COUNT(*) AS total, COALESCE(SUM(appointment_price), 0)::float8 AS billed
			FROM appointments
			WHERE ($1::timestamptz IS NULL OR scheduled_at >= $1) AND ($2::timestamptz IS NULL OR scheduled_at < $2)
			GROUP BY status ORDER BY total DESC`,
		Parameters: period,
	},
	{
		ID:          "revenue-by-method",
		Name:        "Revenue by Payment Method",
		Description: "Completed payments received in the period grouped by method",
		SQL: `SELECT method, COUNT(*) AS payments, SUM(amount)::float8 AS total
			FROM payments
			WHERE status = 'completed'
			  AND ($1::timestamptz IS NULL OR paid_at >= $1) AND ($2::timestamptz IS NULL OR paid_at < $2)
			GROUP BY method ORDER BY total DESC`,
		Parameters: period,
	},
	{
		ID:          "top-products",
		Name:        "Top Products",
		Description: "Units and revenue per product across appointments and counter sales",
		SQL: `SELECT product_id::text AS product_id, product_name, SUM(quantity) AS units, SUM(subtotal)::float8 AS revenue
			FROM (
				SELECT ap.product_id, ap.product_name, ap.quantity, ap.subtotal, a.scheduled_at AS at
				FROM appointment_products ap JOIN appointments a ON a.id = ap.appointment_id
				WHERE a.status <> 'canceled'
				UNION ALL
				SELECT si.product_id, si.product_name, si.quantity, si.subtotal, s.created_at AS at
				FROM sale_items si JOIN sales s ON s.id = si.sale_id
				WHERE s.status <> 'canceled'
			) lines
			WHERE ($1::timestamptz IS NULL OR at >= $1) AND ($2::timestamptz IS NULL OR at < $2)
			GROUP BY product_id, product_name ORDER BY units DESC, revenue DESC LIMIT 20`,
		Parameters: period,
	},
	{
		ID:          "package-debt",
		Name:        "Outstanding Package Debt",
		Description: "Patients owing money on package purchases made in the period",
		SQL: `SELECT pp.patient_id::text AS patient_id, p.first_name || ' ' || p.last_name AS patient_name,
				COUNT(*) AS packages, SUM(pp.debt)::float8 AS debt
			FROM patient_packages pp JOIN patients p ON p.id = pp.patient_id
			WHERE pp.status <> 'canceled' AND pp.debt > 0
			  AND ($1::timestamptz IS NULL OR pp.purchased_at >= $1) AND ($2::timestamptz IS NULL OR pp.purchased_at < $2)
			GROUP BY pp.patient_id, patient_name ORDER BY debt DESC`,
		Parameters: period,
	},
	{
		ID:          "low-stock-products",
		Name:        "Low Stock Products",
		Description: "Active products at or below their minimum stock, with units used in the period",
		SQL: `SELECT p.id::text AS product_id, p.name, p.stock, p.min_stock,
				COALESCE((SELECT -SUM(m.delta) FROM stock_movements m
					WHERE m.product_id = p.id AND m.delta < 0
					  AND ($1::timestamptz IS NULL OR m.created_at >= $1) AND ($2::timestamptz IS NULL OR m.created_at < $2)), 0) AS used
			FROM products p
			WHERE p.status = 'active' AND p.stock <= p.min_stock
			ORDER BY p.stock ASC, p.name ASC`,
		Parameters: period,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// Runner executes a query and returns each row keyed by column name.
type Runner interface {
	Rows(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// PoolRunner runs queries on the request's tenant connection.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

func (r *PoolRunner) Rows(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

type Service struct {
	runner Runner
	now    func() time.Time
}

func NewService(runner Runner) *Service {
	return &Service{runner: runner, now: time.Now}
}

// Evaluate runs the measure for the period [from, to).
func (s *Service) Evaluate(ctx context.Context, id string, from, to *time.Time) (*MeasureReport, error) {
	m := FindMeasure(id)
	if m == nil {
		return nil, apperr.NotFound("measure")
	}
	if err := checkPeriod(from, to); err != nil {
		return nil, err
	}
	results, err := s.runner.Rows(ctx, m.SQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("evaluate measure %s: %w", m.ID, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: s.now().UTC(),
		From:        from,
		To:          to,
		Results:     results,
	}, nil
}

func checkPeriod(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return apperr.Validation("to must not be before from")
	}
	return nil
}
