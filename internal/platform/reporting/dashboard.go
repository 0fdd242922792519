package reporting

import (
	"context"
	"fmt"
	"time"
)

// Stats is the dashboard summary for a period. Balances (abono credit,
// package debt, low stock) are current and ignore the period.
type Stats struct {
	From                 *time.Time     `json:"from,omitempty"`
	To                   *time.Time     `json:"to,omitempty"`
	PatientsTotal        int64          `json:"patients_total"`
	PatientsNew          int64          `json:"patients_new"`
	AppointmentsByStatus map[string]int `json:"appointments_by_status"`
	Billed               float64        `json:"billed"`
	Collected            float64        `json:"collected"`
	AbonoCredit          float64        `json:"abono_credit"`
	PackageDebt          float64        `json:"package_debt"`
	LowStockProducts     int64          `json:"low_stock_products"`
}

const totalsSQL = `SELECT
	(SELECT COUNT(*) FROM patients WHERE active) AS patients_total,
	(SELECT COUNT(*) FROM patients
		WHERE ($1::timestamptz IS NULL OR created_at >= $1) AND ($2::timestamptz IS NULL OR created_at < $2)) AS patients_new,
	(SELECT COALESCE(SUM(appointment_price), 0)::float8 FROM appointments
		WHERE status <> 'canceled'
		  AND ($1::timestamptz IS NULL OR scheduled_at >= $1) AND ($2::timestamptz IS NULL OR scheduled_at < $2)) AS billed,
	(SELECT COALESCE(SUM(amount), 0)::float8 FROM payments
		WHERE status = 'completed'
		  AND ($1::timestamptz IS NULL OR paid_at >= $1) AND ($2::timestamptz IS NULL OR paid_at < $2)) AS collected,
	(SELECT COALESCE(SUM(remaining_amount), 0)::float8 FROM abonos WHERE status = 'active') AS abono_credit,
	(SELECT COALESCE(SUM(debt), 0)::float8 FROM patient_packages WHERE status <> 'canceled') AS package_debt,
	(SELECT COUNT(*) FROM products WHERE status = 'active' AND stock <= min_stock) AS low_stock_products`

const statusSQL = `SELECT status, COUNT(*) AS total FROM appointments
	WHERE ($1::timestamptz IS NULL OR scheduled_at >= $1) AND ($2::timestamptz IS NULL OR scheduled_at < $2)
	GROUP BY status`

// Dashboard summarizes activity in the period [from, to).
func (s *Service) Dashboard(ctx context.Context, from, to *time.Time) (*Stats, error) {
	if err := checkPeriod(from, to); err != nil {
		return nil, err
	}
	rows, err := s.runner.Rows(ctx, totalsSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("dashboard totals: %w", err)
	}
	stats := &Stats{From: from, To: to, AppointmentsByStatus: map[string]int{}}
	if len(rows) == 1 {
		r := rows[0]
		stats.PatientsTotal = toInt(r["patients_total"])
		stats.PatientsNew = toInt(r["patients_new"])
		stats.Billed = toFloat(r["billed"])
		stats.Collected = toFloat(r["collected"])
		stats.AbonoCredit = toFloat(r["abono_credit"])
		stats.PackageDebt = toFloat(r["package_debt"])
		stats.LowStockProducts = toInt(r["low_stock_products"])
	}

	rows, err = s.runner.Rows(ctx, statusSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("dashboard appointments: %w", err)
	}
	for _, r := range rows {
		status, _ := r["status"].(string)
		stats.AppointmentsByStatus[status] = int(toInt(r["total"]))
	}
	return stats, nil
}

func toInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
