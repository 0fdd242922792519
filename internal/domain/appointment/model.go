package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/worker"
	"github.com/clinic/clinic/pkg/money"
)

// Appointment statuses.
const (
	StatusRegistered = "registered"
	StatusPaid       = "paid"
	StatusCanceled   = "canceled"
)

type Appointment struct {
	ID               uuid.UUID     `json:"id"`
	PatientID        uuid.UUID     `json:"patient_id"`
	PatientName      string        `json:"patient_name,omitempty"`
	WorkerID         uuid.UUID     `json:"worker_id"`
	WorkerName       string        `json:"worker_name,omitempty"`
	ScheduledAt      time.Time     `json:"scheduled_at"`
	DurationMinutes  int           `json:"duration_minutes"`
	Diagnosis        *string       `json:"diagnosis,omitempty"`
	TreatmentNotes   *string       `json:"treatment_notes,omitempty"`
	TreatmentPrice   *float64      `json:"treatment_price,omitempty"`
	AppointmentPrice float64       `json:"appointment_price"`
	PaidAmount       float64       `json:"paid_amount"`
	Status           string        `json:"status"`
	CancelReason     *string       `json:"cancel_reason,omitempty"`
	RemindedAt       *time.Time    `json:"reminded_at,omitempty"`
	CanceledAt       *time.Time    `json:"canceled_at,omitempty"`
	CreatedBy        *string       `json:"created_by,omitempty"`
	Products         []ProductLine `json:"products"`
	Packages         []PackageLine `json:"packages"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Due is what is left to pay.
func (a *Appointment) Due() float64 {
	return money.NonNegative(money.Sub(a.AppointmentPrice, a.PaidAmount))
}

// Settled reports whether a priced appointment is fully paid.
func (a *Appointment) Settled() bool {
	return money.Positive(a.AppointmentPrice) && money.Cmp(a.PaidAmount, a.AppointmentPrice) >= 0
}

type ProductLine struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	ProductID     uuid.UUID `json:"product_id"`
	ProductName   string    `json:"product_name"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	Subtotal      float64   `json:"subtotal"`
}

// PackageLine is a package session used by the appointment. NewPurchase
// marks instances bought by the appointment itself.
type PackageLine struct {
	ID               uuid.UUID `json:"id"`
	AppointmentID    uuid.UUID `json:"appointment_id"`
	PackageID        uuid.UUID `json:"package_id"`
	PatientPackageID uuid.UUID `json:"patient_package_id"`
	PackageName      string    `json:"package_name"`
	PaymentAmount    float64   `json:"payment_amount"`
	NewPurchase      bool      `json:"new_purchase"`
}

// Request is the body of create, update and quote.
type Request struct {
	PatientID       uuid.UUID             `json:"patient_id"`
	WorkerID        uuid.UUID             `json:"worker_id"`
	ScheduledAt     time.Time             `json:"scheduled_at"`
	DurationMinutes int                   `json:"duration_minutes"`
	Diagnosis       string                `json:"diagnosis"`
	TreatmentNotes  string                `json:"treatment_notes"`
	TreatmentPrice  *float64              `json:"treatment_price"`
	Products        []ProductInput        `json:"products"`
	Packages        []PackageInput        `json:"packages"`
	Abonos          []AbonoInput          `json:"abonos"`
	Payment         *billing.PaymentInput `json:"payment"`
}

type ProductInput struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// PackageInput selects a package. PaymentAmount overrides the default
// amount paid toward it now.
type PackageInput struct {
	PackageID     uuid.UUID `json:"package_id"`
	PaymentAmount *float64  `json:"payment_amount"`
}

type AbonoInput struct {
	AbonoID uuid.UUID `json:"abono_id"`
	Amount  float64   `json:"amount"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// Detail is an appointment with everything shown on its detail page.
type Detail struct {
	*Appointment
	Patient     *patient.Patient      `json:"patient"`
	Worker      *worker.Worker        `json:"worker"`
	Payments    []*billing.Payment    `json:"payments"`
	AbonoUsages []*billing.AbonoUsage `json:"abono_usages"`
	AmountDue   float64               `json:"due"`
}

// WorkerStats summarizes a worker's appointments in a period.
type WorkerStats struct {
	WorkerID  uuid.UUID      `json:"worker_id"`
	From      *time.Time     `json:"from,omitempty"`
	To        *time.Time     `json:"to,omitempty"`
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Billed    float64        `json:"billed"`
	Collected float64        `json:"collected"`
}
