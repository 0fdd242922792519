package billing

import (
	"time"

	"github.com/google/uuid"
)

// Abono statuses.
const (
	AbonoActive    = "active"
	AbonoExhausted = "exhausted"
	AbonoCanceled  = "canceled"
)

// MethodCreditNote marks credit issued by the clinic, such as the refund of
// a canceled appointment.
const MethodCreditNote = "credit_note"

// Abono is credit a patient paid in advance.
type Abono struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	Amount          float64    `json:"amount"`
	RemainingAmount float64    `json:"remaining_amount"`
	Method          string     `json:"method"`
	Note            *string    `json:"note,omitempty"`
	Status          string     `json:"status"`
	SourceID        *uuid.UUID `json:"source_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AbonoUsage records credit applied to an appointment.
type AbonoUsage struct {
	ID            uuid.UUID  `json:"id"`
	AbonoID       uuid.UUID  `json:"abono_id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Amount        float64    `json:"amount"`
	CreatedAt     time.Time  `json:"created_at"`
	ReversedAt    *time.Time `json:"reversed_at,omitempty"`
}

// Payment statuses.
const (
	PaymentCompleted = "completed"
	PaymentVoided    = "voided"
)

// Payment targets.
const (
	TargetAppointment    = "appointment"
	TargetSale           = "sale"
	TargetPatientPackage = "patient_package"
)

// Payment is money received for exactly one appointment, sale or patient
// package.
type Payment struct {
	ID               uuid.UUID  `json:"id"`
	PatientID        *uuid.UUID `json:"patient_id,omitempty"`
	PatientName      *string    `json:"patient_name,omitempty"`
	AppointmentID    *uuid.UUID `json:"appointment_id,omitempty"`
	SaleID           *uuid.UUID `json:"sale_id,omitempty"`
	PatientPackageID *uuid.UUID `json:"patient_package_id,omitempty"`
	Amount           float64    `json:"amount"`
	Method           string     `json:"method"`
	Status           string     `json:"status"`
	Reference        *string    `json:"reference,omitempty"`
	PaidAt           time.Time  `json:"paid_at"`
	VoidedAt         *time.Time `json:"voided_at,omitempty"`
	CreatedBy        *string    `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Target returns the kind and id of what the payment pays for.
func (p *Payment) Target() (string, uuid.UUID) {
	switch {
	case p.AppointmentID != nil:
		return TargetAppointment, *p.AppointmentID
	case p.SaleID != nil:
		return TargetSale, *p.SaleID
	case p.PatientPackageID != nil:
		return TargetPatientPackage, *p.PatientPackageID
	}
	return "", uuid.Nil
}

func (p *Payment) targetCount() int {
	n := 0
	for _, id := range []*uuid.UUID{p.AppointmentID, p.SaleID, p.PatientPackageID} {
		if id != nil {
			n++
		}
	}
	return n
}

// PaymentInput is money offered at the desk.
type PaymentInput struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}

// PaymentRequest is the body of POST /payments.
type PaymentRequest struct {
	PaymentInput
	AppointmentID    *uuid.UUID `json:"appointment_id"`
	SaleID           *uuid.UUID `json:"sale_id"`
	PatientPackageID *uuid.UUID `json:"patient_package_id"`
}

// Sale statuses.
const (
	SalePending  = "pending"
	SalePaid     = "paid"
	SaleCanceled = "canceled"
)

// Sale is a counter sale of products outside an appointment.
type Sale struct {
	ID         uuid.UUID  `json:"id"`
	PatientID  *uuid.UUID `json:"patient_id,omitempty"`
	Total      float64    `json:"total"`
	PaidAmount float64    `json:"paid_amount"`
	Status     string     `json:"status"`
	Note       *string    `json:"note,omitempty"`
	CreatedBy  *string    `json:"created_by,omitempty"`
	Items      []SaleItem `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type SaleItem struct {
	ID          uuid.UUID `json:"id"`
	SaleID      uuid.UUID `json:"sale_id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
	UnitPrice   float64   `json:"unit_price"`
	Subtotal    float64   `json:"subtotal"`
}

// SaleRequest is the body of POST /sales.
type SaleRequest struct {
	PatientID *uuid.UUID        `json:"patient_id"`
	Note      string            `json:"note"`
	Items     []SaleItemRequest `json:"items"`
	Payment   *PaymentInput     `json:"payment"`
}

type SaleItemRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// CancelRequest carries an optional reason.
type CancelRequest struct {
	Reason string `json:"reason"`
}
