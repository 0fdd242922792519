package packages

import (
	"time"

	"github.com/google/uuid"
)

// Package is a purchasable bundle of sessions.
type Package struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Sessions    int       `json:"sessions"`
	Price       float64   `json:"price"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Patient package statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
)

// PatientPackage is one patient's purchase of a package.
type PatientPackage struct {
	ID                uuid.UUID `json:"id"`
	PatientID         uuid.UUID `json:"patient_id"`
	PackageID         uuid.UUID `json:"package_id"`
	PackageName       string    `json:"package_name"`
	TotalSessions     int       `json:"total_sessions"`
	RemainingSessions int       `json:"remaining_sessions"`
	PackagePrice      float64   `json:"package_price"`
	PaidAmount        float64   `json:"paid_amount"`
	Debt              float64   `json:"debt"`
	Status            string    `json:"status"`
	PurchasedAt       time.Time `json:"purchased_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsOpen reports whether the instance still has sessions to use.
func (pp *PatientPackage) IsOpen() bool {
	return pp.Status == StatusActive && pp.RemainingSessions > 0
}

// PurchaseRequest is the body of POST /patients/:id/packages.
type PurchaseRequest struct {
	PackageID     uuid.UUID `json:"package_id"`
	PaymentAmount float64   `json:"payment_amount"`
	Method        string    `json:"method"`
	Reference     string    `json:"reference"`
}

// DebtPaymentRequest is the body of POST /patient-packages/:id/payments.
type DebtPaymentRequest struct {
	Amount    float64 `json:"amount"`
	Method    string  `json:"method"`
	Reference string  `json:"reference"`
}
