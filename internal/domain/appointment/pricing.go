package appointment

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/pkg/money"
)

// PricedProduct is a product line with its catalog price.
type PricedProduct struct {
	ProductID uuid.UUID
	Name      string
	UnitPrice float64
	Quantity  int
}

// PricedPackage is a selected package. OpenInstance is set when the patient
// already owns an open instance, whose Debt caps the payment.
type PricedPackage struct {
	PackageID    uuid.UUID
	Name         string
	Price        float64
	OpenInstance *uuid.UUID
	Debt         float64
	Override     *float64
}

// PricedAbono is an abono offered toward the appointment.
type PricedAbono struct {
	AbonoID   uuid.UUID
	Remaining float64
	Requested float64
}

// PricingInput is everything the total depends on. AlreadyPaid counts
// payments an edited appointment keeps.
type PricingInput struct {
	TreatmentPrice float64
	Products       []PricedProduct
	Packages       []PricedPackage
	Abonos         []PricedAbono
	AlreadyPaid    float64
}

type QuoteProduct struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	UnitPrice float64   `json:"unit_price"`
	Quantity  int       `json:"quantity"`
	Subtotal  float64   `json:"subtotal"`
}

type QuotePackage struct {
	PackageID        uuid.UUID  `json:"package_id"`
	Name             string     `json:"name"`
	PatientPackageID *uuid.UUID `json:"patient_package_id,omitempty"`
	Owned            bool       `json:"owned"`
	MaxPayment       float64    `json:"max_payment"`
	PaymentAmount    float64    `json:"payment_amount"`
}

type QuoteAbono struct {
	AbonoID   uuid.UUID `json:"abono_id"`
	Requested float64   `json:"requested"`
	Applied   float64   `json:"applied"`
}

// Quote is the priced breakdown of an appointment.
type Quote struct {
	TreatmentPrice float64        `json:"treatment_price"`
	Products       []QuoteProduct `json:"products"`
	Packages       []QuotePackage `json:"packages"`
	Abonos         []QuoteAbono   `json:"abonos"`
	ProductsTotal  float64        `json:"products_total"`
	PackagesTotal  float64        `json:"packages_total"`
	Total          float64        `json:"total"`
	AlreadyPaid    float64        `json:"already_paid"`
	AbonoApplied   float64        `json:"abono_applied"`
	Remaining      float64        `json:"remaining"`
}

// Price computes the appointment total and how much of it the abonos
// cover:
//
//	total     = treatment + Σ unit price × quantity + Σ package payment
//	remaining = max(0, total − already paid − Σ abono applied)
//
// A package payment defaults to the open instance's debt, or the full price
// when the patient owns none, and may be overridden within [0, that
// default]. Abonos apply in order, each covering at most what is still
// unpaid.
func Price(in PricingInput) (*Quote, error) {
	if money.Cmp(in.TreatmentPrice, 0) < 0 {
		return nil, apperr.Validation("treatment price must not be negative")
	}
	q := &Quote{
		TreatmentPrice: money.Round(in.TreatmentPrice),
		Products:       []QuoteProduct{},
		Packages:       []QuotePackage{},
		Abonos:         []QuoteAbono{},
	}

	products := decimal.Zero
	for _, p := range in.Products {
		if p.Quantity < 1 {
			return nil, apperr.Validation("quantity of %s must be at least 1", p.Name)
		}
		sub := money.D(p.UnitPrice).Round(money.Places).Mul(decimal.NewFromInt(int64(p.Quantity)))
		products = products.Add(sub)
		q.Products = append(q.Products, QuoteProduct{
			ProductID: p.ProductID,
			Name:      p.Name,
			UnitPrice: money.Round(p.UnitPrice),
			Quantity:  p.Quantity,
			Subtotal:  money.Float(sub),
		})
	}

	packages := decimal.Zero
	for _, p := range in.Packages {
		limit := p.Price
		if p.OpenInstance != nil {
			limit = p.Debt
		}
		pay := limit
		if p.Override != nil {
			pay = *p.Override
			if money.Cmp(pay, 0) < 0 || money.Cmp(pay, limit) > 0 {
				return nil, apperr.Validation("payment for %s must be between 0 and %.2f", p.Name, money.Round(limit))
			}
		}
		packages = packages.Add(money.D(pay).Round(money.Places))
		q.Packages = append(q.Packages, QuotePackage{
			PackageID:        p.PackageID,
			Name:             p.Name,
			PatientPackageID: p.OpenInstance,
			Owned:            p.OpenInstance != nil,
			MaxPayment:       money.Round(limit),
			PaymentAmount:    money.Round(pay),
		})
	}

	total := money.D(q.TreatmentPrice).Add(products).Add(packages)
	paid := money.D(money.Round(in.AlreadyPaid))
	unpaid := decimal.Max(total.Sub(paid), decimal.Zero)

	applied := decimal.Zero
	seen := make(map[uuid.UUID]bool, len(in.Abonos))
	for _, a := range in.Abonos {
		if seen[a.AbonoID] {
			return nil, apperr.Validation("abono %s is listed twice", a.AbonoID)
		}
		seen[a.AbonoID] = true
		if !money.Positive(a.Requested) {
			return nil, apperr.Validation("amount for abono %s must be greater than 0", a.AbonoID)
		}
		if money.Cmp(a.Requested, a.Remaining) > 0 {
			return nil, apperr.Validation("amount %.2f exceeds the abono balance %.2f", a.Requested, a.Remaining)
		}
		use := decimal.Min(money.D(a.Requested).Round(money.Places), unpaid.Sub(applied))
		applied = applied.Add(use)
		q.Abonos = append(q.Abonos, QuoteAbono{
			AbonoID:   a.AbonoID,
			Requested: money.Round(a.Requested),
			Applied:   money.Float(use),
		})
	}

	q.ProductsTotal = money.Float(products)
	q.PackagesTotal = money.Float(packages)
	q.Total = money.Float(total)
	q.AlreadyPaid = money.Float(paid)
	q.AbonoApplied = money.Float(applied)
	q.Remaining = money.Float(unpaid.Sub(applied))
	return q, nil
}
