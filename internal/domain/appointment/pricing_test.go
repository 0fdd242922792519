package appointment

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
)

func ptr(v float64) *float64 { return &v }

func TestPrice_TotalRecomputesWhenQuantityChanges(t *testing.T) {
	gauze := PricedProduct{ProductID: uuid.New(), Name: "Gauze", UnitPrice: 2.5, Quantity: 1}
	in := PricingInput{TreatmentPrice: 80, Products: []PricedProduct{gauze}}

	q, err := Price(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Total != 82.5 {
		t.Errorf("expected 82.5, got %v", q.Total)
	}

	in.Products[0].Quantity = 4
	q, err = Price(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Total != 90 || q.ProductsTotal != 10 || q.Products[0].Subtotal != 10 {
		t.Errorf("expected 90 with products 10, got %v with %v", q.Total, q.ProductsTotal)
	}
	if q.Remaining != 90 {
		t.Errorf("expected remaining 90, got %v", q.Remaining)
	}
}

func TestPrice_QuantityMustBePositive(t *testing.T) {
	_, err := Price(PricingInput{Products: []PricedProduct{{Name: "Gauze", UnitPrice: 1, Quantity: 0}}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPrice_NegativeTreatment(t *testing.T) {
	if _, err := Price(PricingInput{TreatmentPrice: -1}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPrice_PackageDefaults(t *testing.T) {
	owned := uuid.New()
	tests := []struct {
		name    string
		pkg     PricedPackage
		wantPay float64
		wantMax float64
		owned   bool
	}{
		{"new purchase pays full price", PricedPackage{Name: "Rehab", Price: 300}, 300, 300, false},
		{"owned instance pays its debt", PricedPackage{Name: "Rehab", Price: 300, OpenInstance: &owned, Debt: 120}, 120, 120, true},
		{"owned and settled pays nothing", PricedPackage{Name: "Rehab", Price: 300, OpenInstance: &owned, Debt: 0}, 0, 0, true},
		{"override within bounds", PricedPackage{Name: "Rehab", Price: 300, Override: ptr(50)}, 50, 300, false},
		{"override of zero", PricedPackage{Name: "Rehab", Price: 300, OpenInstance: &owned, Debt: 120, Override: ptr(0)}, 0, 120, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Price(PricingInput{Packages: []PricedPackage{tt.pkg}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := q.Packages[0]
			if got.PaymentAmount != tt.wantPay || got.MaxPayment != tt.wantMax || got.Owned != tt.owned {
				t.Errorf("got pay %v max %v owned %v", got.PaymentAmount, got.MaxPayment, got.Owned)
			}
			if q.Total != tt.wantPay {
				t.Errorf("expected total %v, got %v", tt.wantPay, q.Total)
			}
		})
	}
}

func TestPrice_PackageOverrideBounds(t *testing.T) {
	owned := uuid.New()
	cases := []PricedPackage{
		{Name: "Rehab", Price: 300, Override: ptr(300.01)},
		{Name: "Rehab", Price: 300, Override: ptr(-5)},
		{Name: "Rehab", Price: 300, OpenInstance: &owned, Debt: 100, Override: ptr(150)},
	}
	for i, p := range cases {
		if _, err := Price(PricingInput{Packages: []PricedPackage{p}}); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestPrice_AbonosApplyInOrderAndCap(t *testing.T) {
	first, second, third := uuid.New(), uuid.New(), uuid.New()
	q, err := Price(PricingInput{
		TreatmentPrice: 100,
		Abonos: []PricedAbono{
			{AbonoID: first, Remaining: 60, Requested: 60},
			{AbonoID: second, Remaining: 80, Requested: 70},
			{AbonoID: third, Remaining: 10, Requested: 10},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{60, 40, 0}
	for i, a := range q.Abonos {
		if a.Applied != want[i] {
			t.Errorf("abono %d: expected %v applied, got %v", i, want[i], a.Applied)
		}
	}
	if q.AbonoApplied != 100 || q.Remaining != 0 {
		t.Errorf("expected 100 applied and 0 remaining, got %v and %v", q.AbonoApplied, q.Remaining)
	}
}

func TestPrice_AbonoRequestAboveBalance(t *testing.T) {
	_, err := Price(PricingInput{
		TreatmentPrice: 100,
		Abonos:         []PricedAbono{{AbonoID: uuid.New(), Remaining: 20, Requested: 20.01}},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPrice_AbonoListedTwice(t *testing.T) {
	id := uuid.New()
	_, err := Price(PricingInput{
		TreatmentPrice: 100,
		Abonos:         []PricedAbono{{AbonoID: id, Remaining: 50, Requested: 10}, {AbonoID: id, Remaining: 50, Requested: 10}},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPrice_RemainingNeverNegative(t *testing.T) {
	q, err := Price(PricingInput{
		TreatmentPrice: 30,
		AlreadyPaid:    25,
		Abonos:         []PricedAbono{{AbonoID: uuid.New(), Remaining: 50, Requested: 50}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.AbonoApplied != 5 || q.Remaining != 0 {
		t.Errorf("expected 5 applied and 0 remaining, got %v and %v", q.AbonoApplied, q.Remaining)
	}

	// Payments above the total leave nothing for abonos.
	q, _ = Price(PricingInput{
		TreatmentPrice: 30,
		AlreadyPaid:    40,
		Abonos:         []PricedAbono{{AbonoID: uuid.New(), Remaining: 50, Requested: 50}},
	})
	if q.AbonoApplied != 0 || q.Remaining != 0 {
		t.Errorf("expected nothing applied, got %v and %v", q.AbonoApplied, q.Remaining)
	}
}

func TestPrice_Rounding(t *testing.T) {
	q, err := Price(PricingInput{
		TreatmentPrice: 0.1,
		Products: []PricedProduct{
			{Name: "A", UnitPrice: 0.2, Quantity: 1},
			{Name: "B", UnitPrice: 3.333, Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 3.333 is priced as 3.33 before multiplying.
	if q.Products[1].Subtotal != 9.99 {
		t.Errorf("expected subtotal 9.99, got %v", q.Products[1].Subtotal)
	}
	if q.Total != 10.29 {
		t.Errorf("expected total 10.29, got %v", q.Total)
	}
}

func TestPrice_FullBreakdown(t *testing.T) {
	owned := uuid.New()
	q, err := Price(PricingInput{
		TreatmentPrice: 50,
		Products:       []PricedProduct{{Name: "Tape", UnitPrice: 7.5, Quantity: 2}},
		Packages: []PricedPackage{
			{Name: "Rehab", Price: 300, OpenInstance: &owned, Debt: 100, Override: ptr(40)},
			{Name: "Massage", Price: 90},
		},
		Abonos: []PricedAbono{{AbonoID: uuid.New(), Remaining: 100, Requested: 100}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ProductsTotal != 15 || q.PackagesTotal != 130 || q.Total != 195 {
		t.Errorf("unexpected totals: products %v packages %v total %v", q.ProductsTotal, q.PackagesTotal, q.Total)
	}
	if q.Remaining != 95 {
		t.Errorf("expected remaining 95, got %v", q.Remaining)
	}
}
