package billing

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/money"
)

// ---- mocks ----

type mockAbonoRepo struct {
	store  map[uuid.UUID]*Abono
	usages []*AbonoUsage
}

func (m *mockAbonoRepo) Create(_ context.Context, a *Abono) error {
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockAbonoRepo) GetByID(_ context.Context, id uuid.UUID) (*Abono, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("abono")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAbonoRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Abono, error) {
	return m.GetByID(ctx, id)
}

func (m *mockAbonoRepo) Save(_ context.Context, a *Abono) error {
	cp := *a
	m.store[a.ID] = &cp
	return nil
}

func (m *mockAbonoRepo) Search(_ context.Context, params map[string]string, _ string, _, _ int) ([]*Abono, int, error) {
	var out []*Abono
	for _, a := range m.store {
		if id := params["patient_id"]; id != "" && a.PatientID.String() != id {
			continue
		}
		if st := params["status"]; st != "" && a.Status != st {
			continue
		}
		out = append(out, a)
	}
	return out, len(out), nil
}

func (m *mockAbonoRepo) CreateUsage(_ context.Context, u *AbonoUsage) error {
	u.ID = uuid.New()
	cp := *u
	m.usages = append(m.usages, &cp)
	return nil
}

func (m *mockAbonoRepo) ListUsagesByAbono(_ context.Context, abonoID uuid.UUID) ([]*AbonoUsage, error) {
	var out []*AbonoUsage
	for _, u := range m.usages {
		if u.AbonoID == abonoID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockAbonoRepo) ListUsagesByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*AbonoUsage, error) {
	var out []*AbonoUsage
	for _, u := range m.usages {
		if u.AppointmentID == appointmentID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockAbonoRepo) MarkUsageReversed(_ context.Context, id uuid.UUID) error {
	for _, u := range m.usages {
		if u.ID == id && u.ReversedAt == nil {
			now := time.Now()
			u.ReversedAt = &now
		}
	}
	return nil
}

type mockPaymentRepo struct {
	store map[uuid.UUID]*Payment
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("payment")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPaymentRepo) MarkVoided(_ context.Context, p *Payment) error {
	stored, ok := m.store[p.ID]
	if !ok || stored.Status != PaymentCompleted {
		return apperr.NotFound("payment")
	}
	now := time.Now()
	stored.Status = PaymentVoided
	stored.VoidedAt = &now
	p.Status = PaymentVoided
	p.VoidedAt = &now
	return nil
}

func (m *mockPaymentRepo) Search(_ context.Context, params map[string]string, _ string, _, _ int) ([]*Payment, int, error) {
	var out []*Payment
	for _, p := range m.store {
		if method := params["method"]; method != "" && p.Method != method {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaidAt.Before(out[j].PaidAt) })
	return out, len(out), nil
}

func (m *mockPaymentRepo) list(match func(*Payment) bool) []*Payment {
	var out []*Payment
	for _, p := range m.store {
		if match(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (m *mockPaymentRepo) ListByAppointment(_ context.Context, id uuid.UUID) ([]*Payment, error) {
	return m.list(func(p *Payment) bool { return p.AppointmentID != nil && *p.AppointmentID == id }), nil
}

func (m *mockPaymentRepo) ListBySale(_ context.Context, id uuid.UUID) ([]*Payment, error) {
	return m.list(func(p *Payment) bool { return p.SaleID != nil && *p.SaleID == id }), nil
}

// mockSaleRepo derives the paid amount from the payment mock the way the
// SQL does.
type mockSaleRepo struct {
	store    map[uuid.UUID]*Sale
	payments *mockPaymentRepo
}

func (m *mockSaleRepo) Create(_ context.Context, s *Sale) error {
	s.ID = uuid.New()
	cp := *s
	cp.Items = append([]SaleItem(nil), s.Items...)
	m.store[s.ID] = &cp
	return nil
}

func (m *mockSaleRepo) GetByID(_ context.Context, id uuid.UUID) (*Sale, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, apperr.NotFound("sale")
	}
	cp := *s
	var paid []float64
	for _, p := range m.payments.store {
		if p.SaleID != nil && *p.SaleID == id && p.Status == PaymentCompleted {
			paid = append(paid, p.Amount)
		}
	}
	cp.PaidAmount = money.Sum(paid...)
	return &cp, nil
}

func (m *mockSaleRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return m.GetByID(ctx, id)
}

func (m *mockSaleRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	s, ok := m.store[id]
	if !ok {
		return apperr.NotFound("sale")
	}
	s.Status = status
	return nil
}

func (m *mockSaleRepo) Search(_ context.Context, _ map[string]string, _ string, _, _ int) ([]*Sale, int, error) {
	var out []*Sale
	for _, s := range m.store {
		out = append(out, s)
	}
	return out, len(out), nil
}

type mockPatients map[uuid.UUID]bool

func (m mockPatients) Exists(_ context.Context, id uuid.UUID) error {
	if !m[id] {
		return apperr.NotFound("patient")
	}
	return nil
}

type mockInventory struct {
	products  map[uuid.UUID]*inventory.Product
	movements []*inventory.StockMovement
}

func (m *mockInventory) GetProduct(_ context.Context, id uuid.UUID) (*inventory.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, apperr.NotFound("product")
	}
	cp := *p
	return &cp, nil
}

func (m *mockInventory) AdjustStock(_ context.Context, id uuid.UUID, delta int, reason string, ref *uuid.UUID, _ string) (*inventory.StockMovement, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, apperr.NotFound("product")
	}
	if p.Stock+delta < 0 {
		return nil, apperr.InsufficientStock(p.Name, p.Stock, -delta)
	}
	p.Stock += delta
	mv := &inventory.StockMovement{ProductID: id, Delta: delta, StockAfter: p.Stock, Reason: reason, ReferenceID: ref}
	m.movements = append(m.movements, mv)
	return mv, nil
}

type methodList []string

func (m methodList) PaymentMethods(context.Context) ([]string, error) { return m, nil }

type fixture struct {
	svc      *Service
	abonos   *mockAbonoRepo
	payments *mockPaymentRepo
	sales    *mockSaleRepo
	inv      *mockInventory
	patient  uuid.UUID
	gauze    *inventory.Product
	cream    *inventory.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		abonos:   &mockAbonoRepo{store: map[uuid.UUID]*Abono{}},
		payments: &mockPaymentRepo{store: map[uuid.UUID]*Payment{}},
		inv:      &mockInventory{products: map[uuid.UUID]*inventory.Product{}},
		patient:  uuid.New(),
	}
	f.sales = &mockSaleRepo{store: map[uuid.UUID]*Sale{}, payments: f.payments}
	f.gauze = &inventory.Product{ID: uuid.New(), Name: "Gauze", Price: 2.5, Stock: 10, Status: "active"}
	f.cream = &inventory.Product{ID: uuid.New(), Name: "Cream", Price: 19.99, Stock: 1, Status: "active"}
	f.inv.products[f.gauze.ID] = f.gauze
	f.inv.products[f.cream.ID] = f.cream
	f.svc = NewService(f.abonos, f.payments, f.sales, db.NoTx{}, mockPatients{f.patient: true}, f.inv)
	return f
}

func (f *fixture) abono(t *testing.T, amount float64) *Abono {
	t.Helper()
	a := &Abono{PatientID: f.patient, Amount: amount, Method: "cash"}
	if err := f.svc.CreateAbono(context.Background(), a); err != nil {
		t.Fatalf("create abono: %v", err)
	}
	return a
}

// ---- abonos ----

func TestCreateAbono(t *testing.T) {
	f := newFixture(t)
	a := f.abono(t, 100.456)
	if a.Amount != 100.46 || a.RemainingAmount != 100.46 {
		t.Errorf("expected 100.46/100.46, got %v/%v", a.Amount, a.RemainingAmount)
	}
	if a.Status != AbonoActive {
		t.Errorf("expected active, got %s", a.Status)
	}
}

func TestCreateAbono_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.CreateAbono(ctx, &Abono{PatientID: f.patient, Amount: 0, Method: "cash"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero amount: expected validation error, got %v", err)
	}
	if err := f.svc.CreateAbono(ctx, &Abono{PatientID: f.patient, Amount: 10, Method: "bitcoin"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown method: expected validation error, got %v", err)
	}
	if err := f.svc.CreateAbono(ctx, &Abono{PatientID: uuid.New(), Amount: 10, Method: "cash"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown patient: expected not found, got %v", err)
	}
}

func TestValidateMethod_UsesClinicSettings(t *testing.T) {
	f := newFixture(t)
	f.svc.SetMethodProvider(methodList{"cash", "yape"})
	ctx := context.Background()

	if m, err := f.svc.ValidateMethod(ctx, " YAPE "); err != nil || m != "yape" {
		t.Errorf("expected yape, got %q, %v", m, err)
	}
	if _, err := f.svc.ValidateMethod(ctx, "card"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected card to be rejected, got %v", err)
	}
}

func TestConsumeAndReverseAbono(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.abono(t, 50)
	appt := uuid.New()

	if _, err := f.svc.ConsumeAbono(ctx, a.ID, appt, f.patient, 30); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := f.svc.ConsumeAbono(ctx, a.ID, appt, f.patient, 20); err != nil {
		t.Fatalf("consume rest: %v", err)
	}
	got, _ := f.svc.GetAbono(ctx, a.ID)
	if got.RemainingAmount != 0 || got.Status != AbonoExhausted {
		t.Fatalf("expected exhausted with 0 left, got %s with %v", got.Status, got.RemainingAmount)
	}

	restored, err := f.svc.ReverseUsages(ctx, appt)
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if restored != 50 {
		t.Errorf("expected 50 restored, got %v", restored)
	}
	got, _ = f.svc.GetAbono(ctx, a.ID)
	if got.RemainingAmount != 50 || got.Status != AbonoActive {
		t.Errorf("expected active with 50 left, got %s with %v", got.Status, got.RemainingAmount)
	}

	// A second reversal finds nothing left to undo.
	if again, _ := f.svc.ReverseUsages(ctx, appt); again != 0 {
		t.Errorf("expected nothing restored, got %v", again)
	}
}

func TestConsumeAbono_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.abono(t, 20)

	if _, err := f.svc.ConsumeAbono(ctx, a.ID, uuid.New(), f.patient, 20.01); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("over balance: expected validation error, got %v", err)
	}
	if _, err := f.svc.ConsumeAbono(ctx, a.ID, uuid.New(), uuid.New(), 5); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("other patient: expected validation error, got %v", err)
	}
	if _, err := f.svc.CancelAbono(ctx, a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.svc.ConsumeAbono(ctx, a.ID, uuid.New(), f.patient, 5); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("canceled: expected invalid state, got %v", err)
	}
}

func TestCancelAbono_UsedAbonoRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.abono(t, 40)
	f.svc.ConsumeAbono(ctx, a.ID, uuid.New(), f.patient, 10)

	if _, err := f.svc.CancelAbono(ctx, a.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected invalid state, got %v", err)
	}
}

func TestCreateCredit(t *testing.T) {
	f := newFixture(t)
	source := uuid.New()
	a, err := f.svc.CreateCredit(context.Background(), f.patient, 35, source, "refund")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Method != MethodCreditNote || a.SourceID == nil || *a.SourceID != source {
		t.Errorf("unexpected credit: %+v", a)
	}
}

// ---- payments ----

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	ctx := auth.WithIdentity(context.Background(), "worker-1", []string{auth.RoleReceptionist})
	appt := uuid.New()
	ref := "  op-778  "

	p := &Payment{AppointmentID: &appt, Amount: 12.345, Method: "Card", Reference: &ref}
	if err := f.svc.RecordPayment(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Amount != 12.35 || p.Method != "card" || p.Status != PaymentCompleted {
		t.Errorf("unexpected payment: %+v", p)
	}
	if p.Reference == nil || *p.Reference != "op-778" {
		t.Errorf("expected trimmed reference, got %v", p.Reference)
	}
	if p.CreatedBy == nil || *p.CreatedBy != "worker-1" {
		t.Errorf("expected created_by worker-1, got %v", p.CreatedBy)
	}
	if p.PaidAt.IsZero() {
		t.Error("expected paid_at to be set")
	}
}

func TestRecordPayment_NeedsExactlyOneTarget(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	cases := []*Payment{
		{Amount: 10, Method: "cash"},
		{AppointmentID: &a, SaleID: &b, Amount: 10, Method: "cash"},
	}
	for i, p := range cases {
		if err := f.svc.RecordPayment(context.Background(), p); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestPay_RoutesToRegisteredPayer(t *testing.T) {
	f := newFixture(t)
	appt := uuid.New()
	var gotID uuid.UUID
	f.svc.RegisterPayer(TargetAppointment, func(_ context.Context, id uuid.UUID, in PaymentInput) (*Payment, error) {
		gotID = id
		return &Payment{AppointmentID: &id, Amount: in.Amount}, nil
	})

	if _, err := f.svc.Pay(context.Background(), PaymentRequest{
		PaymentInput:  PaymentInput{Amount: 5, Method: "cash"},
		AppointmentID: &appt,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != appt {
		t.Errorf("expected payer to get %s, got %s", appt, gotID)
	}

	pp := uuid.New()
	if _, err := f.svc.Pay(context.Background(), PaymentRequest{PatientPackageID: &pp}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected invalid state for unregistered target, got %v", err)
	}
}

func TestVoidPayment_NotifiesListeners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := uuid.New()
	p := &Payment{AppointmentID: &appt, Amount: 10, Method: "cash"}
	f.svc.RecordPayment(ctx, p)

	var notified *Payment
	f.svc.AddVoidListener(VoidListenerFunc(func(_ context.Context, v *Payment) error {
		notified = v
		return nil
	}))

	voided, err := f.svc.VoidPayment(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voided.Status != PaymentVoided || voided.VoidedAt == nil {
		t.Errorf("expected voided payment, got %+v", voided)
	}
	if notified == nil || notified.ID != p.ID {
		t.Error("expected listener to be notified")
	}
	if _, err := f.svc.VoidPayment(ctx, p.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected invalid state on second void, got %v", err)
	}
}

func TestVoidPayment_ListenerErrorAborts(t *testing.T) {
	f := newFixture(t)
	appt := uuid.New()
	p := &Payment{AppointmentID: &appt, Amount: 10, Method: "cash"}
	f.svc.RecordPayment(context.Background(), p)

	boom := errors.New("boom")
	f.svc.AddVoidListener(VoidListenerFunc(func(context.Context, *Payment) error { return boom }))
	if _, err := f.svc.VoidPayment(context.Background(), p.ID); !errors.Is(err, boom) {
		t.Errorf("expected listener error, got %v", err)
	}
}

// ---- sales ----

func TestCreateSale_PricesFromCatalogAndTakesStock(t *testing.T) {
	f := newFixture(t)
	s, err := f.svc.CreateSale(context.Background(), SaleRequest{
		PatientID: &f.patient,
		Items: []SaleItemRequest{
			{ProductID: f.gauze.ID, Quantity: 3},
			{ProductID: f.cream.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Total != 27.49 {
		t.Errorf("expected total 27.49, got %v", s.Total)
	}
	if s.Status != SalePending {
		t.Errorf("expected pending, got %s", s.Status)
	}
	if f.gauze.Stock != 7 || f.cream.Stock != 0 {
		t.Errorf("expected stock 7/0, got %d/%d", f.gauze.Stock, f.cream.Stock)
	}
	for _, mv := range f.inv.movements {
		if mv.Reason != inventory.ReasonSale || mv.ReferenceID == nil || *mv.ReferenceID != s.ID {
			t.Errorf("unexpected movement: %+v", mv)
		}
	}
}

func TestCreateSale_WithFullPaymentIsPaid(t *testing.T) {
	f := newFixture(t)
	s, err := f.svc.CreateSale(context.Background(), SaleRequest{
		Items:   []SaleItemRequest{{ProductID: f.gauze.ID, Quantity: 2}},
		Payment: &PaymentInput{Amount: 5, Method: "cash"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status != SalePaid || s.PaidAmount != 5 {
		t.Errorf("expected paid 5, got %s %v", s.Status, s.PaidAmount)
	}
}

func TestCreateSale_FreeSaleIgnoresPayment(t *testing.T) {
	f := newFixture(t)
	sample := &inventory.Product{ID: uuid.New(), Name: "Sample", Price: 0, Stock: 5, Status: "active"}
	f.inv.products[sample.ID] = sample

	s, err := f.svc.CreateSale(context.Background(), SaleRequest{
		Items:   []SaleItemRequest{{ProductID: sample.ID, Quantity: 1}},
		Payment: &PaymentInput{Amount: 5, Method: "cash"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status != SalePaid || s.PaidAmount != 0 {
		t.Errorf("expected paid with nothing collected, got %s %v", s.Status, s.PaidAmount)
	}
	if len(f.payments.store) != 0 {
		t.Errorf("no payment should be recorded, got %d", len(f.payments.store))
	}
	if sample.Stock != 4 {
		t.Errorf("expected stock 4, got %d", sample.Stock)
	}
}

func TestExportPayments_TooMany(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		appt := uuid.New()
		if err := f.svc.RecordPayment(ctx, &Payment{AppointmentID: &appt, Amount: 10, Method: "cash"}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	defer func(n int) { exportLimit = n }(exportLimit)
	exportLimit = 2

	if _, err := f.svc.ExportPayments(ctx, map[string]string{}, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	exportLimit = 3
	if _, err := f.svc.ExportPayments(ctx, map[string]string{}, ""); err != nil {
		t.Errorf("unexpected error at the limit: %v", err)
	}
}

func TestCreateSale_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateSale(ctx, SaleRequest{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("no items: expected validation error, got %v", err)
	}
	if _, err := f.svc.CreateSale(ctx, SaleRequest{Items: []SaleItemRequest{{ProductID: f.gauze.ID}}}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero quantity: expected validation error, got %v", err)
	}
	if _, err := f.svc.CreateSale(ctx, SaleRequest{Items: []SaleItemRequest{{ProductID: f.cream.ID, Quantity: 2}}}); !errors.Is(err, apperr.ErrInsufficientStock) {
		t.Errorf("short stock: expected insufficient stock, got %v", err)
	}
	if _, err := f.svc.CreateSale(ctx, SaleRequest{
		Items:   []SaleItemRequest{{ProductID: f.gauze.ID, Quantity: 1}},
		Payment: &PaymentInput{Amount: 3, Method: "cash"},
	}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("overpayment: expected validation error, got %v", err)
	}
	f.gauze.Status = "inactive"
	if _, err := f.svc.CreateSale(ctx, SaleRequest{Items: []SaleItemRequest{{ProductID: f.gauze.ID, Quantity: 1}}}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("inactive product: expected invalid state, got %v", err)
	}
}

func TestPaySale_InstallmentsAndVoid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateSale(ctx, SaleRequest{Items: []SaleItemRequest{{ProductID: f.gauze.ID, Quantity: 4}}})

	first, err := f.svc.PaySale(ctx, s.ID, PaymentInput{Amount: 6, Method: "cash"})
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if _, err := f.svc.PaySale(ctx, s.ID, PaymentInput{Amount: 4.01, Method: "cash"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error above the amount due, got %v", err)
	}
	if _, err := f.svc.PaySale(ctx, s.ID, PaymentInput{Amount: 4, Method: "card"}); err != nil {
		t.Fatalf("second payment: %v", err)
	}
	got, _ := f.svc.GetSale(ctx, s.ID)
	if got.Status != SalePaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}

	if _, err := f.svc.VoidPayment(ctx, first.ID); err != nil {
		t.Fatalf("void: %v", err)
	}
	got, _ = f.svc.GetSale(ctx, s.ID)
	if got.Status != SalePending || got.PaidAmount != 4 {
		t.Errorf("expected pending with 4 paid, got %s with %v", got.Status, got.PaidAmount)
	}
}

func TestPay_SaleTargetIsBuiltIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateSale(ctx, SaleRequest{Items: []SaleItemRequest{{ProductID: f.gauze.ID, Quantity: 1}}})

	p, err := f.svc.Pay(ctx, PaymentRequest{PaymentInput: PaymentInput{Amount: 2.5, Method: "cash"}, SaleID: &s.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SaleID == nil || *p.SaleID != s.ID {
		t.Errorf("expected payment for sale %s", s.ID)
	}
}

func TestCancelSale_RestoresStockAndVoidsPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.svc.CreateSale(ctx, SaleRequest{
		Items:   []SaleItemRequest{{ProductID: f.gauze.ID, Quantity: 2}},
		Payment: &PaymentInput{Amount: 5, Method: "cash"},
	})

	canceled, err := f.svc.CancelSale(ctx, s.ID, "wrong item")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if canceled.Status != SaleCanceled {
		t.Errorf("expected canceled, got %s", canceled.Status)
	}
	if f.gauze.Stock != 10 {
		t.Errorf("expected stock restored to 10, got %d", f.gauze.Stock)
	}
	for _, p := range f.payments.store {
		if p.Status != PaymentVoided {
			t.Errorf("expected payment %s voided", p.ID)
		}
	}
	if _, err := f.svc.CancelSale(ctx, s.ID, ""); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected invalid state on second cancel, got %v", err)
	}
	if _, err := f.svc.PaySale(ctx, s.ID, PaymentInput{Amount: 1, Method: "cash"}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("expected invalid state paying a canceled sale, got %v", err)
	}
}
