package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/domain/settings"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
	"github.com/clinic/clinic/pkg/money"
)

// PatientChecker confirms a patient exists.
type PatientChecker interface {
	Exists(ctx context.Context, id uuid.UUID) error
}

// Inventory is the part of the product catalog sales need.
type Inventory interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
	AdjustStock(ctx context.Context, productID uuid.UUID, delta int, reason string, ref *uuid.UUID, note string) (*inventory.StockMovement, error)
}

// MethodProvider lists the payment methods the clinic accepts.
type MethodProvider interface {
	PaymentMethods(ctx context.Context) ([]string, error)
}

// Payer takes a payment for one kind of target, applying whatever the
// target needs besides the payment row.
type Payer func(ctx context.Context, targetID uuid.UUID, in PaymentInput) (*Payment, error)

// VoidListener is told about voided payments inside the voiding
// transaction. An error aborts the void.
type VoidListener interface {
	PaymentVoided(ctx context.Context, p *Payment) error
}

// VoidListenerFunc adapts a function to VoidListener.
type VoidListenerFunc func(ctx context.Context, p *Payment) error

func (f VoidListenerFunc) PaymentVoided(ctx context.Context, p *Payment) error { return f(ctx, p) }

type Service struct {
	abonos    AbonoRepository
	payments  PaymentRepository
	sales     SaleRepository
	tx        db.Transactor
	patients  PatientChecker
	inventory Inventory
	methods   MethodProvider
	payers    map[string]Payer
	listeners []VoidListener
	publisher websocket.Publisher
	now       func() time.Time
}

func NewService(abonos AbonoRepository, payments PaymentRepository, sales SaleRepository, tx db.Transactor,
	patients PatientChecker, inv Inventory) *Service {
	s := &Service{
		abonos:    abonos,
		payments:  payments,
		sales:     sales,
		tx:        tx,
		patients:  patients,
		inventory: inv,
		payers:    map[string]Payer{},
		publisher: websocket.NopPublisher{},
		now:       time.Now,
	}
	s.payers[TargetSale] = s.PaySale
	return s
}

func (s *Service) SetMethodProvider(m MethodProvider) { s.methods = m }

func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

// RegisterPayer routes POST /payments requests for kind to fn.
func (s *Service) RegisterPayer(kind string, fn Payer) { s.payers[kind] = fn }

func (s *Service) AddVoidListener(l VoidListener) { s.listeners = append(s.listeners, l) }

// ValidateMethod normalizes method and checks it against the clinic's
// accepted methods.
func (s *Service) ValidateMethod(ctx context.Context, method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return "", apperr.Validation("payment method is required")
	}
	accepted := settings.DefaultPaymentMethods
	if s.methods != nil {
		if m, err := s.methods.PaymentMethods(ctx); err == nil && len(m) > 0 {
			accepted = m
		}
	}
	for _, a := range accepted {
		if a == method {
			return method, nil
		}
	}
	return "", apperr.Validation("payment method %q is not accepted", method)
}

// ---- Abono ----

func (s *Service) CreateAbono(ctx context.Context, a *Abono) error {
	if err := s.patients.Exists(ctx, a.PatientID); err != nil {
		return err
	}
	if !money.Positive(a.Amount) {
		return apperr.Validation("amount must be greater than 0")
	}
	method, err := s.ValidateMethod(ctx, a.Method)
	if err != nil {
		return err
	}
	a.Method = method
	a.Amount = money.Round(a.Amount)
	a.RemainingAmount = a.Amount
	a.Status = AbonoActive
	a.SourceID = nil
	if a.Note != nil {
		if n := strings.TrimSpace(*a.Note); n != "" {
			a.Note = &n
		} else {
			a.Note = nil
		}
	}
	if err := s.abonos.Create(ctx, a); err != nil {
		return err
	}
	s.publishAbono(ctx, "abono.created", a)
	return nil
}

// CreateCredit issues clinic credit to a patient, such as the refund of a
// canceled appointment. sourceID names what the credit comes from.
func (s *Service) CreateCredit(ctx context.Context, patientID uuid.UUID, amount float64, sourceID uuid.UUID, note string) (*Abono, error) {
	if !money.Positive(amount) {
		return nil, apperr.Validation("credit must be greater than 0")
	}
	a := &Abono{
		PatientID:       patientID,
		Amount:          money.Round(amount),
		RemainingAmount: money.Round(amount),
		Method:          MethodCreditNote,
		Status:          AbonoActive,
		SourceID:        &sourceID,
	}
	if note != "" {
		a.Note = &note
	}
	if err := s.abonos.Create(ctx, a); err != nil {
		return nil, err
	}
	s.publishAbono(ctx, "abono.created", a)
	return a, nil
}

func (s *Service) GetAbono(ctx context.Context, id uuid.UUID) (*Abono, error) {
	return s.abonos.GetByID(ctx, id)
}

func (s *Service) SearchAbonos(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Abono, int, error) {
	return s.abonos.Search(ctx, params, sort, limit, offset)
}

// ListPatientAbonos lists a patient's abonos, oldest first.
func (s *Service) ListPatientAbonos(ctx context.Context, patientID uuid.UUID, params map[string]string, limit, offset int) ([]*Abono, int, error) {
	if err := s.patients.Exists(ctx, patientID); err != nil {
		return nil, 0, err
	}
	filtered := make(map[string]string, len(params)+1)
	for k, v := range params {
		filtered[k] = v
	}
	filtered["patient_id"] = patientID.String()
	return s.abonos.Search(ctx, filtered, "", limit, offset)
}

func (s *Service) ListUsages(ctx context.Context, abonoID uuid.UUID) ([]*AbonoUsage, error) {
	if _, err := s.abonos.GetByID(ctx, abonoID); err != nil {
		return nil, err
	}
	return s.abonos.ListUsagesByAbono(ctx, abonoID)
}

// AppointmentUsages lists the abono usages of an appointment, reversed ones
// included.
func (s *Service) AppointmentUsages(ctx context.Context, appointmentID uuid.UUID) ([]*AbonoUsage, error) {
	return s.abonos.ListUsagesByAppointment(ctx, appointmentID)
}

// CancelAbono cancels an abono nothing has been taken from.
func (s *Service) CancelAbono(ctx context.Context, id uuid.UUID) (*Abono, error) {
	var a *Abono
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.abonos.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != AbonoActive {
			return apperr.InvalidState("abono is %s", a.Status)
		}
		if money.Cmp(a.RemainingAmount, a.Amount) != 0 {
			return apperr.InvalidState("abono has been used and cannot be canceled")
		}
		a.Status = AbonoCanceled
		a.RemainingAmount = 0
		return s.abonos.Save(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.publishAbono(ctx, "abono.canceled", a)
	return a, nil
}

// ConsumeAbono takes amount from an abono for an appointment of the same
// patient.
func (s *Service) ConsumeAbono(ctx context.Context, abonoID, appointmentID, patientID uuid.UUID, amount float64) (*AbonoUsage, error) {
	if !money.Positive(amount) {
		return nil, apperr.Validation("abono amount must be greater than 0")
	}
	var u *AbonoUsage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.abonos.GetForUpdate(ctx, abonoID)
		if err != nil {
			return err
		}
		if a.PatientID != patientID {
			return apperr.Validation("abono %s belongs to another patient", abonoID)
		}
		if a.Status != AbonoActive {
			return apperr.InvalidState("abono %s is %s", abonoID, a.Status)
		}
		if money.Cmp(amount, a.RemainingAmount) > 0 {
			return apperr.Validation("amount %.2f exceeds the abono balance %.2f", amount, a.RemainingAmount)
		}
		a.RemainingAmount = money.Sub(a.RemainingAmount, amount)
		if !money.Positive(a.RemainingAmount) {
			a.RemainingAmount = 0
			a.Status = AbonoExhausted
		}
		if err := s.abonos.Save(ctx, a); err != nil {
			return err
		}
		u = &AbonoUsage{AbonoID: abonoID, AppointmentID: appointmentID, Amount: money.Round(amount)}
		return s.abonos.CreateUsage(ctx, u)
	})
	return u, err
}

// ReverseUsages gives back every unreversed usage of an appointment and
// returns the total restored.
func (s *Service) ReverseUsages(ctx context.Context, appointmentID uuid.UUID) (float64, error) {
	var restored []float64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		usages, err := s.abonos.ListUsagesByAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		for _, u := range usages {
			if u.ReversedAt != nil {
				continue
			}
			a, err := s.abonos.GetForUpdate(ctx, u.AbonoID)
			if err != nil {
				return err
			}
			a.RemainingAmount = money.Min(money.Sum(a.RemainingAmount, u.Amount), a.Amount)
			if a.Status == AbonoExhausted {
				a.Status = AbonoActive
			}
			if err := s.abonos.Save(ctx, a); err != nil {
				return err
			}
			if err := s.abonos.MarkUsageReversed(ctx, u.ID); err != nil {
				return err
			}
			restored = append(restored, u.Amount)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return money.Sum(restored...), nil
}

func (s *Service) publishAbono(ctx context.Context, eventType string, a *Abono) {
	_ = s.publisher.Publish(ctx, websocket.NewEvent(eventType, websocket.PatientTopic(a.PatientID.String()),
		"abono", a.ID.String(), a))
}

// ---- Payment ----

// RecordPayment stores a completed payment for exactly one target. Callers
// check the target's balance.
func (s *Service) RecordPayment(ctx context.Context, p *Payment) error {
	if p.targetCount() != 1 {
		return apperr.Validation("a payment needs exactly one of appointment_id, sale_id or patient_package_id")
	}
	if !money.Positive(p.Amount) {
		return apperr.Validation("amount must be greater than 0")
	}
	method, err := s.ValidateMethod(ctx, p.Method)
	if err != nil {
		return err
	}
	p.Method = method
	p.Amount = money.Round(p.Amount)
	p.Status = PaymentCompleted
	if p.PaidAt.IsZero() {
		p.PaidAt = s.now().UTC()
	}
	if p.Reference != nil {
		if ref := strings.TrimSpace(*p.Reference); ref != "" {
			p.Reference = &ref
		} else {
			p.Reference = nil
		}
	}
	p.CreatedBy = actor(ctx)
	if err := s.payments.Create(ctx, p); err != nil {
		return err
	}
	_ = s.publisher.Publish(ctx, websocket.NewEvent("payment.recorded", websocket.TopicBilling, "payment", p.ID.String(), p))
	return nil
}

// RecordPackagePayment records a payment against a patient package.
func (s *Service) RecordPackagePayment(ctx context.Context, patientID, patientPackageID uuid.UUID, amount float64, method, reference string) error {
	p := &Payment{
		PatientID:        &patientID,
		PatientPackageID: &patientPackageID,
		Amount:           amount,
		Method:           method,
		Reference:        optional(reference),
	}
	return s.RecordPayment(ctx, p)
}

// Pay routes a desk payment to the payer registered for its target.
func (s *Service) Pay(ctx context.Context, req PaymentRequest) (*Payment, error) {
	target := Payment{AppointmentID: req.AppointmentID, SaleID: req.SaleID, PatientPackageID: req.PatientPackageID}
	if target.targetCount() != 1 {
		return nil, apperr.Validation("a payment needs exactly one of appointment_id, sale_id or patient_package_id")
	}
	kind, id := target.Target()
	payer, ok := s.payers[kind]
	if !ok {
		return nil, apperr.InvalidState("payments for %s are not available", kind)
	}
	return payer(ctx, id, req.PaymentInput)
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return s.payments.GetByID(ctx, id)
}

func (s *Service) SearchPayments(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Payment, int, error) {
	return s.payments.Search(ctx, params, sort, limit, offset)
}

func (s *Service) AppointmentPayments(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	return s.payments.ListByAppointment(ctx, appointmentID)
}

// VoidPayment voids a completed payment and lets the listeners undo what
// the payment paid for.
func (s *Service) VoidPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.payments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != PaymentCompleted {
			return apperr.InvalidState("payment is already %s", p.Status)
		}
		if err := s.payments.MarkVoided(ctx, p); err != nil {
			return err
		}
		if p.SaleID != nil {
			if err := s.refreshSaleStatus(ctx, *p.SaleID); err != nil {
				return err
			}
		}
		for _, l := range s.listeners {
			if err := l.PaymentVoided(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = s.publisher.Publish(ctx, websocket.NewEvent("payment.voided", websocket.TopicBilling, "payment", p.ID.String(), p))
	return p, nil
}

func actor(ctx context.Context) *string {
	if id := auth.UserIDFromContext(ctx); id != "" {
		return &id
	}
	return nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
