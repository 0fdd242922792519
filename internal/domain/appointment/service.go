package appointment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/domain/packages"
	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/domain/worker"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
	"github.com/clinic/clinic/pkg/money"
)

type Patients interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Workers interface {
	Get(ctx context.Context, id uuid.UUID) (*worker.Worker, error)
}

type Inventory interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
	AdjustStock(ctx context.Context, productID uuid.UUID, delta int, reason string, ref *uuid.UUID, note string) (*inventory.StockMovement, error)
}

type Packages interface {
	GetPackage(ctx context.Context, id uuid.UUID) (*packages.Package, error)
	FindOpen(ctx context.Context, patientID, packageID uuid.UUID) (*packages.PatientPackage, error)
	Purchase(ctx context.Context, patientID, packageID uuid.UUID, payment float64) (*packages.PatientPackage, error)
	ApplyPayment(ctx context.Context, id uuid.UUID, amount float64) (*packages.PatientPackage, error)
	RestoreDebt(ctx context.Context, id uuid.UUID, amount float64) (*packages.PatientPackage, error)
	ConsumeSession(ctx context.Context, id uuid.UUID) (*packages.PatientPackage, error)
	ReleaseSession(ctx context.Context, id uuid.UUID, cancelUnused bool) (*packages.PatientPackage, error)
}

type Billing interface {
	GetAbono(ctx context.Context, id uuid.UUID) (*billing.Abono, error)
	ConsumeAbono(ctx context.Context, abonoID, appointmentID, patientID uuid.UUID, amount float64) (*billing.AbonoUsage, error)
	ReverseUsages(ctx context.Context, appointmentID uuid.UUID) (float64, error)
	CreateCredit(ctx context.Context, patientID uuid.UUID, amount float64, sourceID uuid.UUID, note string) (*billing.Abono, error)
	RecordPayment(ctx context.Context, p *billing.Payment) error
	AppointmentPayments(ctx context.Context, appointmentID uuid.UUID) ([]*billing.Payment, error)
	AppointmentUsages(ctx context.Context, appointmentID uuid.UUID) ([]*billing.AbonoUsage, error)
}

// DurationDefault supplies the clinic's default appointment length.
type DurationDefault interface {
	DefaultAppointmentMinutes(ctx context.Context) (int, error)
}

const fallbackMinutes = 30

type Service struct {
	repo      Repository
	tx        db.Transactor
	patients  Patients
	workers   Workers
	inventory Inventory
	packages  Packages
	billing   Billing
	durations DurationDefault
	publisher websocket.Publisher
	now       func() time.Time
}

func NewService(repo Repository, tx db.Transactor, patients Patients, workers Workers,
	inv Inventory, pkgs Packages, bill Billing) *Service {
	return &Service{
		repo:      repo,
		tx:        tx,
		patients:  patients,
		workers:   workers,
		inventory: inv,
		packages:  pkgs,
		billing:   bill,
		publisher: websocket.NopPublisher{},
		now:       time.Now,
	}
}

func (s *Service) SetDurationDefault(d DurationDefault) { s.durations = d }

func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

func (s *Service) validateRequest(ctx context.Context, req *Request) error {
	if req.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if req.WorkerID == uuid.Nil {
		return apperr.Validation("worker_id is required")
	}
	if req.ScheduledAt.IsZero() {
		return apperr.Validation("scheduled_at is required")
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = fallbackMinutes
		if s.durations != nil {
			if m, err := s.durations.DefaultAppointmentMinutes(ctx); err == nil && m > 0 {
				req.DurationMinutes = m
			}
		}
	}
	if req.DurationMinutes < 5 || req.DurationMinutes > 480 {
		return apperr.Validation("duration_minutes must be between 5 and 480")
	}
	if req.TreatmentPrice != nil && money.Cmp(*req.TreatmentPrice, 0) < 0 {
		return apperr.Validation("treatment_price must not be negative")
	}
	seen := map[uuid.UUID]bool{}
	for i, p := range req.Products {
		if p.ProductID == uuid.Nil {
			return apperr.Validation("products[%d]: product_id is required", i)
		}
		if seen[p.ProductID] {
			return apperr.Validation("products[%d]: product listed twice", i)
		}
		seen[p.ProductID] = true
	}
	seen = map[uuid.UUID]bool{}
	for i, p := range req.Packages {
		if p.PackageID == uuid.Nil {
			return apperr.Validation("packages[%d]: package_id is required", i)
		}
		if seen[p.PackageID] {
			return apperr.Validation("packages[%d]: package listed twice", i)
		}
		seen[p.PackageID] = true
	}

	if _, err := s.patients.Get(ctx, req.PatientID); err != nil {
		return err
	}
	w, err := s.workers.Get(ctx, req.WorkerID)
	if err != nil {
		return err
	}
	if !w.Active {
		return apperr.InvalidState("worker %s is not active", w.FullName())
	}
	return nil
}

// pricingInput resolves catalog prices, open package instances and abono
// balances for req.
func (s *Service) pricingInput(ctx context.Context, req *Request, alreadyPaid float64) (PricingInput, error) {
	in := PricingInput{AlreadyPaid: alreadyPaid}
	if req.TreatmentPrice != nil {
		in.TreatmentPrice = *req.TreatmentPrice
	}
	for _, p := range req.Products {
		product, err := s.inventory.GetProduct(ctx, p.ProductID)
		if err != nil {
			return in, err
		}
		if product.Status != "active" {
			return in, apperr.InvalidState("product %s is not available", product.Name)
		}
		in.Products = append(in.Products, PricedProduct{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Quantity:  p.Quantity,
		})
	}
	for _, p := range req.Packages {
		pkg, err := s.packages.GetPackage(ctx, p.PackageID)
		if err != nil {
			return in, err
		}
		priced := PricedPackage{PackageID: pkg.ID, Name: pkg.Name, Price: pkg.Price, Override: p.PaymentAmount}
		open, err := s.packages.FindOpen(ctx, req.PatientID, pkg.ID)
		if err != nil {
			return in, err
		}
		if open != nil {
			priced.OpenInstance = &open.ID
			priced.Debt = open.Debt
		} else if pkg.Status != "active" {
			return in, apperr.InvalidState("package %s is not for sale", pkg.Name)
		}
		in.Packages = append(in.Packages, priced)
	}
	for _, a := range req.Abonos {
		abono, err := s.billing.GetAbono(ctx, a.AbonoID)
		if err != nil {
			return in, err
		}
		if abono.PatientID != req.PatientID {
			return in, apperr.Validation("abono %s belongs to another patient", a.AbonoID)
		}
		if abono.Status != billing.AbonoActive {
			return in, apperr.InvalidState("abono %s is %s", a.AbonoID, abono.Status)
		}
		in.Abonos = append(in.Abonos, PricedAbono{AbonoID: abono.ID, Remaining: abono.RemainingAmount, Requested: a.Amount})
	}
	return in, nil
}

// Quote prices req without changing anything.
func (s *Service) Quote(ctx context.Context, req Request) (*Quote, error) {
	if err := s.validateRequest(ctx, &req); err != nil {
		return nil, err
	}
	in, err := s.pricingInput(ctx, &req, 0)
	if err != nil {
		return nil, err
	}
	return Price(in)
}

// Create books an appointment and applies its side effects: stock, package
// sessions and debt, abono usages and the initial payment.
func (s *Service) Create(ctx context.Context, req Request) (*Appointment, error) {
	if err := s.validateRequest(ctx, &req); err != nil {
		return nil, err
	}
	a := &Appointment{
		PatientID:       req.PatientID,
		WorkerID:        req.WorkerID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Diagnosis:       optional(req.Diagnosis),
		TreatmentNotes:  optional(req.TreatmentNotes),
		TreatmentPrice:  roundedPtr(req.TreatmentPrice),
		CreatedBy:       actor(ctx),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		in, err := s.pricingInput(ctx, &req, 0)
		if err != nil {
			return err
		}
		q, err := Price(in)
		if err != nil {
			return err
		}
		return s.apply(ctx, a, q, req.Payment, true)
	})
	if err != nil {
		return nil, err
	}
	created, err := s.repo.GetByID(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "appointment.created", created)
	return created, nil
}

// apply prices a from q, claims package sessions, writes the row and takes
// stock, abonos and the optional payment.
func (s *Service) apply(ctx context.Context, a *Appointment, q *Quote, pay *billing.PaymentInput, insert bool) error {
	var payment float64
	if pay != nil {
		payment = money.Round(pay.Amount)
		if money.Cmp(payment, 0) < 0 || money.Cmp(payment, q.Remaining) > 0 {
			return apperr.Validation("payment must be between 0 and %.2f", q.Remaining)
		}
	}

	a.AppointmentPrice = q.Total
	a.Products = []ProductLine{}
	for _, p := range q.Products {
		a.Products = append(a.Products, ProductLine{
			ProductID:   p.ProductID,
			ProductName: p.Name,
			Quantity:    p.Quantity,
			UnitPrice:   p.UnitPrice,
			Subtotal:    p.Subtotal,
		})
	}
	a.Packages = []PackageLine{}
	for _, p := range q.Packages {
		line, err := s.claimPackage(ctx, a.PatientID, p)
		if err != nil {
			return err
		}
		a.Packages = append(a.Packages, line)
	}

	a.Status = StatusRegistered
	paid := money.Sum(q.AlreadyPaid, q.AbonoApplied, payment)
	if money.Positive(a.AppointmentPrice) && money.Cmp(paid, a.AppointmentPrice) >= 0 {
		a.Status = StatusPaid
	}
	if insert {
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
	} else if err := s.repo.Update(ctx, a); err != nil {
		return err
	}

	for _, p := range a.Products {
		if _, err := s.inventory.AdjustStock(ctx, p.ProductID, -p.Quantity, inventory.ReasonAppointment, &a.ID, ""); err != nil {
			return err
		}
	}
	for _, u := range q.Abonos {
		if !money.Positive(u.Applied) {
			continue
		}
		if _, err := s.billing.ConsumeAbono(ctx, u.AbonoID, a.ID, a.PatientID, u.Applied); err != nil {
			return err
		}
	}
	if money.Positive(payment) {
		return s.billing.RecordPayment(ctx, &billing.Payment{
			PatientID:     &a.PatientID,
			AppointmentID: &a.ID,
			Amount:        payment,
			Method:        pay.Method,
			Reference:     optional(pay.Reference),
		})
	}
	return nil
}

// claimPackage takes one session of the package: from the open instance,
// paying down its debt, or from a new purchase.
func (s *Service) claimPackage(ctx context.Context, patientID uuid.UUID, p QuotePackage) (PackageLine, error) {
	line := PackageLine{PackageID: p.PackageID, PackageName: p.Name, PaymentAmount: p.PaymentAmount}
	if p.PatientPackageID != nil {
		if money.Positive(p.PaymentAmount) {
			if _, err := s.packages.ApplyPayment(ctx, *p.PatientPackageID, p.PaymentAmount); err != nil {
				return line, err
			}
		}
		line.PatientPackageID = *p.PatientPackageID
	} else {
		pp, err := s.packages.Purchase(ctx, patientID, p.PackageID, p.PaymentAmount)
		if err != nil {
			return line, err
		}
		line.PatientPackageID = pp.ID
		line.NewPurchase = true
	}
	if _, err := s.packages.ConsumeSession(ctx, line.PatientPackageID); err != nil {
		return line, err
	}
	return line, nil
}

// undo reverses the side effects of apply except payments.
func (s *Service) undo(ctx context.Context, a *Appointment, note string) error {
	for _, p := range a.Products {
		if _, err := s.inventory.AdjustStock(ctx, p.ProductID, p.Quantity, inventory.ReasonReversal, &a.ID, note); err != nil {
			return err
		}
	}
	if _, err := s.billing.ReverseUsages(ctx, a.ID); err != nil {
		return err
	}
	for _, l := range a.Packages {
		if money.Positive(l.PaymentAmount) {
			if _, err := s.packages.RestoreDebt(ctx, l.PatientPackageID, l.PaymentAmount); err != nil {
				return err
			}
		}
		if _, err := s.packages.ReleaseSession(ctx, l.PatientPackageID, l.NewPurchase); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// Update edits a registered appointment. Its side effects are undone and
// applied again for the new input; payments already taken stay and must fit
// the new total.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req Request) (*Appointment, error) {
	req.Payment = nil
	if err := s.validateRequest(ctx, &req); err != nil {
		return nil, err
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusRegistered {
			return apperr.InvalidState("only registered appointments can be edited, this one is %s", a.Status)
		}
		if req.PatientID != a.PatientID {
			return apperr.Validation("the patient of an appointment cannot be changed")
		}
		payments, err := s.paymentsTotal(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := s.undo(ctx, a, "appointment edited"); err != nil {
			return err
		}

		in, err := s.pricingInput(ctx, &req, payments)
		if err != nil {
			return err
		}
		q, err := Price(in)
		if err != nil {
			return err
		}
		if money.Cmp(payments, q.Total) > 0 {
			return apperr.Validation("payments of %.2f exceed the new total %.2f", payments, q.Total)
		}

		a.WorkerID = req.WorkerID
		a.ScheduledAt = req.ScheduledAt.UTC()
		a.DurationMinutes = req.DurationMinutes
		a.Diagnosis = optional(req.Diagnosis)
		a.TreatmentNotes = optional(req.TreatmentNotes)
		a.TreatmentPrice = roundedPtr(req.TreatmentPrice)
		return s.apply(ctx, a, q, nil, false)
	})
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "appointment.updated", a)
	return a, nil
}

func (s *Service) paymentsTotal(ctx context.Context, appointmentID uuid.UUID) (float64, error) {
	payments, err := s.billing.AppointmentPayments(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	var amounts []float64
	for _, p := range payments {
		if p.Status == billing.PaymentCompleted {
			amounts = append(amounts, p.Amount)
		}
	}
	return money.Sum(amounts...), nil
}

// RegisterPayment takes a payment of at most the amount due. It has the
// signature of a billing payer.
func (s *Service) RegisterPayment(ctx context.Context, id uuid.UUID, in billing.PaymentInput) (*billing.Payment, error) {
	var (
		p *billing.Payment
		a *Appointment
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusCanceled {
			return apperr.InvalidState("appointment is canceled")
		}
		due := a.Due()
		if !money.Positive(due) {
			return apperr.InvalidState("appointment has nothing left to pay")
		}
		if !money.Positive(in.Amount) || money.Cmp(in.Amount, due) > 0 {
			return apperr.Validation("amount must be greater than 0 and at most %.2f", due)
		}
		p = &billing.Payment{
			PatientID:     &a.PatientID,
			AppointmentID: &a.ID,
			Amount:        in.Amount,
			Method:        in.Method,
			Reference:     optional(in.Reference),
		}
		if err := s.billing.RecordPayment(ctx, p); err != nil {
			return err
		}
		a.PaidAmount = money.Sum(a.PaidAmount, p.Amount)
		if a.Settled() && a.Status != StatusPaid {
			a.Status = StatusPaid
			return s.repo.SetStatus(ctx, a.ID, StatusPaid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "appointment.paid", a)
	return p, nil
}

// PaymentVoided moves a paid appointment back to registered once a void
// leaves it short. Payments of canceled appointments were refunded as
// credit and cannot be voided.
func (s *Service) PaymentVoided(ctx context.Context, p *billing.Payment) error {
	if p.AppointmentID == nil {
		return nil
	}
	a, err := s.repo.GetForUpdate(ctx, *p.AppointmentID)
	if err != nil {
		return err
	}
	switch {
	case a.Status == StatusCanceled:
		return apperr.InvalidState("payments of canceled appointments were refunded as credit")
	case a.Status == StatusPaid && !a.Settled():
		return s.repo.SetStatus(ctx, a.ID, StatusRegistered)
	}
	return nil
}

// Cancel undoes the appointment's side effects and turns its completed
// payments into credit for the patient.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == StatusCanceled {
			return apperr.InvalidState("appointment is already canceled")
		}
		if err := s.undo(ctx, a, "appointment canceled"); err != nil {
			return err
		}
		refund, err := s.paymentsTotal(ctx, a.ID)
		if err != nil {
			return err
		}
		if money.Positive(refund) {
			if _, err := s.billing.CreateCredit(ctx, a.PatientID, refund, a.ID, "refund of canceled appointment"); err != nil {
				return err
			}
		}
		return s.repo.Cancel(ctx, a.ID, optional(reason))
	})
	if err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "appointment.canceled", a)
	return a, nil
}

// Delete removes a canceled appointment. Appointments with payments on
// record are kept: their payments were refunded as credit and must keep
// pointing at the appointment.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != StatusCanceled {
		return apperr.InvalidState("only canceled appointments can be deleted")
	}
	payments, err := s.billing.AppointmentPayments(ctx, a.ID)
	if err != nil {
		return err
	}
	if len(payments) > 0 {
		return apperr.Conflict("appointment has %d payment(s) on record and cannot be deleted", len(payments))
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) Detail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Appointment: a, AmountDue: a.Due()}
	if d.Patient, err = s.patients.Get(ctx, a.PatientID); err != nil {
		return nil, err
	}
	if d.Worker, err = s.workers.Get(ctx, a.WorkerID); err != nil {
		return nil, err
	}
	if d.Payments, err = s.billing.AppointmentPayments(ctx, a.ID); err != nil {
		return nil, err
	}
	if d.AbonoUsages, err = s.billing.AppointmentUsages(ctx, a.ID); err != nil {
		return nil, err
	}
	if d.Payments == nil {
		d.Payments = []*billing.Payment{}
	}
	if d.AbonoUsages == nil {
		d.AbonoUsages = []*billing.AbonoUsage{}
	}
	return d, nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.Search(ctx, params, sort, limit, offset)
}

// ListByPatient searches within one patient's appointments.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, params map[string]string, sort string, limit, offset int) ([]*Appointment, int, error) {
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.Search(ctx, scoped(params, "patient_id", patientID), sort, limit, offset)
}

// ListByWorker searches within one worker's appointments.
func (s *Service) ListByWorker(ctx context.Context, workerID uuid.UUID, params map[string]string, sort string, limit, offset int) ([]*Appointment, int, error) {
	if _, err := s.workers.Get(ctx, workerID); err != nil {
		return nil, 0, err
	}
	return s.repo.Search(ctx, scoped(params, "worker_id", workerID), sort, limit, offset)
}

func scoped(params map[string]string, key string, id uuid.UUID) map[string]string {
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out[key] = id.String()
	return out
}

func (s *Service) WorkerStats(ctx context.Context, workerID uuid.UUID, from, to *time.Time) (*WorkerStats, error) {
	if _, err := s.workers.Get(ctx, workerID); err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperr.Validation("to must not be before from")
	}
	return s.repo.WorkerStats(ctx, workerID, from, to)
}

// SendReminders publishes a reminder for every registered appointment
// starting within lead of now and marks it reminded.
func (s *Service) SendReminders(ctx context.Context, lead time.Duration) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDueReminders(ctx, now, now.Add(lead))
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, a := range due {
		if err := s.repo.MarkReminded(ctx, a.ID, now); err != nil {
			return sent, err
		}
		a.RemindedAt = &now
		_ = s.publisher.Publish(ctx, websocket.NewEvent("appointment.reminder", websocket.TopicAppointments,
			"appointment", a.ID.String(), a))
		sent++
	}
	return sent, nil
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	_ = s.publisher.Publish(ctx, websocket.NewEvent(eventType, websocket.TopicAppointments, "appointment", a.ID.String(), a))
	_ = s.publisher.Publish(ctx, websocket.NewEvent(eventType, websocket.PatientTopic(a.PatientID.String()),
		"appointment", a.ID.String(), a))
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

func roundedPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := money.Round(*v)
	return &r
}
