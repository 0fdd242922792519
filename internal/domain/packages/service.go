package packages

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
	"github.com/clinic/clinic/pkg/money"
)

// PatientChecker confirms a patient exists.
type PatientChecker interface {
	Exists(ctx context.Context, id uuid.UUID) error
}

// PaymentRecorder records money received against a patient package.
type PaymentRecorder interface {
	RecordPackagePayment(ctx context.Context, patientID, patientPackageID uuid.UUID, amount float64, method, reference string) error
}

type Service struct {
	packages  PackageRepository
	owned     PatientPackageRepository
	tx        db.Transactor
	patients  PatientChecker
	payments  PaymentRecorder
	publisher websocket.Publisher
}

func NewService(packages PackageRepository, owned PatientPackageRepository, tx db.Transactor, patients PatientChecker) *Service {
	return &Service{packages: packages, owned: owned, tx: tx, patients: patients, publisher: websocket.NopPublisher{}}
}

// SetPaymentRecorder enables payments for purchases and debt payments made
// outside an appointment.
func (s *Service) SetPaymentRecorder(p PaymentRecorder) { s.payments = p }

func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

var validPackageStatuses = map[string]bool{"active": true, "inactive": true}

// ---- Package ----

func (s *Service) CreatePackage(ctx context.Context, p *Package) error {
	if p.Status == "" {
		p.Status = "active"
	}
	if err := validatePackage(p); err != nil {
		return err
	}
	return s.packages.Create(ctx, p)
}

func (s *Service) GetPackage(ctx context.Context, id uuid.UUID) (*Package, error) {
	return s.packages.GetByID(ctx, id)
}

// UpdatePackage edits the catalog entry. Instances already sold keep the
// sessions and price they were bought with.
func (s *Service) UpdatePackage(ctx context.Context, p *Package) error {
	if p.Status == "" {
		p.Status = "active"
	}
	if err := validatePackage(p); err != nil {
		return err
	}
	return s.packages.Update(ctx, p)
}

func (s *Service) DeletePackage(ctx context.Context, id uuid.UUID) error {
	return s.packages.Delete(ctx, id)
}

func (s *Service) SearchPackages(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Package, int, error) {
	return s.packages.Search(ctx, params, sort, limit, offset)
}

func validatePackage(p *Package) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.Sessions < 1 {
		return apperr.Validation("sessions must be at least 1")
	}
	if p.Price < 0 {
		return apperr.Validation("price must not be negative")
	}
	p.Price = money.Round(p.Price)
	if !validPackageStatuses[p.Status] {
		return apperr.Validation("invalid status: %s", p.Status)
	}
	return nil
}

// ---- PatientPackage ----

func (s *Service) GetPatientPackage(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	return s.owned.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, status string) ([]*PatientPackage, error) {
	if status != "" && status != StatusActive && status != StatusCompleted && status != StatusCanceled {
		return nil, apperr.Validation("invalid status: %s", status)
	}
	if err := s.patients.Exists(ctx, patientID); err != nil {
		return nil, err
	}
	return s.owned.ListByPatient(ctx, patientID, status)
}

// FindOpen returns the patient's open instance of a package, or nil.
func (s *Service) FindOpen(ctx context.Context, patientID, packageID uuid.UUID) (*PatientPackage, error) {
	return s.owned.FindOpen(ctx, patientID, packageID)
}

// Purchase sells a package to a patient. payment must lie in [0, price]; the
// rest becomes debt. No payment is recorded: appointments account for the
// amount themselves.
func (s *Service) Purchase(ctx context.Context, patientID, packageID uuid.UUID, payment float64) (*PatientPackage, error) {
	if err := s.patients.Exists(ctx, patientID); err != nil {
		return nil, err
	}
	pkg, err := s.packages.GetByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.Status != "active" {
		return nil, apperr.InvalidState("package %s is not active", pkg.Name)
	}
	if money.Cmp(payment, 0) < 0 || money.Cmp(payment, pkg.Price) > 0 {
		return nil, apperr.Validation("payment for %s must be between 0 and %.2f", pkg.Name, pkg.Price)
	}
	pp := &PatientPackage{
		PatientID:         patientID,
		PackageID:         pkg.ID,
		PackageName:       pkg.Name,
		TotalSessions:     pkg.Sessions,
		RemainingSessions: pkg.Sessions,
		PackagePrice:      pkg.Price,
		PaidAmount:        money.Round(payment),
		Debt:              money.Sub(pkg.Price, payment),
		Status:            StatusActive,
	}
	if err := s.owned.Create(ctx, pp); err != nil {
		return nil, err
	}
	return pp, nil
}

// PurchaseWithPayment sells a package at the front desk and records the
// initial payment in billing.
func (s *Service) PurchaseWithPayment(ctx context.Context, patientID uuid.UUID, req PurchaseRequest) (*PatientPackage, error) {
	var pp *PatientPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pp, err = s.Purchase(ctx, patientID, req.PackageID, req.PaymentAmount)
		if err != nil {
			return err
		}
		if !money.Positive(req.PaymentAmount) {
			return nil
		}
		if s.payments == nil {
			return apperr.InvalidState("payments are not available")
		}
		return s.payments.RecordPackagePayment(ctx, patientID, pp.ID, pp.PaidAmount, req.Method, req.Reference)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "patient_package.purchased", pp)
	return pp, nil
}

// ApplyPayment moves amount from debt to paid. It does not record a
// payment; see PayDebt.
func (s *Service) ApplyPayment(ctx context.Context, id uuid.UUID, amount float64) (*PatientPackage, error) {
	if money.Cmp(amount, 0) < 0 {
		return nil, apperr.Validation("amount must not be negative")
	}
	var pp *PatientPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pp, err = s.owned.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if pp.Status == StatusCanceled {
			return apperr.InvalidState("patient package is canceled")
		}
		if money.Cmp(amount, pp.Debt) > 0 {
			return apperr.Validation("amount %.2f exceeds the package debt %.2f", amount, pp.Debt)
		}
		pp.Debt = money.Sub(pp.Debt, amount)
		pp.PaidAmount = money.Sum(pp.PaidAmount, amount)
		return s.owned.Save(ctx, pp)
	})
	return pp, err
}

// RestoreDebt undoes ApplyPayment, for canceled appointments and voided
// payments.
func (s *Service) RestoreDebt(ctx context.Context, id uuid.UUID, amount float64) (*PatientPackage, error) {
	if money.Cmp(amount, 0) < 0 {
		return nil, apperr.Validation("amount must not be negative")
	}
	var pp *PatientPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pp, err = s.owned.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if money.Cmp(amount, pp.PaidAmount) > 0 {
			return apperr.Validation("amount %.2f exceeds the amount paid %.2f", amount, pp.PaidAmount)
		}
		pp.PaidAmount = money.Sub(pp.PaidAmount, amount)
		pp.Debt = money.Sum(pp.Debt, amount)
		return s.owned.Save(ctx, pp)
	})
	return pp, err
}

// PayDebt takes a payment against the package debt and records it in
// billing.
func (s *Service) PayDebt(ctx context.Context, id uuid.UUID, req DebtPaymentRequest) (*PatientPackage, error) {
	if !money.Positive(req.Amount) {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	if s.payments == nil {
		return nil, apperr.InvalidState("payments are not available")
	}
	var pp *PatientPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pp, err = s.ApplyPayment(ctx, id, req.Amount)
		if err != nil {
			return err
		}
		return s.payments.RecordPackagePayment(ctx, pp.PatientID, pp.ID, money.Round(req.Amount), req.Method, req.Reference)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "patient_package.paid", pp)
	return pp, nil
}

// ConsumeSession uses one session. Using the last one completes the
// instance.
func (s *Service) ConsumeSession(ctx context.Context, id uuid.UUID) (*PatientPackage, error) {
	var pp *PatientPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pp, err = s.owned.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if pp.Status != StatusActive || pp.RemainingSessions <= 0 {
			return apperr.InvalidState("patient package %s has no sessions left", pp.PackageName)
		}
		pp.RemainingSessions--
		if pp.RemainingSessions == 0 {
			pp.Status = StatusCompleted
		}
		return s.owned.Save(ctx, pp)
	})
	return pp, err
}

// ReleaseSession gives back a consumed session. With cancelUnused an
// instance that ends up untouched and unpaid is canceled, which undoes a
// purchase made by an appointment.
func (s *Service) ReleaseSession(ctx context.Context, id uuid.UUID, cancelUnused bool) (*PatientPackage, error) {
	var pp *PatientPackage
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pp, err = s.owned.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if pp.Status == StatusCanceled {
			return apperr.InvalidState("patient package is canceled")
		}
		if pp.RemainingSessions >= pp.TotalSessions {
			return apperr.InvalidState("patient package %s has no used sessions", pp.PackageName)
		}
		pp.RemainingSessions++
		pp.Status = StatusActive
		if cancelUnused && pp.RemainingSessions == pp.TotalSessions && !money.Positive(pp.PaidAmount) {
			pp.Status = StatusCanceled
			pp.Debt = 0
		}
		return s.owned.Save(ctx, pp)
	})
	return pp, err
}

func (s *Service) publish(ctx context.Context, eventType string, pp *PatientPackage) {
	_ = s.publisher.Publish(ctx, websocket.NewEvent(eventType, websocket.PatientTopic(pp.PatientID.String()),
		"patient_package", pp.ID.String(), pp))
}
