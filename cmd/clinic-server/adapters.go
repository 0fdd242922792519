package main

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/packages"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/money"
)

// packageDebt is the part of the packages service that takes and returns
// money on a patient package.
type packageDebt interface {
	ApplyPayment(ctx context.Context, id uuid.UUID, amount float64) (*packages.PatientPackage, error)
	RestoreDebt(ctx context.Context, id uuid.UUID, amount float64) (*packages.PatientPackage, error)
}

type paymentRecorder interface {
	RecordPayment(ctx context.Context, p *billing.Payment) error
}

// packagePayer takes a desk payment against a patient package debt and
// records it in billing, in one transaction.
func packagePayer(tx db.Transactor, pkgs packageDebt, payments paymentRecorder) billing.Payer {
	return func(ctx context.Context, id uuid.UUID, in billing.PaymentInput) (*billing.Payment, error) {
		if !money.Positive(in.Amount) {
			return nil, apperr.Validation("amount must be greater than 0")
		}
		var p *billing.Payment
		err := tx.WithinTx(ctx, func(ctx context.Context) error {
			pp, err := pkgs.ApplyPayment(ctx, id, money.Round(in.Amount))
			if err != nil {
				return err
			}
			p = &billing.Payment{
				PatientID:        &pp.PatientID,
				PatientPackageID: &pp.ID,
				Amount:           money.Round(in.Amount),
				Method:           in.Method,
			}
			if ref := strings.TrimSpace(in.Reference); ref != "" {
				p.Reference = &ref
			}
			return payments.RecordPayment(ctx, p)
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// packageVoids puts the amount of a voided package payment back on the
// package debt.
func packageVoids(pkgs packageDebt) billing.VoidListener {
	return billing.VoidListenerFunc(func(ctx context.Context, p *billing.Payment) error {
		if p.PatientPackageID == nil {
			return nil
		}
		_, err := pkgs.RestoreDebt(ctx, *p.PatientPackageID, p.Amount)
		return err
	})
}
