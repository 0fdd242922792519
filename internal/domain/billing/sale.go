package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/inventory"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/websocket"
	"github.com/clinic/clinic/pkg/money"
)

// CreateSale sells products at catalog prices, takes them out of stock and
// records the optional payment, all in one transaction.
func (s *Service) CreateSale(ctx context.Context, req SaleRequest) (*Sale, error) {
	if len(req.Items) == 0 {
		return nil, apperr.Validation("a sale needs at least one item")
	}
	for i, it := range req.Items {
		if it.ProductID == uuid.Nil {
			return nil, apperr.Validation("items[%d]: product_id is required", i)
		}
		if it.Quantity < 1 {
			return nil, apperr.Validation("items[%d]: quantity must be at least 1", i)
		}
	}
	if req.PatientID != nil {
		if err := s.patients.Exists(ctx, *req.PatientID); err != nil {
			return nil, err
		}
	}

	sale := &Sale{
		PatientID: req.PatientID,
		Status:    SalePending,
		Note:      optional(req.Note),
		CreatedBy: actor(ctx),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var subtotals []float64
		for _, it := range req.Items {
			product, err := s.inventory.GetProduct(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if product.Status != "active" {
				return apperr.InvalidState("product %s is not for sale", product.Name)
			}
			line := SaleItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    it.Quantity,
				UnitPrice:   money.Round(product.Price),
				Subtotal:    money.Mul(product.Price, it.Quantity),
			}
			sale.Items = append(sale.Items, line)
			subtotals = append(subtotals, line.Subtotal)
		}
		sale.Total = money.Sum(subtotals...)
		// Nothing to collect on a free sale; a payment sent with it is ignored.
		if !money.Positive(sale.Total) {
			sale.Status = SalePaid
		}
		if err := s.sales.Create(ctx, sale); err != nil {
			return err
		}
		for _, it := range sale.Items {
			if _, err := s.inventory.AdjustStock(ctx, it.ProductID, -it.Quantity, inventory.ReasonSale, &sale.ID, ""); err != nil {
				return err
			}
		}
		if req.Payment == nil || sale.Status == SalePaid {
			return nil
		}
		if _, err := s.paySaleLocked(ctx, sale, *req.Payment); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishSale(ctx, "sale.created", sale)
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, id uuid.UUID) (*Sale, error) {
	return s.sales.GetByID(ctx, id)
}

func (s *Service) SearchSales(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Sale, int, error) {
	return s.sales.Search(ctx, params, sort, limit, offset)
}

// PaySale takes a payment of at most the amount still due on a sale.
func (s *Service) PaySale(ctx context.Context, saleID uuid.UUID, in PaymentInput) (*Payment, error) {
	var (
		p    *Payment
		sale *Sale
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		sale, err = s.sales.GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		p, err = s.paySaleLocked(ctx, sale, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publishSale(ctx, "sale.paid", sale)
	return p, nil
}

// paySaleLocked records a payment for a sale the caller holds a lock on.
func (s *Service) paySaleLocked(ctx context.Context, sale *Sale, in PaymentInput) (*Payment, error) {
	if sale.Status == SaleCanceled {
		return nil, apperr.InvalidState("sale is canceled")
	}
	due := money.NonNegative(money.Sub(sale.Total, sale.PaidAmount))
	if !money.Positive(in.Amount) || money.Cmp(in.Amount, due) > 0 {
		return nil, apperr.Validation("amount must be greater than 0 and at most %.2f", due)
	}
	p := &Payment{
		PatientID: sale.PatientID,
		SaleID:    &sale.ID,
		Amount:    in.Amount,
		Method:    in.Method,
		Reference: optional(in.Reference),
	}
	if err := s.RecordPayment(ctx, p); err != nil {
		return nil, err
	}
	sale.PaidAmount = money.Sum(sale.PaidAmount, p.Amount)
	if money.Cmp(sale.PaidAmount, sale.Total) >= 0 && sale.Status != SalePaid {
		sale.Status = SalePaid
		if err := s.sales.UpdateStatus(ctx, sale.ID, SalePaid); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// CancelSale puts the products back in stock and voids the sale's
// payments.
func (s *Service) CancelSale(ctx context.Context, id uuid.UUID, reason string) (*Sale, error) {
	var sale *Sale
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		sale, err = s.sales.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status == SaleCanceled {
			return apperr.InvalidState("sale is already canceled")
		}
		note := strings.TrimSpace(reason)
		for _, it := range sale.Items {
			if _, err := s.inventory.AdjustStock(ctx, it.ProductID, it.Quantity, inventory.ReasonReversal, &sale.ID, note); err != nil {
				return err
			}
		}
		payments, err := s.payments.ListBySale(ctx, sale.ID)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.Status != PaymentCompleted {
				continue
			}
			if err := s.payments.MarkVoided(ctx, p); err != nil {
				return err
			}
		}
		sale.Status = SaleCanceled
		sale.PaidAmount = 0
		return s.sales.UpdateStatus(ctx, sale.ID, SaleCanceled)
	})
	if err != nil {
		return nil, err
	}
	s.publishSale(ctx, "sale.canceled", sale)
	return sale, nil
}

// refreshSaleStatus moves a paid sale back to pending once voids leave it
// short.
func (s *Service) refreshSaleStatus(ctx context.Context, saleID uuid.UUID) error {
	sale, err := s.sales.GetForUpdate(ctx, saleID)
	if err != nil {
		return err
	}
	if sale.Status == SalePaid && money.Cmp(sale.PaidAmount, sale.Total) < 0 {
		return s.sales.UpdateStatus(ctx, saleID, SalePending)
	}
	return nil
}

func (s *Service) publishSale(ctx context.Context, eventType string, sale *Sale) {
	_ = s.publisher.Publish(ctx, websocket.NewEvent(eventType, websocket.TopicBilling, "sale", sale.ID.String(), sale))
}
