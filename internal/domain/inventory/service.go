package inventory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/websocket"
)

// LowStockThreshold supplies the default minimum stock for new products.
type LowStockThreshold interface {
	LowStockThreshold(ctx context.Context) (int, error)
}

type Service struct {
	categories CategoryRepository
	products   ProductRepository
	tx         db.Transactor
	threshold  LowStockThreshold
	publisher  websocket.Publisher
}

func NewService(categories CategoryRepository, products ProductRepository, tx db.Transactor) *Service {
	return &Service{categories: categories, products: products, tx: tx, publisher: websocket.NopPublisher{}}
}

func (s *Service) SetThreshold(t LowStockThreshold) { s.threshold = t }

func (s *Service) SetPublisher(p websocket.Publisher) { s.publisher = p }

var validProductStatuses = map[string]bool{"active": true, "inactive": true}

var validReasons = map[string]bool{
	ReasonManual: true, ReasonAppointment: true, ReasonSale: true, ReasonReversal: true,
}

// ---- Category ----

func (s *Service) CreateCategory(ctx context.Context, c *Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	c.Active = true
	return s.categories.Create(ctx, c)
}

func (s *Service) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	return s.categories.GetByID(ctx, id)
}

func (s *Service) UpdateCategory(ctx context.Context, c *Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	return s.categories.Update(ctx, c)
}

func (s *Service) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return s.categories.Delete(ctx, id)
}

func (s *Service) SearchCategories(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Category, int, error) {
	return s.categories.Search(ctx, params, sort, limit, offset)
}

// ---- Product ----

// CreateProduct stores a product and records its opening stock. A zero
// min_stock takes the clinic's low-stock threshold.
func (s *Service) CreateProduct(ctx context.Context, p *Product) error {
	if p.Status == "" {
		p.Status = "active"
	}
	if p.MinStock == 0 && s.threshold != nil {
		n, err := s.threshold.LowStockThreshold(ctx)
		if err != nil {
			return err
		}
		p.MinStock = n
	}
	if err := s.validateProduct(ctx, p); err != nil {
		return err
	}
	if p.Stock < 0 {
		return apperr.Validation("stock must not be negative")
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.products.Create(ctx, p); err != nil {
			return err
		}
		if p.Stock == 0 {
			return nil
		}
		note := "opening stock"
		return s.products.CreateMovement(ctx, &StockMovement{
			ProductID:  p.ID,
			Delta:      p.Stock,
			StockAfter: p.Stock,
			Reason:     ReasonManual,
			Note:       &note,
			CreatedBy:  actor(ctx),
		})
	})
}

func (s *Service) GetProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	return s.products.GetByID(ctx, id)
}

// UpdateProduct edits catalog data. Stock is only changed through
// AdjustStock.
func (s *Service) UpdateProduct(ctx context.Context, p *Product) error {
	if p.Status == "" {
		p.Status = "active"
	}
	if err := s.validateProduct(ctx, p); err != nil {
		return err
	}
	if err := s.products.Update(ctx, p); err != nil {
		return err
	}
	updated, err := s.products.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	*p = *updated
	return nil
}

func (s *Service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return s.products.Delete(ctx, id)
}

func (s *Service) SearchProducts(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Product, int, error) {
	return s.products.Search(ctx, params, sort, limit, offset)
}

func (s *Service) ListLowStock(ctx context.Context, limit, offset int) ([]*Product, int, error) {
	return s.products.ListLowStock(ctx, limit, offset)
}

const scanPage = 100

// ScanLowStock publishes an inventory.low_stock event for every active
// product at or below its minimum stock and returns how many were found.
func (s *Service) ScanLowStock(ctx context.Context) (int, error) {
	found := 0
	for offset := 0; ; offset += scanPage {
		items, total, err := s.products.ListLowStock(ctx, scanPage, offset)
		if err != nil {
			return found, err
		}
		for _, p := range items {
			_ = s.publisher.Publish(ctx, websocket.NewEvent("inventory.low_stock", websocket.TopicInventory, "product", p.ID.String(), p))
		}
		found += len(items)
		if len(items) == 0 || offset+scanPage >= total {
			return found, nil
		}
	}
}

func (s *Service) ListMovements(ctx context.Context, productID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, 0, err
	}
	return s.products.ListMovements(ctx, productID, limit, offset)
}

func (s *Service) validateProduct(ctx context.Context, p *Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.Price < 0 || p.Cost < 0 {
		return apperr.Validation("price and cost must not be negative")
	}
	if p.MinStock < 0 {
		return apperr.Validation("min_stock must not be negative")
	}
	if !validProductStatuses[p.Status] {
		return apperr.Validation("invalid status: %s", p.Status)
	}
	if p.CategoryID != nil {
		if _, err := s.categories.GetByID(ctx, *p.CategoryID); err != nil {
			return err
		}
	}
	return nil
}

// AdjustStock changes a product's stock by delta and records the movement.
// Both happen in one transaction; the stock never goes negative.
func (s *Service) AdjustStock(ctx context.Context, productID uuid.UUID, delta int, reason string, ref *uuid.UUID, note string) (*StockMovement, error) {
	if delta == 0 {
		return nil, apperr.Validation("delta must not be zero")
	}
	if !validReasons[reason] {
		return nil, apperr.Validation("invalid reason: %s", reason)
	}

	var (
		m       *StockMovement
		product *Product
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		after, err := s.products.AddStock(ctx, productID, delta)
		if err != nil {
			return err
		}
		m = &StockMovement{
			ProductID:   productID,
			Delta:       delta,
			StockAfter:  after,
			Reason:      reason,
			ReferenceID: ref,
			CreatedBy:   actor(ctx),
		}
		if note = strings.TrimSpace(note); note != "" {
			m.Note = &note
		}
		if err := s.products.CreateMovement(ctx, m); err != nil {
			return err
		}
		product, err = s.products.GetByID(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}

	_ = s.publisher.Publish(ctx, websocket.NewEvent("inventory.stock_changed", websocket.TopicInventory, "product", productID.String(), m))
	// Only the movement that crosses the threshold raises an alert.
	if delta < 0 && product.Status == "active" && product.IsLow() && product.Stock-delta > product.MinStock {
		_ = s.publisher.Publish(ctx, websocket.NewEvent("inventory.low_stock", websocket.TopicInventory, "product", productID.String(), product))
	}
	return m, nil
}

func actor(ctx context.Context) *string {
	if id := auth.UserIDFromContext(ctx); id != "" {
		return &id
	}
	return nil
}
