package inventory

import (
	"context"

	"github.com/google/uuid"
)

type CategoryRepository interface {
	Create(ctx context.Context, c *Category) error
	GetByID(ctx context.Context, id uuid.UUID) (*Category, error)
	Update(ctx context.Context, c *Category) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Category, int, error)
}

type ProductRepository interface {
	Create(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Product, int, error)
	// AddStock adds delta to the stock in one statement and returns the new
	// stock. It fails with apperr.ErrInsufficientStock instead of going
	// negative.
	AddStock(ctx context.Context, id uuid.UUID, delta int) (int, error)
	CreateMovement(ctx context.Context, m *StockMovement) error
	ListMovements(ctx context.Context, productID uuid.UUID, limit, offset int) ([]*StockMovement, int, error)
	ListLowStock(ctx context.Context, limit, offset int) ([]*Product, int, error)
}
