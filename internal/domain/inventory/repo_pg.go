package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/search"
)

// ---- Category Repo ----

type categoryRepoPG struct{ pool *pgxpool.Pool }

func NewCategoryRepoPG(pool *pgxpool.Pool) CategoryRepository {
	return &categoryRepoPG{pool: pool}
}

func (r *categoryRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const categoryCols = `id, name, description, active, created_at, updated_at`

var categorySearch = search.Config{
	Params: map[string]search.ParamConfig{
		"search": {Type: search.Text, Column: "name"},
		"active": {Type: search.Bool, Column: "active"},
	},
	Sorts:        map[string]string{"name": "name", "created_at": "created_at"},
	DefaultOrder: "name ASC",
}

func scanCategory(row pgx.Row) (*Category, error) {
	var c Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *categoryRepoPG) Create(ctx context.Context, c *Category) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO categories (id, name, description, active) VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Description, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return apperr.FromDB(err, "category")
}

func (r *categoryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Category, error) {
	c, err := scanCategory(r.conn(ctx).QueryRow(ctx, `SELECT `+categoryCols+` FROM categories WHERE id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "category")
	}
	return c, nil
}

func (r *categoryRepoPG) Update(ctx context.Context, c *Category) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE categories SET name=$2, description=$3, active=$4, updated_at=NOW()
		WHERE id = $1 RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Description, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return apperr.FromDB(err, "category")
}

func (r *categoryRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "category")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("category")
	}
	return nil
}

func (r *categoryRepoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Category, int, error) {
	q := search.NewQuery("categories", categoryCols)
	if err := q.Build(params, sort, categorySearch); err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// ---- Product Repo ----

type productRepoPG struct{ pool *pgxpool.Pool }

func NewProductRepoPG(pool *pgxpool.Pool) ProductRepository {
	return &productRepoPG{pool: pool}
}

func (r *productRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const productFrom = `products p LEFT JOIN categories c ON c.id = p.category_id`

const productCols = `p.id, p.name, p.description, p.category_id, c.name, p.price::float8, p.cost::float8,
	p.stock, p.min_stock, p.status, p.created_at, p.updated_at`

var productSearch = search.Config{
	Params: map[string]search.ParamConfig{
		"search":      {Type: search.Text, Columns: []string{"p.name", "p.description", "c.name"}},
		"category_id": {Type: search.Ref, Column: "p.category_id"},
		"status":      {Type: search.Exact, Column: "p.status", Values: validProductStatuses},
		"low_stock":   {Type: search.Flag, Column: "p.stock <= p.min_stock"},
	},
	Sorts: map[string]string{
		"name":       "p.name",
		"price":      "p.price",
		"stock":      "p.stock",
		"created_at": "p.created_at",
	},
	DefaultOrder: "p.name ASC",
}

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CategoryID, &p.CategoryName, &p.Price, &p.Cost,
		&p.Stock, &p.MinStock, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *productRepoPG) Create(ctx context.Context, p *Product) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO products (id, name, description, category_id, price, cost, stock, min_stock, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.CategoryID, p.Price, p.Cost, p.Stock, p.MinStock, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "product")
}

func (r *productRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := scanProduct(r.conn(ctx).QueryRow(ctx, `SELECT `+productCols+` FROM `+productFrom+` WHERE p.id = $1`, id))
	if err != nil {
		return nil, apperr.FromDB(err, "product")
	}
	return p, nil
}

// Update never touches stock; stock changes go through AddStock.
func (r *productRepoPG) Update(ctx context.Context, p *Product) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE products SET name=$2, description=$3, category_id=$4, price=$5, cost=$6,
			min_stock=$7, status=$8, updated_at=NOW()
		WHERE id = $1 RETURNING stock, created_at, updated_at`,
		p.ID, p.Name, p.Description, p.CategoryID, p.Price, p.Cost, p.MinStock, p.Status,
	).Scan(&p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "product")
}

func (r *productRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "product")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("product")
	}
	return nil
}

func (r *productRepoPG) Search(ctx context.Context, params map[string]string, sort string, limit, offset int) ([]*Product, int, error) {
	q := search.NewQuery(productFrom, productCols)
	if err := q.Build(params, sort, productSearch); err != nil {
		return nil, 0, err
	}
	return r.list(ctx, q, limit, offset)
}

func (r *productRepoPG) ListLowStock(ctx context.Context, limit, offset int) ([]*Product, int, error) {
	q := search.NewQuery(productFrom, productCols)
	q.Add("p.status = 'active' AND p.stock <= p.min_stock")
	q.OrderBy("p.stock - p.min_stock ASC, p.name ASC")
	return r.list(ctx, q, limit, offset)
}

func (r *productRepoPG) list(ctx context.Context, q *search.Query, limit, offset int) ([]*Product, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *productRepoPG) AddStock(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var stock int
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`, id, delta).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		var current int
		if err := r.conn(ctx).QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, id).Scan(&current); err != nil {
			return 0, apperr.FromDB(err, "product")
		}
		return 0, apperr.InsufficientStock(id.String(), current, -delta)
	}
	if err != nil {
		return 0, apperr.FromDB(err, "product")
	}
	return stock, nil
}

func (r *productRepoPG) CreateMovement(ctx context.Context, m *StockMovement) error {
	m.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO stock_movements (id, product_id, delta, stock_after, reason, reference_id, note, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		m.ID, m.ProductID, m.Delta, m.StockAfter, m.Reason, m.ReferenceID, m.Note, m.CreatedBy,
	).Scan(&m.CreatedAt)
}

func (r *productRepoPG) ListMovements(ctx context.Context, productID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE product_id = $1`, productID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, product_id, delta, stock_after, reason, reference_id, note, created_by, created_at
		FROM stock_movements WHERE product_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, productID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &m.StockAfter, &m.Reason,
			&m.ReferenceID, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}
