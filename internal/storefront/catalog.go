package storefront

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/sirupsen/logrus"
)

// Catalog is the product list as seen by the storefront.
type Catalog struct {
	products *syncache.Collection[models.Product]
	logger   logrus.FieldLogger
}

func NewCatalog(products *syncache.Collection[models.Product], logger logrus.FieldLogger) *Catalog {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Catalog{products: products, logger: logger.WithField("component", "catalog")}
}

// Collection exposes the underlying cache for subscriptions.
func (c *Catalog) Collection() *syncache.Collection[models.Product] { return c.products }

func (c *Catalog) Load(ctx context.Context) error { return c.products.Load(ctx) }

func (c *Catalog) Products() []models.Product { return c.products.Snapshot() }

func (c *Catalog) Get(id int) (models.Product, bool) { return c.products.Get(id) }

// Categories returns the distinct categories in name order.
func (c *Catalog) Categories() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range c.products.Snapshot() {
		if _, ok := seen[p.Category]; ok || p.Category == "" {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// Search filters by exact category ("" or "all" for any) and then by a
// case-insensitive term in the name or description.
func (c *Catalog) Search(term, category string) []models.Product {
	term = strings.ToLower(strings.TrimSpace(term))
	out := []models.Product{}
	for _, p := range c.products.Snapshot() {
		if category != "" && category != "all" && p.Category != category {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Catalog) Add(ctx context.Context, p models.Product) (models.Product, error) {
	if p.Stock < 0 {
		return models.Product{}, errdefs.Validationf("stock must not be negative")
	}
	return c.products.Create(ctx, p)
}

func (c *Catalog) Update(ctx context.Context, p models.Product) (models.Product, error) {
	if p.Stock < 0 {
		return models.Product{}, errdefs.Validationf("stock must not be negative")
	}
	return c.products.Update(ctx, p)
}

func (c *Catalog) Delete(ctx context.Context, id int) error {
	return c.products.Delete(ctx, id)
}

// UpdateStock applies delta to a product's stock. A result below zero is
// rejected with ErrStockExhausted.
func (c *Catalog) UpdateStock(ctx context.Context, id, delta int) (models.Product, error) {
	if err := c.products.Load(ctx); err != nil {
		return models.Product{}, err
	}
	p, ok := c.products.Get(id)
	if !ok {
		return models.Product{}, errdefs.Wrap("update stock", "products", id, errdefs.ErrNotFound)
	}
	if p.Stock+delta < 0 {
		return models.Product{}, errdefs.Wrap("update stock", "products", id,
			fmt.Errorf("%s has %d left: %w", p.Name, p.Stock, errdefs.ErrStockExhausted))
	}
	p.Stock += delta
	return c.products.Update(ctx, p)
}

// ReduceStockForOrder checks every item before touching any stock. If one
// item cannot be served the whole batch is rejected. Otherwise each product
// is updated in turn; a failure part way through is not rolled back.
func (c *Catalog) ReduceStockForOrder(ctx context.Context, items []models.StockRequest) error {
	if err := c.products.Load(ctx); err != nil {
		return err
	}
	updates := make([]models.Product, 0, len(items))
	pending := map[int]int{}
	var problems []error

	for _, item := range items {
		p, ok := c.products.Get(item.ProductID)
		if !ok {
			problems = append(problems, errdefs.Wrap("reduce stock", "products", item.ProductID, errdefs.ErrNotFound))
			continue
		}
		if item.Quantity <= 0 {
			problems = append(problems, errdefs.Wrap("reduce stock", "products", item.ProductID,
				errdefs.Validationf("quantity must be positive")))
			continue
		}
		remaining, seen := pending[p.ID]
		if !seen {
			remaining = p.Stock
		}
		if remaining-item.Quantity < 0 {
			problems = append(problems, errdefs.Wrap("reduce stock", "products", p.ID,
				fmt.Errorf("%s has %d left, %d requested: %w", p.Name, remaining, item.Quantity, errdefs.ErrStockExhausted)))
			continue
		}
		pending[p.ID] = remaining - item.Quantity
		if !seen {
			updates = append(updates, p)
		}
	}
	if len(problems) > 0 {
		return errors.Join(problems...)
	}

	var failed []error
	for _, p := range updates {
		p.Stock = pending[p.ID]
		if _, err := c.products.Update(ctx, p); err != nil {
			c.logger.WithError(err).WithField("product_id", p.ID).Error("Stock update failed")
			failed = append(failed, err)
			continue
		}
		c.logger.WithFields(logrus.Fields{"product_id": p.ID, "stock": p.Stock}).Info("Stock reduced")
	}
	return errors.Join(failed...)
}

// Reset reloads the static product file into the local cache.
func (c *Catalog) Reset(ctx context.Context) error {
	return c.products.Reseed(ctx)
}
