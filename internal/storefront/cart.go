package storefront

import (
	"context"
	"fmt"
	"sync"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/syncache"
)

// CartKey is the blob holding the cart.
const CartKey = "cart"

// Cart is the shopping cart, saved to the local cache after every change.
type Cart struct {
	kv    syncache.KV
	mu    sync.RWMutex
	items []models.CartItem
}

func NewCart(kv syncache.KV) *Cart {
	return &Cart{kv: kv}
}

// Load restores the saved cart.
func (c *Cart) Load(ctx context.Context) error {
	var items []models.CartItem
	if _, err := syncache.GetJSON(ctx, c.kv, CartKey, &items); err != nil {
		return err
	}
	c.mu.Lock()
	c.items = items
	c.mu.Unlock()
	return nil
}

func (c *Cart) save(ctx context.Context) error {
	items := c.items
	if items == nil {
		items = []models.CartItem{}
	}
	return syncache.SetJSON(ctx, c.kv, CartKey, items)
}

func (c *Cart) find(productID int) int {
	for i, item := range c.items {
		if item.Product.ID == productID {
			return i
		}
	}
	return -1
}

// Add puts quantity of product in the cart. The total for the product may
// not exceed its stock.
func (c *Cart) Add(ctx context.Context, product models.Product, quantity int) error {
	if quantity <= 0 {
		return errdefs.Validationf("quantity must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	inCart := 0
	idx := c.find(product.ID)
	if idx >= 0 {
		inCart = c.items[idx].Quantity
	}
	if product.Stock <= 0 {
		return fmt.Errorf("%s is out of stock: %w", product.Name, errdefs.ErrStockExhausted)
	}
	if inCart+quantity > product.Stock {
		return fmt.Errorf("only %d %s available: %w", product.Stock, product.Name, errdefs.ErrStockExhausted)
	}

	if idx >= 0 {
		c.items[idx].Quantity += quantity
		c.items[idx].Product = product
	} else {
		c.items = append(c.items, models.CartItem{Product: product, Quantity: quantity})
	}
	return c.save(ctx)
}

func (c *Cart) Remove(ctx context.Context, productID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.find(productID)
	if idx < 0 {
		return nil
	}
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	return c.save(ctx)
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line; more
// than the product's stock is clamped to the stock.
func (c *Cart) UpdateQuantity(ctx context.Context, productID, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.find(productID)
	if idx < 0 {
		return errdefs.Wrap("update quantity", CartKey, productID, errdefs.ErrNotFound)
	}
	switch {
	case quantity <= 0:
		c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	case quantity > c.items[idx].Product.Stock:
		c.items[idx].Quantity = c.items[idx].Product.Stock
	default:
		c.items[idx].Quantity = quantity
	}
	return c.save(ctx)
}

func (c *Cart) Items() []models.CartItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.CartItem{}, c.items...)
}

func (c *Cart) Total() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0.0
	for _, item := range c.items {
		total += item.Product.Price * float64(item.Quantity)
	}
	return total
}

// Count is the number of units, not lines.
func (c *Cart) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, item := range c.items {
		n += item.Quantity
	}
	return n
}

func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	return c.save(ctx)
}
