package storefront

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNotLoggedIn is returned when checkout has no session user.
var ErrNotLoggedIn error = &errdefs.ValidationError{Reason: "login required"}

// Checkout turns the cart into an order.
type Checkout struct {
	accounts *Accounts
	cart     *Cart
	catalog  *Catalog
	orders   *OrderBook
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewCheckout(accounts *Accounts, cart *Cart, catalog *Catalog, orders *OrderBook, logger logrus.FieldLogger) *Checkout {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Checkout{
		accounts: accounts,
		cart:     cart,
		catalog:  catalog,
		orders:   orders,
		logger:   logger.WithField("component", "checkout"),
		now:      time.Now,
	}
}

// NewOrderNumber returns a short human readable order reference.
func NewOrderNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD-" + id[:10]
}

// PlaceOrder reduces stock for every cart line, records the order and
// empties the cart. shipping and payment are stored as given.
func (c *Checkout) PlaceOrder(ctx context.Context, shipping, payment any) (models.Order, error) {
	user, ok := c.accounts.CurrentUser()
	if !ok {
		return models.Order{}, ErrNotLoggedIn
	}
	items := c.cart.Items()
	if len(items) == 0 {
		return models.Order{}, errdefs.Validationf("cart is empty")
	}

	shippingInfo, err := rawJSON(shipping)
	if err != nil {
		return models.Order{}, errdefs.Validationf("invalid shipping info: %v", err)
	}
	paymentInfo, err := rawJSON(payment)
	if err != nil {
		return models.Order{}, errdefs.Validationf("invalid payment info: %v", err)
	}

	requests := make([]models.StockRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, models.StockRequest{ProductID: item.Product.ID, Quantity: item.Quantity})
	}
	if err := c.catalog.ReduceStockForOrder(ctx, requests); err != nil {
		return models.Order{}, err
	}

	order, err := c.orders.Add(ctx, models.Order{
		UserID:       user.ID,
		Items:        items,
		Total:        c.cart.Total(),
		Date:         c.now().UTC().Format(models.ISOTime),
		Status:       models.OrderStatusPending,
		OrderNumber:  NewOrderNumber(),
		ShippingInfo: shippingInfo,
		PaymentInfo:  paymentInfo,
	})
	if err != nil {
		return models.Order{}, err
	}

	if err := c.cart.Clear(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to clear cart after order")
	}
	c.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"total":        order.Total,
	}).Info("Order placed")
	return order, nil
}

func rawJSON(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	}
	return json.Marshal(v)
}
