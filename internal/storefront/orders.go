package storefront

import (
	"context"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/syncache"
)

// OrderBook is the storefront's view of placed orders.
type OrderBook struct {
	orders *syncache.Collection[models.Order]
}

func NewOrderBook(orders *syncache.Collection[models.Order]) *OrderBook {
	return &OrderBook{orders: orders}
}

func (o *OrderBook) Collection() *syncache.Collection[models.Order] { return o.orders }

func (o *OrderBook) Load(ctx context.Context) error { return o.orders.Load(ctx) }

// Add places order. The server stamps the id; a local commit gets max+1.
func (o *OrderBook) Add(ctx context.Context, order models.Order) (models.Order, error) {
	if order.UserID == 0 {
		return models.Order{}, errdefs.Validationf("userId is required")
	}
	return o.orders.Create(ctx, order)
}

func (o *OrderBook) All() []models.Order { return o.orders.Snapshot() }

func (o *OrderBook) Get(id int) (models.Order, bool) { return o.orders.Get(id) }

func (o *OrderBook) ByUser(userID int) []models.Order {
	out := []models.Order{}
	for _, order := range o.orders.Snapshot() {
		if order.UserID == userID {
			out = append(out, order)
		}
	}
	return out
}

func (o *OrderBook) Count() int { return len(o.orders.Snapshot()) }
