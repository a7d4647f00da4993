// Package storefront implements the shop client on top of the resilient
// collection cache: catalog, orders, accounts, cart and checkout.
package storefront

import (
	"context"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/saixiaoxi/sipstop/internal/config"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/syncache"
	"github.com/saixiaoxi/sipstop/pkg/retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Blob keys of the cached collections.
const (
	ProductsKey = "sipstop_products"
	OrdersKey   = "sipstop_orders"
)

// App bundles the storefront services.
type App struct {
	Catalog  *Catalog
	Orders   *OrderBook
	Accounts *Accounts
	Cart     *Cart
	Checkout *Checkout
}

// RetryPolicy turns the client settings into the mutation retry budget:
// one call plus the configured retries, fixed interval between attempts.
func RetryPolicy(c config.ClientConfig) *retry.Config {
	return retry.Fixed(c.Retries+1, c.Timeout, c.RetryInterval)
}

// NewKV returns a Redis cache when an address is configured, and a
// directory of JSON files otherwise.
func NewKV(c config.CacheConfig) syncache.KV {
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr, DB: c.RedisDB})
		return syncache.NewRedisKV(client, c.KeyPrefix)
	}
	return syncache.NewFileKV(c.Dir)
}

// New wires every service against the API at c.BaseURL and the local kv.
func New(c config.ClientConfig, kv syncache.KV, client *http.Client, logger logrus.FieldLogger) *App {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if client == nil {
		client = &http.Client{}
	}
	policy := RetryPolicy(c)

	var productSeed syncache.SeedFunc[models.Product]
	if c.SeedProducts != "" {
		productSeed = syncache.JSONFileSeed[models.Product](c.SeedProducts)
	}
	var userSeed syncache.SeedFunc[models.User]
	if c.SeedUsers != "" {
		userSeed = syncache.JSONFileSeed[models.User](c.SeedUsers)
	}

	products := syncache.NewCollection[models.Product](
		syncache.NewRemote[models.Product](client, c.BaseURL, "products", "product"),
		syncache.NewLocal[models.Product](kv, ProductsKey, logger),
		syncache.Options[models.Product]{Name: "products", Retry: policy, Seed: productSeed, Logger: logger},
	)
	orders := syncache.NewCollection[models.Order](
		syncache.NewRemote[models.Order](client, c.BaseURL, "orders", "order"),
		syncache.NewLocal[models.Order](kv, OrdersKey, logger),
		syncache.Options[models.Order]{Name: "orders", Retry: policy, Logger: logger},
	)

	catalog := NewCatalog(products, logger)
	book := NewOrderBook(orders)
	accounts := NewAccounts(syncache.NewRemote[models.User](client, c.BaseURL, "users", "user"), kv, userSeed, policy, logger)
	cart := NewCart(kv)

	return &App{
		Catalog:  catalog,
		Orders:   book,
		Accounts: accounts,
		Cart:     cart,
		Checkout: NewCheckout(accounts, cart, catalog, book, logger),
	}
}

// Start loads the collections in parallel and restores the session and
// cart.
func (a *App) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Catalog.Load(ctx) })
	g.Go(func() error { return a.Orders.Load(ctx) })
	g.Go(func() error { return a.Accounts.Restore(ctx) })
	g.Go(func() error { return a.Cart.Load(ctx) })
	return g.Wait()
}
