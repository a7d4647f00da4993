package store

import (
	"context"

	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/sirupsen/logrus"
)

// Collection names, also used as metric labels and client cache keys.
const (
	UsersCollection    = "users"
	ProductsCollection = "products"
	OrdersCollection   = "orders"
)

// Paths locates the three collection files.
type Paths struct {
	Users    string
	Products string
	Orders   string
}

// Store groups the three collections served by the API.
type Store struct {
	Users    *Collection[models.User]
	Products *Collection[models.Product]
	Orders   *Collection[models.Order]
}

// New opens the collections. Files are created on first write.
func New(paths Paths, logger logrus.FieldLogger) *Store {
	return &Store{
		Users:    NewCollection[models.User](UsersCollection, paths.Users, logger),
		Products: NewCollection[models.Product](ProductsCollection, paths.Products, logger),
		Orders:   NewCollection[models.Order](OrdersCollection, paths.Orders, logger),
	}
}

// Counts returns the number of records per collection.
func (s *Store) Counts(ctx context.Context) map[string]int {
	return map[string]int{
		UsersCollection:    s.Users.Count(ctx),
		ProductsCollection: s.Products.Count(ctx),
		OrdersCollection:   s.Orders.Count(ctx),
	}
}
