package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/monitors"
	"github.com/saixiaoxi/sipstop/internal/store"
	"github.com/sirupsen/logrus"
)

// Service implements the collection mutations behind the HTTP API.
type Service struct {
	store   *store.Store
	monitor monitors.Monitor
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewService creates the service. monitor may be nil.
func NewService(st *store.Store, monitor monitors.Monitor, logger logrus.FieldLogger) *Service {
	if monitor == nil {
		monitor = monitors.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:   st,
		monitor: monitor,
		logger:  logger,
		now:     time.Now,
	}
}

// Store exposes the underlying collections, used for health checks.
func (s *Service) Store() *store.Store {
	return s.store
}

func (s *Service) recordWrite(ctx context.Context, collection string, records int, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	_ = s.monitor.Counter(ctx, monitors.MetricStoreWrites, 1, map[string]string{
		"collection": collection,
		"result":     result,
	})
	if err == nil {
		_ = s.monitor.Gauge(ctx, monitors.MetricCollectionRecords, float64(records), map[string]string{
			"collection": collection,
		})
	}
}

// ============ Users ============

// ListUsers returns every stored user.
func (s *Service) ListUsers(ctx context.Context) []models.User {
	return s.store.Users.Read(ctx)
}

// CreateUser appends a user. A duplicate email is rejected before any write.
func (s *Service) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Email = strings.TrimSpace(user.Email)
	if user.Email == "" {
		return models.User{}, errdefs.Validationf("email is required")
	}
	if user.Role == "" {
		user.Role = models.RoleCustomer
	}

	var created models.User
	next, err := s.store.Users.Mutate(ctx, func(users []models.User) ([]models.User, error) {
		for _, u := range users {
			if u.Email == user.Email {
				return nil, errdefs.Validationf("email already exists")
			}
		}
		created = user.WithID(models.NextID(users))
		return append(users, created), nil
	})
	if errdefs.IsValidation(err) {
		return models.User{}, err
	}
	s.recordWrite(ctx, store.UsersCollection, len(next), err)
	if err != nil {
		return models.User{}, errdefs.Wrap("create", store.UsersCollection, 0, err)
	}

	s.logger.WithFields(logrus.Fields{"collection": store.UsersCollection, "id": created.ID}).Info("User added")
	return created, nil
}

// ============ Products ============

// ListProducts returns every stored product.
func (s *Service) ListProducts(ctx context.Context) []models.Product {
	return s.store.Products.Read(ctx)
}

// GetProduct returns the product with id, or ErrNotFound.
func (s *Service) GetProduct(ctx context.Context, id int) (models.Product, error) {
	for _, p := range s.store.Products.Read(ctx) {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Product{}, errdefs.Wrap("get", store.ProductsCollection, id, errdefs.ErrNotFound)
}

// CreateProduct appends a product with the next id.
func (s *Service) CreateProduct(ctx context.Context, product models.Product) (models.Product, error) {
	if product.Stock < 0 {
		return models.Product{}, errdefs.Validationf("stock must not be negative")
	}

	var created models.Product
	next, err := s.store.Products.Mutate(ctx, func(products []models.Product) ([]models.Product, error) {
		created = product.WithID(models.NextID(products))
		return append(products, created), nil
	})
	s.recordWrite(ctx, store.ProductsCollection, len(next), err)
	if err != nil {
		return models.Product{}, errdefs.Wrap("create", store.ProductsCollection, 0, err)
	}

	s.logger.WithFields(logrus.Fields{"collection": store.ProductsCollection, "id": created.ID}).Info("Product added")
	return created, nil
}

// UpdateProduct merges the fields present in patch over the stored product.
// The id in the path always wins.
func (s *Service) UpdateProduct(ctx context.Context, id int, patch json.RawMessage) (models.Product, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return models.Product{}, errdefs.Validationf("product update must be a JSON object")
	}

	var updated models.Product
	next, err := s.store.Products.Mutate(ctx, func(products []models.Product) ([]models.Product, error) {
		idx := indexOf(products, id)
		if idx < 0 {
			return nil, errdefs.ErrNotFound
		}
		merged, err := mergeProduct(products[idx], fields)
		if err != nil {
			return nil, err
		}
		updated = merged.WithID(id)
		out := append([]models.Product(nil), products...)
		out[idx] = updated
		return out, nil
	})
	if errdefs.IsRejection(err) {
		return models.Product{}, errdefs.Wrap("update", store.ProductsCollection, id, err)
	}
	s.recordWrite(ctx, store.ProductsCollection, len(next), err)
	if err != nil {
		return models.Product{}, errdefs.Wrap("update", store.ProductsCollection, id, err)
	}

	s.logger.WithFields(logrus.Fields{"collection": store.ProductsCollection, "id": id}).Info("Product updated")
	return updated, nil
}

// DeleteProduct removes a product. An unknown id is not written.
func (s *Service) DeleteProduct(ctx context.Context, id int) error {
	next, err := s.store.Products.Mutate(ctx, func(products []models.Product) ([]models.Product, error) {
		out := make([]models.Product, 0, len(products))
		for _, p := range products {
			if p.ID != id {
				out = append(out, p)
			}
		}
		if len(out) == len(products) {
			return nil, errdefs.ErrNotFound
		}
		return out, nil
	})
	if errdefs.IsNotFound(err) {
		return errdefs.Wrap("delete", store.ProductsCollection, id, err)
	}
	s.recordWrite(ctx, store.ProductsCollection, len(next), err)
	if err != nil {
		return errdefs.Wrap("delete", store.ProductsCollection, id, err)
	}

	s.logger.WithFields(logrus.Fields{"collection": store.ProductsCollection, "id": id}).Info("Product deleted")
	return nil
}

func indexOf[T models.Record[T]](records []T, id int) int {
	for i, r := range records {
		if r.RecordID() == id {
			return i
		}
	}
	return -1
}

func mergeProduct(current models.Product, fields map[string]json.RawMessage) (models.Product, error) {
	raw, err := json.Marshal(current)
	if err != nil {
		return models.Product{}, err
	}
	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &base); err != nil {
		return models.Product{}, err
	}
	for k, v := range fields {
		base[k] = v
	}
	raw, err = json.Marshal(base)
	if err != nil {
		return models.Product{}, err
	}

	var merged models.Product
	if err := json.Unmarshal(raw, &merged); err != nil {
		return models.Product{}, errdefs.Validationf("invalid product field: %v", err)
	}
	if merged.Stock < 0 {
		return models.Product{}, errdefs.Validationf("stock must not be negative")
	}
	return merged, nil
}

// ============ Orders ============

// ListOrders returns every stored order.
func (s *Service) ListOrders(ctx context.Context) []models.Order {
	return s.store.Orders.Read(ctx)
}

// OrdersByUser returns the orders placed by userID.
func (s *Service) OrdersByUser(ctx context.Context, userID int) []models.Order {
	out := []models.Order{}
	for _, o := range s.store.Orders.Read(ctx) {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out
}

// GetOrder returns the order with id, or ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, id int) (models.Order, error) {
	for _, o := range s.store.Orders.Read(ctx) {
		if o.ID == id {
			return o, nil
		}
	}
	return models.Order{}, errdefs.Wrap("get", store.OrdersCollection, id, errdefs.ErrNotFound)
}

// CreateOrder appends an order, stamping the date when absent, and reads the
// file back to confirm the order landed.
func (s *Service) CreateOrder(ctx context.Context, order models.Order) (models.Order, error) {
	if order.UserID == 0 {
		return models.Order{}, errdefs.Validationf("userId is required")
	}
	if order.Date == "" {
		order.Date = s.now().UTC().Format(models.ISOTime)
	}
	if order.Status == "" {
		order.Status = models.OrderStatusPending
	}
	if order.Items == nil {
		order.Items = []models.CartItem{}
	}

	var created models.Order
	next, err := s.store.Orders.Mutate(ctx, func(orders []models.Order) ([]models.Order, error) {
		created = order.WithID(models.NextID(orders))
		return append(orders, created), nil
	})
	s.recordWrite(ctx, store.OrdersCollection, len(next), err)
	if err != nil {
		return models.Order{}, errdefs.Wrap("create", store.OrdersCollection, 0, err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"collection":   store.OrdersCollection,
		"id":           created.ID,
		"order_number": created.OrderNumber,
		"total_orders": len(next),
	})
	if indexOf(s.store.Orders.Read(ctx), created.ID) < 0 {
		log.Error("Order missing from file after write")
		return models.Order{}, errdefs.Wrap("verify", store.OrdersCollection, created.ID,
			fmt.Errorf("order not found after write: %w", errdefs.ErrPersistence))
	}

	log.Info("Order saved and verified")
	return created, nil
}
