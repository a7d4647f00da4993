package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/service"
	"github.com/saixiaoxi/sipstop/pkg/healthcheck"
)

// Handler serves the SipStop JSON API.
type Handler struct {
	service *service.Service
	checker *healthcheck.Checker
}

// NewHandler creates the API handler. checker may be nil.
func NewHandler(svc *service.Service, checker *healthcheck.Checker) *Handler {
	return &Handler{service: svc, checker: checker}
}

// RegisterRoutes mounts every route under /api.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api")
	{
		users := api.Group("/users")
		{
			users.GET("", h.GetUsers)
			users.POST("", h.CreateUser)
		}

		products := api.Group("/products")
		{
			products.GET("", h.GetProducts)
			products.GET("/:id", h.GetProduct)
			products.POST("", h.CreateProduct)
			products.PUT("/:id", h.UpdateProduct)
			products.DELETE("/:id", h.DeleteProduct)
		}

		orders := api.Group("/orders")
		{
			orders.GET("", h.GetOrders)
			orders.GET("/:id", h.GetOrder)
			orders.POST("", h.CreateOrder)
		}

		api.GET("/health", h.Health)
	}
}

// fail maps err onto a status code and records it for the error middleware.
func fail(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errdefs.IsValidation(err):
		status = http.StatusBadRequest
		msg = validationMessage(err, msg)
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
	}
	_ = c.Error(err)
	c.JSON(status, models.ErrorResponse{Error: msg})
}

// validationMessage surfaces the reason a request was rejected.
func validationMessage(err error, fallback string) string {
	reason := errdefs.Reason(err)
	if reason == "" {
		return fallback
	}
	return strings.ToUpper(reason[:1]) + reason[1:]
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid id"})
		return 0, false
	}
	return id, true
}

// ============ Users ============

// GetUsers lists all users.
func (h *Handler) GetUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListUsers(c.Request.Context()))
}

// CreateUser registers a user; a duplicate email is a 400.
func (h *Handler) CreateUser(c *gin.Context) {
	var user models.User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid user data"})
		return
	}

	created, err := h.service.CreateUser(c.Request.Context(), user)
	if err != nil {
		fail(c, err, "Failed to save user")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": created})
}

// ============ Products ============

// GetProducts lists all products.
func (h *Handler) GetProducts(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.ListProducts(c.Request.Context()))
}

// GetProduct returns one product by id.
func (h *Handler) GetProduct(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	product, err := h.service.GetProduct(c.Request.Context(), id)
	if err != nil {
		fail(c, err, "Product not found")
		return
	}
	c.JSON(http.StatusOK, product)
}

// CreateProduct stores a new product with the next free id.
func (h *Handler) CreateProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid product data"})
		return
	}

	created, err := h.service.CreateProduct(c.Request.Context(), product)
	if err != nil {
		fail(c, err, "Failed to save product")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "product": created})
}

// UpdateProduct applies a partial update; only fields present in the body
// change.
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid product data"})
		return
	}

	updated, err := h.service.UpdateProduct(c.Request.Context(), id, body)
	if err != nil {
		msg := "Failed to update product"
		if errdefs.IsNotFound(err) {
			msg = "Product not found"
		}
		fail(c, err, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "product": updated})
}

// DeleteProduct removes a product by id.
func (h *Handler) DeleteProduct(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	if err := h.service.DeleteProduct(c.Request.Context(), id); err != nil {
		msg := "Failed to delete product"
		if errdefs.IsNotFound(err) {
			msg = "Product not found"
		}
		fail(c, err, msg)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Product deleted"})
}

// ============ Orders ============

// GetOrders lists every order, or only one user's when ?userId= is given.
func (h *Handler) GetOrders(c *gin.Context) {
	ctx := c.Request.Context()
	if raw := c.Query("userId"); raw != "" {
		userID, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid userId"})
			return
		}
		c.JSON(http.StatusOK, h.service.OrdersByUser(ctx, userID))
		return
	}
	c.JSON(http.StatusOK, h.service.ListOrders(ctx))
}

// GetOrder returns one order by id.
func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		fail(c, err, "Order not found")
		return
	}
	c.JSON(http.StatusOK, order)
}

// CreateOrder stores an order, stamping its id and date.
func (h *Handler) CreateOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid order data"})
		return
	}

	created, err := h.service.CreateOrder(c.Request.Context(), order)
	if err != nil {
		fail(c, err, "Failed to save order to file")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "order": created})
}

// ============ Health ============

// Health reports that the server is up, with file check results.
func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "Server is running",
		"timestamp": time.Now().UTC().Format(models.ISOTime),
		"endpoints": gin.H{
			"users":    "/api/users",
			"products": "/api/products",
			"orders":   "/api/orders",
		},
	}
	if h.checker != nil {
		resp["checks"] = h.checker.RunChecks(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}
