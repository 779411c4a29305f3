package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/matheusmosca/tenant-order-engine/internal/audit"
	"github.com/matheusmosca/tenant-order-engine/internal/billing"
	"github.com/matheusmosca/tenant-order-engine/internal/checkout"
	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/inventory"
	"github.com/matheusmosca/tenant-order-engine/internal/tenant"
)

// CreateOrderRequest representa a requisição para criar um pedido
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Buyer *BuyerRequest      `json:"buyer"`
}

type OrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type BuyerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone"`
}

// RestockRequest representa a requisição de reposição de estoque
type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

// AdjustmentRequest representa um ajuste manual de estoque
type AdjustmentRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// TenantResolver resolves tenants for the write side
type TenantResolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenant.Handle, error)
	Ping(ctx context.Context) error
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, h *tenant.Handle, req checkout.Request) (*checkout.Result, error)
}

type BillVerifier interface {
	Verify(ctx context.Context, token string) (*billing.Receipt, error)
}

type StockMover interface {
	Restock(ctx context.Context, h *tenant.Handle, productID string, quantity int, actor string) (*inventory.Movement, error)
	Adjust(ctx context.Context, h *tenant.Handle, productID string, delta int, reason, actor string) (*inventory.Movement, error)
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	tenants  TenantResolver
	orders   OrderPlacer
	verifier BillVerifier
	stock    StockMover
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(tenants TenantResolver, orders OrderPlacer, verifier BillVerifier, stock StockMover) *OrderHandler {
	return &OrderHandler{
		tenants:  tenants,
		orders:   orders,
		verifier: verifier,
		stock:    stock,
	}
}

func registerRoutes(r *gin.Engine, h *OrderHandler) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.GET("/bills/verify/:token", h.VerifyBill)

	tenants := api.Group("/tenants/:tenantId")
	tenants.POST("/orders", h.CreateOrder)
	tenants.GET("/audit-logs", h.ListAuditLogs)
	tenants.POST("/products/:productId/restock", h.Restock)
	tenants.POST("/products/:productId/adjustments", h.Adjust)
}

// CreateOrder places an order for the tenant in the path
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, ok := h.resolve(c)
	if !ok {
		return
	}

	order := checkout.Request{
		Actor: c.GetHeader("X-User-ID"),
		Items: make([]checkout.ItemRequest, len(req.Items)),
	}
	for i, item := range req.Items {
		order.Items[i] = checkout.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	if req.Buyer != nil {
		order.Customer = &domain.Customer{Name: req.Buyer.Name, Email: req.Buyer.Email, Phone: req.Buyer.Phone}
	}

	result, err := h.orders.PlaceOrder(c.Request.Context(), handle, order)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sale_id":      result.SaleID,
		"total_amount": result.TotalAmount.StringFixed(2),
		"item_count":   result.ItemCount,
		"bill_token":   result.BillToken,
	})
}

// VerifyBill is public: it authenticates the bill, not the caller
func (h *OrderHandler) VerifyBill(c *gin.Context) {
	receipt, err := h.verifier.Verify(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// ListAuditLogs returns the newest audit entries of the tenant
func (h *OrderHandler) ListAuditLogs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	handle, ok := h.resolve(c)
	if !ok {
		return
	}

	entries, err := audit.List(c.Request.Context(), handle, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": entries, "count": len(entries)})
}

// Restock adds units to a product
func (h *OrderHandler) Restock(c *gin.Context) {
	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, ok := h.resolve(c)
	if !ok {
		return
	}

	m, err := h.stock.Restock(c.Request.Context(), handle, c.Param("productId"), req.Quantity, c.GetHeader("X-User-ID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Adjust applies a signed manual correction
func (h *OrderHandler) Adjust(c *gin.Context) {
	var req AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	handle, ok := h.resolve(c)
	if !ok {
		return
	}

	m, err := h.stock.Adjust(c.Request.Context(), handle, c.Param("productId"), req.Delta, req.Reason, c.GetHeader("X-User-ID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// HealthCheck verifica a saúde do serviço
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	if err := h.tenants.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "orders-service",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "orders-service",
	})
}

func (h *OrderHandler) resolve(c *gin.Context) (*tenant.Handle, bool) {
	tenantID := c.Param("tenantId")
	trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("tenant.id", tenantID))

	handle, err := h.tenants.Resolve(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return handle, true
}

// writeError maps the engine error taxonomy to HTTP. Bodies stay terse.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	de, ok := domain.AsError(err)
	if !ok || status == http.StatusInternalServerError {
		log.Printf("❌ [HTTP] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": de.Message, "code": de.Code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPersistenceFailure):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrMalformedToken),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidTenant),
		errors.Is(err, domain.ErrInvalidAdjustment):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrBillNotFound),
		errors.Is(err, domain.ErrSaleNotFound),
		errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTenantUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
