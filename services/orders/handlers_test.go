package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/tenant-order-engine/internal/billing"
	"github.com/matheusmosca/tenant-order-engine/internal/checkout"
	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/inventory"
	"github.com/matheusmosca/tenant-order-engine/internal/notify"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
	"github.com/matheusmosca/tenant-order-engine/internal/store/memory"
	"github.com/matheusmosca/tenant-order-engine/internal/tenant"
)

type testServer struct {
	router   *gin.Engine
	driver   *memory.Driver
	registry *tenant.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	driver := memory.New()
	registry := tenant.NewRegistry(driver)
	dispatcher := notify.NewDispatcher(notify.NopNotifier{}, time.Second, nil)
	t.Cleanup(dispatcher.Wait)

	handler := NewOrderHandler(
		registry,
		checkout.NewCoordinator(billing.NewIssuer(), dispatcher, checkout.Options{}),
		billing.NewVerifier(registry),
		inventory.NewInventoryUseCase(),
	)

	r := gin.New()
	registerRoutes(r, handler)
	return &testServer{router: r, driver: driver, registry: registry}
}

func (s *testServer) seedProduct(t *testing.T, tenantID string, price string, stock int) *domain.Product {
	t.Helper()
	h, err := s.registry.Resolve(context.Background(), tenantID)
	require.NoError(t, err)

	p := domain.NewProduct("Vitamin C", "SKU-"+domain.NewID(), decimal.RequireFromString(price), stock, 1)
	err = h.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertProduct(ctx, p)
	})
	require.NoError(t, err)
	return p
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "cashier-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func orderBody(productID string, quantity int) gin.H {
	return gin.H{
		"items": []gin.H{{"product_id": productID, "quantity": quantity}},
		"buyer": gin.H{"name": "Ana", "email": "ana@example.com"},
	}
}

func TestCreateOrder_ThenVerifyBill(t *testing.T) {
	// Arrange
	s := newTestServer(t)
	p := s.seedProduct(t, "shop1", "15.00", 5)

	// Act
	w, body := s.do(t, http.MethodPost, "/api/tenants/shop1/orders", orderBody(p.ID, 2))

	// Assert
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "30.00", body["total_amount"])
	assert.EqualValues(t, 1, body["item_count"])
	assert.NotEmpty(t, body["sale_id"])

	token, ok := body["bill_token"].(string)
	require.True(t, ok)
	parsed, err := billing.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "shop1", parsed.TenantID)
	assert.Equal(t, body["sale_id"], parsed.SaleID)

	w, receipt := s.do(t, http.MethodGet, "/api/bills/verify/"+token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	items, ok := receipt["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "Vitamin C", item["name"])
	assert.EqualValues(t, 2, item["quantity"])
}

func TestCreateOrder_Errors(t *testing.T) {
	s := newTestServer(t)
	p := s.seedProduct(t, "shop1", "15.00", 1)

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "insufficient stock",
			path:       "/api/tenants/shop1/orders",
			body:       orderBody(p.ID, 2),
			wantStatus: http.StatusConflict,
			wantCode:   "InsufficientStock",
		},
		{
			name:       "unknown product",
			path:       "/api/tenants/shop1/orders",
			body:       orderBody("missing", 1),
			wantStatus: http.StatusNotFound,
			wantCode:   "ProductNotFound",
		},
		{
			name:       "invalid tenant",
			path:       "/api/tenants/bad-id/orders",
			body:       orderBody(p.ID, 1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "InvalidTenant",
		},
		{
			name:       "empty items",
			path:       "/api/tenants/shop1/orders",
			body:       gin.H{"items": []gin.H{}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "zero quantity",
			path:       "/api/tenants/shop1/orders",
			body:       orderBody(p.ID, 0),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := s.do(t, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}
}

func TestVerifyBill_Errors(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/api/bills/verify/not-a-token", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MalformedToken", body["code"])

	// tenant never provisioned
	w, body = s.do(t, http.MethodGet, "/api/bills/verify/ghost-0123456789abcdef0123456789abcdef-sale1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TenantNotFound", body["code"])

	_, err := s.registry.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	// tenant exists, bill does not
	s.seedProduct(t, "shop1", "1.00", 1)
	w, body = s.do(t, http.MethodGet, "/api/bills/verify/shop1-0123456789abcdef0123456789abcdef-sale1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BillNotFound", body["code"])
}

func TestListAuditLogs(t *testing.T) {
	s := newTestServer(t)
	p := s.seedProduct(t, "shop1", "15.00", 5)

	w, _ := s.do(t, http.MethodPost, "/api/tenants/shop1/orders", orderBody(p.ID, 1))
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/tenants/shop1/audit-logs?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = s.do(t, http.MethodGet, "/api/tenants/shop1/audit-logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])

	w, _ = s.do(t, http.MethodGet, "/api/tenants/shop1/audit-logs?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestockAndAdjust(t *testing.T) {
	s := newTestServer(t)
	p := s.seedProduct(t, "shop1", "15.00", 2)
	base := fmt.Sprintf("/api/tenants/shop1/products/%s", p.ID)

	w, body := s.do(t, http.MethodPost, base+"/restock", gin.H{"quantity": 8})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["before"])
	assert.EqualValues(t, 10, body["after"])

	w, body = s.do(t, http.MethodPost, base+"/adjustments", gin.H{"delta": -11, "reason": "breakage"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "InsufficientStock", body["code"])

	w, body = s.do(t, http.MethodPost, base+"/adjustments", gin.H{"delta": -9, "reason": "breakage"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["after"])
	assert.Equal(t, true, body["low_stock"])

	w, _ = s.do(t, http.MethodPost, base+"/adjustments", gin.H{"delta": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/tenants/shop1/products/missing/restock", gin.H{"quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ProductNotFound", body["code"])
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	require.NoError(t, s.driver.Close(context.Background()))

	w, body = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidOrder, http.StatusBadRequest},
		{fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder), http.StatusBadRequest},
		{domain.ErrInvalidAdjustment, http.StatusBadRequest},
		{domain.ErrMalformedToken, http.StatusBadRequest},
		{domain.ErrProductNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %w", domain.ErrTenantNotFound, domain.ErrTenantUnavailable), http.StatusNotFound},
		{domain.ErrInsufficientStock, http.StatusConflict},
		{domain.ErrTenantUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, domain.ErrDuplicateToken), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/tenants/shop1/orders", nil)

	writeError(c, fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, errors.New("pq: connection reset")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}
