// Package checkout turns an order request into a committed sale: stock
// deductions, the sale, its bill and the audit trail land in one storage
// transaction or not at all.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/matheusmosca/tenant-order-engine/internal/audit"
	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/notify"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
	"github.com/matheusmosca/tenant-order-engine/internal/telemetry"
	"github.com/matheusmosca/tenant-order-engine/internal/tenant"
)

const DefaultTxTimeout = 10 * time.Second

// ItemRequest is one requested line
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Request is an order placed by Actor
type Request struct {
	Actor    string
	Items    []ItemRequest
	Customer *domain.Customer
}

// Result is returned once the order committed
type Result struct {
	SaleID      string          `json:"sale_id"`
	BillToken   string          `json:"bill_token"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
}

// BillIssuer persists the bill of a sale inside the order transaction
type BillIssuer interface {
	Issue(ctx context.Context, tx store.Tx, tenantID, saleID string) (*domain.Bill, error)
}

// Dispatcher sends the confirmation after commit without blocking
type Dispatcher interface {
	Dispatch(c notify.Confirmation)
}

// Options tunes the coordinator
type Options struct {
	// TxTimeout bounds the storage transaction of one order
	TxTimeout time.Duration
	// VerifyBaseURL prefixes the verification link sent to the buyer
	VerifyBaseURL string
}

// Coordinator contém a lógica de negócio do checkout
type Coordinator struct {
	issuer     BillIssuer
	dispatcher Dispatcher
	opts       Options
	metrics    *orderMetrics
}

// NewCoordinator cria uma nova instância de Coordinator
func NewCoordinator(issuer BillIssuer, dispatcher Dispatcher, opts Options) *Coordinator {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	return &Coordinator{
		issuer:     issuer,
		dispatcher: dispatcher,
		opts:       opts,
		metrics:    newOrderMetrics(telemetry.Meter()),
	}
}

// deduction is the stock movement of one line
type deduction struct {
	productID     string
	before, after int
}

// PlaceOrder validates req against the tenant stock and commits the sale,
// its bill and audit entries atomically.
func (c *Coordinator) PlaceOrder(ctx context.Context, h *tenant.Handle, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := telemetry.StartOrderSpan(ctx, h.ID, req.Actor)
	defer span.End()
	defer c.metrics.observe(ctx, h.ID, start)

	log.Printf("➡️ [ORDER] Tenant=%s | Actor=%s | Items=%d", h.ID, req.Actor, len(req.Items))

	if err := checkRequest(req); err != nil {
		log.Printf("❌ [ORDER] Rejected: Tenant=%s, Error=%v", h.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.aborted(ctx, h.ID, err)
		return nil, err
	}

	run := newOrderRun(span)

	result, err := c.placeOrder(ctx, h, req, run)
	if err != nil {
		run.abort()
		err = surface(err)
		log.Printf("❌ [ORDER] Aborted: Tenant=%s, Error=%v", h.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.metrics.aborted(ctx, h.ID, err)
		return nil, err
	}

	run.transition(StateCommitted)
	span.SetAttributes(attribute.String("sale.id", result.SaleID))
	c.metrics.committed(ctx, h.ID)
	log.Printf("✅ [ORDER] Committed: Tenant=%s, SaleID=%s, Total=%s", h.ID, result.SaleID, result.TotalAmount.StringFixed(2))

	return result, nil
}

func (c *Coordinator) placeOrder(ctx context.Context, h *tenant.Handle, req Request, run *orderRun) (*Result, error) {
	lines, err := validate(ctx, h, req.Items)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, c.opts.TxTimeout)
	defer cancel()

	var (
		sale *domain.Sale
		bill *domain.Bill
	)
	err = h.WithinTx(txCtx, func(ctx context.Context, tx store.Tx) error {
		run.beginReservation()

		deductions := make([]deduction, 0, len(lines))
		for _, line := range lines {
			before, after, err := tx.AdjustStock(ctx, line.ProductID, -line.Quantity)
			if err != nil {
				return fmt.Errorf("reserve %s: %w", line.ProductID, err)
			}
			deductions = append(deductions, deduction{productID: line.ProductID, before: before, after: after})
		}

		run.transition(StatePersisting)

		sale = domain.NewSale(domain.NewID(), lines, req.Customer, req.Actor)
		if err := sale.Complete(); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}

		issued, err := c.issuer.Issue(ctx, tx, h.ID, sale.ID)
		if err != nil {
			return err
		}
		bill = issued

		for _, d := range deductions {
			entry := audit.NewEntry(req.Actor, domain.AuditSaleDeduction, domain.CollectionProducts, d.productID,
				domain.Snapshot{"stock": d.before},
				domain.Snapshot{"stock": d.after, "sale_id": sale.ID},
			)
			if err := tx.AppendAudit(ctx, entry); err != nil {
				return fmt.Errorf("audit deduction: %w", err)
			}
		}

		entry := audit.NewEntry(req.Actor, domain.AuditTransaction, domain.CollectionSales, sale.ID, nil, domain.Snapshot{
			"total_amount": sale.TotalAmount.String(),
			"item_count":   sale.ItemCount(),
			"bill_id":      bill.ID,
		})
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("audit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.confirm(h.ID, sale, bill)

	return &Result{
		SaleID:      sale.ID,
		BillToken:   bill.Token,
		TotalAmount: sale.TotalAmount,
		ItemCount:   sale.ItemCount(),
	}, nil
}

// confirm hands the confirmation to the dispatcher when the buyer left an email
func (c *Coordinator) confirm(tenantID string, sale *domain.Sale, bill *domain.Bill) {
	if c.dispatcher == nil || sale.Customer == nil || sale.Customer.Email == "" {
		return
	}

	confirmation := notify.Confirmation{
		TenantID:    tenantID,
		SaleID:      sale.ID,
		BillID:      bill.ID,
		BillToken:   bill.Token,
		TotalAmount: sale.TotalAmount,
		ItemCount:   sale.ItemCount(),
		Customer:    sale.Customer,
		CreatedAt:   sale.CreatedAt,
	}
	if c.opts.VerifyBaseURL != "" {
		confirmation.VerifyURL = strings.TrimRight(c.opts.VerifyBaseURL, "/") + "/api/bills/verify/" + bill.Token
	}
	c.dispatcher.Dispatch(confirmation)
}

func checkRequest(req Request) error {
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: order has no items", domain.ErrInvalidOrder)
	}
	for i, item := range req.Items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: item %d has no product", domain.ErrInvalidOrder, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", domain.ErrInvalidOrder, i)
		}
	}
	return nil
}

// validate reads every product and freezes its current price. Repeated
// products compound: their quantities are checked together.
func validate(ctx context.Context, r store.Reader, items []ItemRequest) ([]domain.LineItem, error) {
	requested := make(map[string]int, len(items))
	products := make(map[string]*domain.Product, len(items))
	lines := make([]domain.LineItem, 0, len(items))

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			p, err := r.GetProduct(ctx, item.ProductID)
			if err != nil {
				return nil, fmt.Errorf("validate %s: %w", item.ProductID, err)
			}
			if p.Deleted {
				return nil, fmt.Errorf("validate %s: %w", item.ProductID, domain.ErrProductNotFound)
			}
			products[item.ProductID] = p
			product = p
		}

		requested[item.ProductID] += item.Quantity
		if requested[item.ProductID] > product.Stock {
			return nil, fmt.Errorf("validate %s: %w", item.ProductID, domain.ErrInsufficientStock)
		}

		lines = append(lines, domain.LineItem{
			ProductID:   item.ProductID,
			Quantity:    item.Quantity,
			PriceAtSale: product.UnitPrice,
		})
	}
	return lines, nil
}

// surface keeps the errors a buyer can act on and folds every other
// failure of the transaction into PersistenceFailure
func surface(err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrTenantUnavailable):
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
}

// orderMetrics holds the checkout instruments
type orderMetrics struct {
	committedCounter metric.Int64Counter
	abortedCounter   metric.Int64Counter
	duration         metric.Float64Histogram
}

func newOrderMetrics(meter metric.Meter) *orderMetrics {
	m := &orderMetrics{}
	var err error

	if m.committedCounter, err = meter.Int64Counter("orders.committed",
		metric.WithDescription("Orders committed")); err != nil {
		log.Printf("⚠️ [METRICS] orders.committed: %v", err)
	}
	if m.abortedCounter, err = meter.Int64Counter("orders.aborted",
		metric.WithDescription("Orders aborted, by reason")); err != nil {
		log.Printf("⚠️ [METRICS] orders.aborted: %v", err)
	}
	if m.duration, err = meter.Float64Histogram("orders.duration",
		metric.WithDescription("Order placement latency"),
		metric.WithUnit("ms")); err != nil {
		log.Printf("⚠️ [METRICS] orders.duration: %v", err)
	}
	return m
}

func (m *orderMetrics) committed(ctx context.Context, tenantID string) {
	if m.committedCounter != nil {
		m.committedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant.id", tenantID)))
	}
}

func (m *orderMetrics) aborted(ctx context.Context, tenantID string, err error) {
	if m.abortedCounter == nil {
		return
	}
	reason := "Unknown"
	if de, ok := domain.AsError(err); ok {
		reason = de.Code
	}
	m.abortedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("reason", reason),
	))
}

func (m *orderMetrics) observe(ctx context.Context, tenantID string, start time.Time) {
	if m.duration != nil {
		m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(attribute.String("tenant.id", tenantID)))
	}
}
