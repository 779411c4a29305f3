// Package memory keeps tenant partitions in process memory. It backs the
// dev mode of the service and the package tests; transactions hold the
// partition write lock and revert through an undo journal.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

// compile-time interface checks
var (
	_ store.Driver    = (*Driver)(nil)
	_ store.Partition = (*Partition)(nil)
	_ store.Tx        = (*memTx)(nil)
)

var errClosed = fmt.Errorf("%w: memory store is closed", domain.ErrTenantUnavailable)

// Driver holds every partition created in this process
type Driver struct {
	mu         sync.Mutex
	closed     atomic.Bool
	partitions map[string]*Partition
}

// New creates an empty memory driver
func New() *Driver {
	return &Driver{partitions: make(map[string]*Partition)}
}

func (d *Driver) Open(_ context.Context, tenantID string) (store.Partition, error) {
	if d.closed.Load() {
		return nil, errClosed
	}
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrInvalidTenant
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.partitions[tenantID]; ok {
		return p, nil
	}
	p := newPartition(tenantID, &d.closed)
	d.partitions[tenantID] = p
	return p, nil
}

func (d *Driver) Attach(_ context.Context, tenantID string) (store.Partition, error) {
	if d.closed.Load() {
		return nil, errClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.partitions[tenantID]; ok {
		return p, nil
	}
	return nil, domain.ErrTenantNotFound
}

func (d *Driver) Ping(_ context.Context) error {
	if d.closed.Load() {
		return errClosed
	}
	return nil
}

// Close makes the driver and every partition it handed out unavailable
func (d *Driver) Close(_ context.Context) error {
	d.closed.Store(true)
	return nil
}

// Partition is the in-memory data set of one tenant
type Partition struct {
	tenantID string
	closed   *atomic.Bool

	mu         sync.RWMutex
	products   map[string]domain.Product
	skus       map[string]string
	sales      map[string]domain.Sale
	bills      map[string]domain.Bill
	billTokens map[string]string
	billSales  map[string]string
	auditLogs  []domain.AuditLog
}

func newPartition(tenantID string, closed *atomic.Bool) *Partition {
	return &Partition{
		tenantID:   tenantID,
		closed:     closed,
		products:   make(map[string]domain.Product),
		skus:       make(map[string]string),
		sales:      make(map[string]domain.Sale),
		bills:      make(map[string]domain.Bill),
		billTokens: make(map[string]string),
		billSales:  make(map[string]string),
	}
}

func (p *Partition) TenantID() string { return p.tenantID }

func (p *Partition) available(ctx context.Context) error {
	if p.closed.Load() {
		return errClosed
	}
	return ctx.Err()
}

func (p *Partition) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	if err := p.available(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.getProduct(productID)
}

func (p *Partition) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	if err := p.available(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.getSale(saleID)
}

func (p *Partition) GetBillByToken(ctx context.Context, token string) (*domain.Bill, error) {
	if err := p.available(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.getBillByToken(token)
}

func (p *Partition) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := p.available(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.listAuditLogs(limit), nil
}

func (p *Partition) MarkBillEmailSent(ctx context.Context, billID string) error {
	if err := p.available(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.bills[billID]
	if !ok {
		return domain.ErrBillNotFound
	}
	b.EmailSent = true
	p.bills[billID] = b
	return nil
}

// WithinTx serializes the transactions of this partition behind the write
// lock, so readers never observe a half-applied unit.
func (p *Partition) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	if err := p.available(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &memTx{p: p}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	// deadline reached while fn was running: nothing is committed
	if err := p.available(ctx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// unlocked helpers; callers hold p.mu

func (p *Partition) getProduct(productID string) (*domain.Product, error) {
	prod, ok := p.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &prod, nil
}

func (p *Partition) getSale(saleID string) (*domain.Sale, error) {
	s, ok := p.sales[saleID]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	items := make([]domain.LineItem, len(s.Items))
	copy(items, s.Items)
	s.Items = items
	if s.Customer != nil {
		c := *s.Customer
		s.Customer = &c
	}
	return &s, nil
}

func (p *Partition) getBillByToken(token string) (*domain.Bill, error) {
	id, ok := p.billTokens[token]
	if !ok {
		return nil, domain.ErrBillNotFound
	}
	b := p.bills[id]
	return &b, nil
}

func (p *Partition) listAuditLogs(limit int) []domain.AuditLog {
	out := make([]domain.AuditLog, len(p.auditLogs))
	// newest first; later appends win ties
	for i := range p.auditLogs {
		out[i] = p.auditLogs[len(p.auditLogs)-1-i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// memTx applies writes directly and journals how to revert them
type memTx struct {
	p    *Partition
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	return tx.p.getProduct(productID)
}

func (tx *memTx) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	return tx.p.getSale(saleID)
}

func (tx *memTx) GetBillByToken(_ context.Context, token string) (*domain.Bill, error) {
	return tx.p.getBillByToken(token)
}

func (tx *memTx) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	return tx.p.listAuditLogs(limit), nil
}

func (tx *memTx) AdjustStock(ctx context.Context, productID string, delta int) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	prod, ok := tx.p.products[productID]
	if !ok || prod.Deleted {
		return 0, 0, domain.ErrProductNotFound
	}
	if prod.Stock+delta < 0 {
		return prod.Stock, prod.Stock, domain.ErrInsufficientStock
	}

	previous := prod
	prod.Stock += delta
	prod.UpdatedAt = time.Now().UTC()
	tx.p.products[productID] = prod
	tx.undo = append(tx.undo, func() { tx.p.products[productID] = previous })

	return previous.Stock, prod.Stock, nil
}

func (tx *memTx) InsertProduct(_ context.Context, prod *domain.Product) error {
	if prod.Stock < 0 {
		return fmt.Errorf("memory: product %s has negative stock", prod.ID)
	}
	if _, exists := tx.p.products[prod.ID]; exists {
		return fmt.Errorf("memory: product %s already exists", prod.ID)
	}
	if _, exists := tx.p.skus[prod.SKU]; exists {
		return fmt.Errorf("memory: sku %q already exists", prod.SKU)
	}

	tx.p.products[prod.ID] = *prod
	tx.p.skus[prod.SKU] = prod.ID
	id, sku := prod.ID, prod.SKU
	tx.undo = append(tx.undo, func() {
		delete(tx.p.products, id)
		delete(tx.p.skus, sku)
	})
	return nil
}

func (tx *memTx) UpdateProduct(_ context.Context, prod *domain.Product) error {
	current, ok := tx.p.products[prod.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if owner, exists := tx.p.skus[prod.SKU]; exists && owner != prod.ID {
		return fmt.Errorf("memory: sku %q already exists", prod.SKU)
	}

	previous := current
	current.Name = prod.Name
	current.SKU = prod.SKU
	current.UnitPrice = prod.UnitPrice
	current.LowStockThreshold = prod.LowStockThreshold
	current.Deleted = prod.Deleted
	current.UpdatedAt = time.Now().UTC()

	delete(tx.p.skus, previous.SKU)
	tx.p.skus[current.SKU] = current.ID
	tx.p.products[current.ID] = current
	tx.undo = append(tx.undo, func() {
		delete(tx.p.skus, current.SKU)
		tx.p.skus[previous.SKU] = previous.ID
		tx.p.products[previous.ID] = previous
	})
	return nil
}

func (tx *memTx) InsertSale(_ context.Context, s *domain.Sale) error {
	if _, exists := tx.p.sales[s.ID]; exists {
		return fmt.Errorf("memory: sale %s already exists", s.ID)
	}

	stored := *s
	stored.Items = make([]domain.LineItem, len(s.Items))
	copy(stored.Items, s.Items)
	if s.Customer != nil {
		c := *s.Customer
		stored.Customer = &c
	}
	tx.p.sales[s.ID] = stored

	id := s.ID
	tx.undo = append(tx.undo, func() { delete(tx.p.sales, id) })
	return nil
}

func (tx *memTx) InsertBill(_ context.Context, b *domain.Bill) error {
	if _, exists := tx.p.billTokens[b.Token]; exists {
		return domain.ErrDuplicateToken
	}
	if _, exists := tx.p.billSales[b.SaleID]; exists {
		return domain.ErrDuplicateToken
	}
	if _, exists := tx.p.sales[b.SaleID]; !exists {
		return errors.New("memory: bill references an unknown sale")
	}

	tx.p.bills[b.ID] = *b
	tx.p.billTokens[b.Token] = b.ID
	tx.p.billSales[b.SaleID] = b.ID

	id, token, saleID := b.ID, b.Token, b.SaleID
	tx.undo = append(tx.undo, func() {
		delete(tx.p.bills, id)
		delete(tx.p.billTokens, token)
		delete(tx.p.billSales, saleID)
	})
	return nil
}

func (tx *memTx) AppendAudit(_ context.Context, entry *domain.AuditLog) error {
	tx.p.auditLogs = append(tx.p.auditLogs, *entry)
	n := len(tx.p.auditLogs) - 1
	tx.undo = append(tx.undo, func() { tx.p.auditLogs = tx.p.auditLogs[:n] })
	return nil
}
