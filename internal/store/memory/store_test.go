package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

func seedProduct(t *testing.T, p store.Partition, stock int) *domain.Product {
	t.Helper()
	prod := domain.NewProduct("Dipirona", "SKU-"+domain.NewID(), decimal.RequireFromString("9.90"), stock, 1)
	err := p.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertProduct(ctx, prod)
	})
	require.NoError(t, err)
	return prod
}

func TestDriver_OpenIsIdempotent(t *testing.T) {
	// Arrange
	d := New()
	ctx := context.Background()

	// Act
	p1, err1 := d.Open(ctx, "shop1")
	p2, err2 := d.Open(ctx, "shop1")

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Same(t, p1, p2)
	assert.Equal(t, "shop1", p1.TenantID())
}

func TestDriver_AttachNeverProvisions(t *testing.T) {
	d := New()
	ctx := context.Background()

	_, err := d.Attach(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	_, err = d.Open(ctx, "ghost")
	require.NoError(t, err)

	p, err := d.Attach(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", p.TenantID())
}

func TestDriver_OpenRejectsInvalidTenant(t *testing.T) {
	_, err := New().Open(context.Background(), "shop-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTenant)
}

func TestAdjustStock_Conditional(t *testing.T) {
	// Arrange
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	prod := seedProduct(t, p, 3)

	// Act
	var before, after int
	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		before, after, err = tx.AdjustStock(ctx, prod.ID, -3)
		return err
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, before)
	assert.Equal(t, 0, after)

	err = p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, _, err := tx.AdjustStock(ctx, prod.ID, -1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	got, err := p.GetProduct(ctx, prod.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestAdjustStock_UnknownOrDeletedProduct(t *testing.T) {
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	prod := seedProduct(t, p, 3)

	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, _, err := tx.AdjustStock(ctx, "missing", -1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	err = p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		deleted := *prod
		deleted.Deleted = true
		if err := tx.UpdateProduct(ctx, &deleted); err != nil {
			return err
		}
		_, _, err := tx.AdjustStock(ctx, prod.ID, -1)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestWithinTx_RollsBackEverything(t *testing.T) {
	// Arrange
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	prod := seedProduct(t, p, 10)
	boom := errors.New("boom")

	// Act
	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := tx.AdjustStock(ctx, prod.ID, -4); err != nil {
			return err
		}
		sale := domain.NewSale("sale1", []domain.LineItem{{ProductID: prod.ID, Quantity: 4, PriceAtSale: prod.UnitPrice}}, nil, "u1")
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if err := tx.InsertBill(ctx, domain.NewBill(sale.ID, "shop1-tok-sale1")); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &domain.AuditLog{ID: "a1", Action: domain.AuditTransaction, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})

	// Assert
	assert.ErrorIs(t, err, boom)

	got, _ := p.GetProduct(ctx, prod.ID)
	assert.Equal(t, 10, got.Stock)
	_, err = p.GetSale(ctx, "sale1")
	assert.ErrorIs(t, err, domain.ErrSaleNotFound)
	_, err = p.GetBillByToken(ctx, "shop1-tok-sale1")
	assert.ErrorIs(t, err, domain.ErrBillNotFound)
	logs, _ := p.ListAuditLogs(ctx, 10)
	assert.Empty(t, logs)
}

func TestWithinTx_DeadlineAbortsUnit(t *testing.T) {
	d := New()
	p, _ := d.Open(context.Background(), "shop1")
	prod := seedProduct(t, p, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := tx.AdjustStock(ctx, prod.ID, -1); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	got, _ := p.GetProduct(context.Background(), prod.ID)
	assert.Equal(t, 10, got.Stock)
}

func TestInsertBill_DuplicateTokenRejected(t *testing.T) {
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")

	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{"s1", "s2"} {
			if err := tx.InsertSale(ctx, domain.NewSale(id, nil, nil, "u1")); err != nil {
				return err
			}
		}
		return tx.InsertBill(ctx, domain.NewBill("s1", "shop1-abc-s1"))
	})
	require.NoError(t, err)

	err = p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBill(ctx, domain.NewBill("s2", "shop1-abc-s1"))
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateToken)
}

func TestConcurrentDecrements_NeverOversell(t *testing.T) {
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	prod := seedProduct(t, p, 7)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
				_, _, err := tx.AdjustStock(ctx, prod.ID, -1)
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := p.GetProduct(ctx, prod.ID)
	assert.Equal(t, 7, succeeded)
	assert.Equal(t, 0, got.Stock)
}

func TestListAuditLogs_NewestFirstAndBounded(t *testing.T) {
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	base := time.Now().UTC()

	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 5; i++ {
			entry := &domain.AuditLog{ID: string(rune('a' + i)), Action: domain.AuditRestock, CreatedAt: base.Add(time.Duration(i) * time.Second)}
			if err := tx.AppendAudit(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	logs, err := p.ListAuditLogs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "e", logs[0].ID)
	assert.Equal(t, "d", logs[1].ID)
	assert.Equal(t, "c", logs[2].ID)
}

func TestClose_MakesPartitionsUnavailable(t *testing.T) {
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")

	require.NoError(t, d.Close(ctx))

	_, err := p.GetBillByToken(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrTenantUnavailable)
	_, err = d.Open(ctx, "shop2")
	assert.ErrorIs(t, err, domain.ErrTenantUnavailable)
	assert.ErrorIs(t, d.Ping(ctx), domain.ErrTenantUnavailable)
}

func TestMarkBillEmailSent(t *testing.T) {
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	bill := domain.NewBill("s1", "shop1-abc-s1")

	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.NewSale("s1", nil, nil, "u1")); err != nil {
			return err
		}
		return tx.InsertBill(ctx, bill)
	})
	require.NoError(t, err)

	require.NoError(t, p.MarkBillEmailSent(ctx, bill.ID))
	got, err := p.GetBillByToken(ctx, bill.Token)
	require.NoError(t, err)
	assert.True(t, got.EmailSent)

	assert.ErrorIs(t, p.MarkBillEmailSent(ctx, "nope"), domain.ErrBillNotFound)
}

func TestInsertSale_StoresItsOwnCustomer(t *testing.T) {
	// Arrange
	d := New()
	ctx := context.Background()
	p, _ := d.Open(ctx, "shop1")
	prod := seedProduct(t, p, 3)
	sale := domain.NewSale("sale1", []domain.LineItem{{ProductID: prod.ID, Quantity: 1, PriceAtSale: prod.UnitPrice}},
		&domain.Customer{Name: "Ana", Email: "ana@example.com"}, "u1")

	// Act
	err := p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, sale)
	})
	require.NoError(t, err)
	sale.Customer.Email = "changed@example.com"
	sale.Items[0].Quantity = 99

	// Assert
	stored, err := p.GetSale(ctx, "sale1")
	require.NoError(t, err)
	require.NotNil(t, stored.Customer)
	assert.Equal(t, "ana@example.com", stored.Customer.Email)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}
