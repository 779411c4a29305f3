// Package notify delivers order confirmations outside the order transaction.
// Delivery is best effort: a failure is logged and never reaches the buyer.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
)

// Confirmation is the payload sent after a sale commits
type Confirmation struct {
	TenantID    string           `json:"tenant_id"`
	SaleID      string           `json:"sale_id"`
	BillID      string           `json:"bill_id"`
	BillToken   string           `json:"bill_token"`
	VerifyURL   string           `json:"verify_url,omitempty"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	ItemCount   int              `json:"item_count"`
	Customer    *domain.Customer `json:"customer,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Notifier delivers one confirmation
type Notifier interface {
	Notify(ctx context.Context, c Confirmation) error
}

// NopNotifier discards every confirmation
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Confirmation) error { return nil }

// DeliveredFunc runs after a confirmation was delivered
type DeliveredFunc func(ctx context.Context, c Confirmation) error

// Dispatcher sends confirmations on detached goroutines
type Dispatcher struct {
	notifier  Notifier
	timeout   time.Duration
	delivered DeliveredFunc
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher; delivered may be nil
func NewDispatcher(notifier Notifier, timeout time.Duration, delivered DeliveredFunc) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, delivered: delivered}
}

// Dispatch returns immediately. The send runs with its own timeout, detached
// from the request that triggered it.
func (d *Dispatcher) Dispatch(c Confirmation) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("❌ [NOTIFY] Panic recovered: SaleID=%s, Panic=%v", c.SaleID, r)
			}
		}()

		if err := d.send(c); err != nil {
			log.Printf("⚠️ [NOTIFY] Delivery failed: SaleID=%s, Error=%v", c.SaleID, err)
			return
		}
		log.Printf("📧 [NOTIFY] Delivered: SaleID=%s", c.SaleID)
	}()
}

func (d *Dispatcher) send(c Confirmation) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, c); err != nil {
		return err
	}
	if d.delivered != nil {
		if err := d.delivered(ctx, c); err != nil {
			return fmt.Errorf("delivered hook: %w", err)
		}
	}
	return nil
}

// Wait blocks until every dispatched send finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
