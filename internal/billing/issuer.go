package billing

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

// Issuer mints bill tokens and persists the bill with them
type Issuer struct {
	random io.Reader
}

// NewIssuer creates an issuer backed by crypto/rand
func NewIssuer() *Issuer {
	return &Issuer{random: cryptoRandom}
}

// Issue creates the bill of saleID inside tx. The token is returned only
// after the bill row is written, so it commits or rolls back with the sale.
func (i *Issuer) Issue(ctx context.Context, tx store.Tx, tenantID, saleID string) (*domain.Bill, error) {
	token, err := NewToken(i.random, tenantID, saleID)
	if err != nil {
		return nil, err
	}

	bill := domain.NewBill(saleID, token.String())
	if err := tx.InsertBill(ctx, bill); err != nil {
		log.Printf("❌ [BILL] Insert failed: Tenant=%s, SaleID=%s, Error=%v", tenantID, saleID, err)
		return nil, fmt.Errorf("failed to persist bill: %w", err)
	}

	return bill, nil
}
