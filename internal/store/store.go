// Package store defines the storage capabilities the order engine needs from
// a tenant partition. Every backend (postgres, mongo, memory) registers the
// same record shapes for every tenant it provisions.
package store

import (
	"context"
	"regexp"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,48}$`)

// ValidTenantID reports whether id can name a partition. Hyphens are
// excluded because they delimit bill tokens.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// Driver opens tenant partitions on one storage endpoint.
type Driver interface {
	// Open returns the partition for tenantID, provisioning it and its
	// record schemas first when it does not exist yet.
	Open(ctx context.Context, tenantID string) (Partition, error)

	// Attach returns the partition for tenantID only if it was already
	// provisioned. It never creates anything.
	Attach(ctx context.Context, tenantID string) (Partition, error)

	// Ping checks the storage endpoint.
	Ping(ctx context.Context) error

	// Close releases the driver resources.
	Close(ctx context.Context) error
}

// Reader groups the read-only lookups of a partition.
type Reader interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	GetBillByToken(ctx context.Context, token string) (*domain.Bill, error)
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

// Tx is the write side of one atomic unit inside a partition.
type Tx interface {
	Reader

	// AdjustStock applies delta to the product stock as one indivisible
	// conditional update: it only succeeds when the product exists, is not
	// soft-deleted and stock+delta stays >= 0. It returns the stock before
	// and after the update. This is the only way stock is ever mutated.
	AdjustStock(ctx context.Context, productID string, delta int) (before, after int, err error)

	InsertProduct(ctx context.Context, p *domain.Product) error

	// UpdateProduct rewrites the descriptive attributes of a product
	// (name, sku, price, threshold, deleted). Stock is never touched here.
	UpdateProduct(ctx context.Context, p *domain.Product) error

	InsertSale(ctx context.Context, s *domain.Sale) error

	// InsertBill fails with domain.ErrDuplicateToken when the token (or the
	// sale) already has a bill.
	InsertBill(ctx context.Context, b *domain.Bill) error

	AppendAudit(ctx context.Context, entry *domain.AuditLog) error
}

// Partition is the isolated data set of a single tenant.
type Partition interface {
	Reader

	TenantID() string

	// WithinTx runs fn as one all-or-nothing unit. Any error returned by fn,
	// or a context deadline, reverts every effect fn applied.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// MarkBillEmailSent flags the bill once the confirmation was delivered.
	MarkBillEmailSent(ctx context.Context, billID string) error
}
