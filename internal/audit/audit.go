// Package audit records append-only entries for every mutation of a tenant
// partition and lists them newest first.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// NewEntry stamps a fresh id and the current UTC time on an entry
func NewEntry(actor string, action domain.AuditAction, collection, documentID string, before, after domain.Snapshot) *domain.AuditLog {
	return &domain.AuditLog{
		ID:         domain.NewID(),
		Actor:      actor,
		Action:     action,
		Collection: collection,
		DocumentID: documentID,
		Before:     before,
		After:      after,
		CreatedAt:  time.Now().UTC(),
	}
}

// Append is the standalone entry point for mutations made outside the order
// engine (back-office tools, imports). It writes entry in its own
// transaction and is durable once this returns. Checkout and inventory
// append through tx.AppendAudit so the entry commits with their change.
func Append(ctx context.Context, p store.Partition, entry *domain.AuditLog) error {
	if !entry.Action.Valid() {
		return fmt.Errorf("audit: unknown action %q", entry.Action)
	}
	return p.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AppendAudit(ctx, entry)
	})
}

// Entry is a listed audit log with the display name of its subject
type Entry struct {
	domain.AuditLog
	SubjectName string `json:"subject_name,omitempty"`
}

// ClampLimit bounds a requested page size to [1, MaxLimit]
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// List returns the newest entries of the partition, enriched with the
// name of the product or sale each one refers to when it can be found.
func List(ctx context.Context, p store.Reader, limit int) ([]Entry, error) {
	logs, err := p.ListAuditLogs(ctx, ClampLimit(limit))
	if err != nil {
		return nil, err
	}

	products := make(map[string]string)
	entries := make([]Entry, len(logs))
	for i, l := range logs {
		entries[i] = Entry{AuditLog: l}

		switch l.Collection {
		case domain.CollectionProducts:
			name, ok := products[l.DocumentID]
			if !ok {
				name, err = productName(ctx, p, l.DocumentID)
				if err != nil {
					return nil, err
				}
				products[l.DocumentID] = name
			}
			entries[i].SubjectName = name
		case domain.CollectionSales:
			entries[i].SubjectName = saleLabel(l.DocumentID)
		case domain.CollectionBills:
			if sale, ok := l.After["sale_id"].(string); ok {
				entries[i].SubjectName = saleLabel(sale)
			}
		}
	}
	return entries, nil
}

func productName(ctx context.Context, p store.Reader, productID string) (string, error) {
	prod, err := p.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return "", nil
		}
		return "", err
	}
	return prod.Name, nil
}

// saleLabel is the short form shown next to sale entries
func saleLabel(saleID string) string {
	if len(saleID) > 8 {
		saleID = saleID[len(saleID)-8:]
	}
	return "Sale #" + saleID
}
