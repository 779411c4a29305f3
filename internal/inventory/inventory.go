// Package inventory applies owner-driven stock movements (restock and manual
// adjustment) through the same conditional primitive that checkout uses.
package inventory

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel/codes"

	"github.com/matheusmosca/tenant-order-engine/internal/audit"
	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
	"github.com/matheusmosca/tenant-order-engine/internal/telemetry"
	"github.com/matheusmosca/tenant-order-engine/internal/tenant"
)

// Movement is the outcome of one stock change
type Movement struct {
	ProductID string `json:"product_id"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
	LowStock  bool   `json:"low_stock"`
}

// InventoryUseCase contém a lógica de negócio do inventário
type InventoryUseCase struct{}

// NewInventoryUseCase cria uma nova instância de InventoryUseCase
func NewInventoryUseCase() *InventoryUseCase {
	return &InventoryUseCase{}
}

// Restock adds quantity units to the product
func (uc *InventoryUseCase) Restock(ctx context.Context, h *tenant.Handle, productID string, quantity int, actor string) (*Movement, error) {
	ctx, span := telemetry.StartInventorySpan(ctx, "restock", h.ID, productID)
	defer span.End()

	log.Printf("➡️ [RESTOCK] Tenant=%s | ProductID=%s | Quantity=%d", h.ID, productID, quantity)

	if quantity <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", domain.ErrInvalidAdjustment)
	}

	m, err := uc.apply(ctx, h, productID, quantity, actor, domain.AuditRestock, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("❌ [RESTOCK] Failed: ProductID=%s, Error=%v", productID, err)
		return nil, err
	}

	log.Printf("✅ [RESTOCK] Success: ProductID=%s, Stock=%d->%d", productID, m.Before, m.After)
	return m, nil
}

// Adjust applies a signed correction with a mandatory reason
func (uc *InventoryUseCase) Adjust(ctx context.Context, h *tenant.Handle, productID string, delta int, reason, actor string) (*Movement, error) {
	ctx, span := telemetry.StartInventorySpan(ctx, "adjust", h.ID, productID)
	defer span.End()

	log.Printf("➡️ [ADJUST] Tenant=%s | ProductID=%s | Delta=%d", h.ID, productID, delta)

	reason = strings.TrimSpace(reason)
	if delta == 0 {
		return nil, fmt.Errorf("%w: delta must not be zero", domain.ErrInvalidAdjustment)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", domain.ErrInvalidAdjustment)
	}

	m, err := uc.apply(ctx, h, productID, delta, actor, domain.AuditAdjustment, domain.Snapshot{"reason": reason})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("❌ [ADJUST] Failed: ProductID=%s, Error=%v", productID, err)
		return nil, err
	}

	log.Printf("✅ [ADJUST] Success: ProductID=%s, Stock=%d->%d", productID, m.Before, m.After)
	return m, nil
}

func (uc *InventoryUseCase) apply(ctx context.Context, h *tenant.Handle, productID string, delta int, actor string, action domain.AuditAction, extra domain.Snapshot) (*Movement, error) {
	var m Movement

	err := h.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// 1. Atualização condicional: nunca deixa o estoque negativo
		before, after, err := tx.AdjustStock(ctx, productID, delta)
		if err != nil {
			return err
		}

		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		// 2. Registro de auditoria na mesma transação
		snapshot := domain.Snapshot{"stock": after}
		for k, v := range extra {
			snapshot[k] = v
		}
		entry := audit.NewEntry(actor, action, domain.CollectionProducts, productID, domain.Snapshot{"stock": before}, snapshot)
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return err
		}

		m = Movement{ProductID: productID, Before: before, After: after, LowStock: product.IsLowStock()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.LowStock {
		log.Printf("⚠️ [LOW STOCK] Tenant=%s | ProductID=%s | Stock=%d", h.ID, productID, m.After)
	}
	return &m, nil
}
