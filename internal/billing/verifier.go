package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/telemetry"
	"github.com/matheusmosca/tenant-order-engine/internal/tenant"
)

// DeletedProductName replaces the name of a line whose product is gone
const DeletedProductName = "Deleted product"

// TenantLookup finds an already provisioned tenant
type TenantLookup interface {
	Lookup(ctx context.Context, tenantID string) (*tenant.Handle, error)
}

// Receipt is the verifiable rendering of a billed sale
type Receipt struct {
	Bill     ReceiptBill      `json:"bill"`
	Sale     ReceiptSale      `json:"sale"`
	Customer *domain.Customer `json:"customer,omitempty"`
	Items    []ReceiptItem    `json:"items"`
}

type ReceiptBill struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

type ReceiptSale struct {
	ID          string            `json:"id"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Status      domain.SaleStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ReceiptItem carries the price frozen at sale time, never the live one
type ReceiptItem struct {
	ProductID      string          `json:"product_id"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku,omitempty"`
	ProductDeleted bool            `json:"product_deleted"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// Verifier redeems bill tokens. It only reads and is safe for concurrent use.
type Verifier struct {
	tenants TenantLookup
}

// NewVerifier creates a verifier over the tenant lookup
func NewVerifier(tenants TenantLookup) *Verifier {
	return &Verifier{tenants: tenants}
}

// Verify validates the token and renders the receipt of its sale
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Receipt, error) {
	ctx, span := telemetry.StartVerifySpan(ctx)
	defer span.End()

	receipt, err := v.verify(ctx, rawToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("⚠️ [VERIFY] Rejected: Error=%v", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("sale.id", receipt.Sale.ID))
	log.Printf("✅ [VERIFY] Success: SaleID=%s", receipt.Sale.ID)
	return receipt, nil
}

func (v *Verifier) verify(ctx context.Context, rawToken string) (*Receipt, error) {
	token, err := ParseToken(rawToken)
	if err != nil {
		return nil, err
	}

	h, err := v.tenants.Lookup(ctx, token.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTenantNotFound, err)
	}

	bill, err := h.GetBillByToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	sale, err := h.GetSale(ctx, bill.SaleID)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Bill: ReceiptBill{ID: bill.ID, Token: bill.Token, CreatedAt: bill.CreatedAt},
		Sale: ReceiptSale{
			ID:          sale.ID,
			TotalAmount: sale.TotalAmount,
			Status:      sale.Status,
			CreatedAt:   sale.CreatedAt,
		},
		Customer: sale.Customer,
		Items:    make([]ReceiptItem, 0, len(sale.Items)),
	}

	for _, line := range sale.Items {
		item := ReceiptItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.PriceAtSale,
			Subtotal:  line.Subtotal(),
		}

		product, err := h.GetProduct(ctx, line.ProductID)
		switch {
		case err == nil:
			item.Name = product.Name
			item.SKU = product.SKU
			item.ProductDeleted = product.Deleted
		case errors.Is(err, domain.ErrProductNotFound):
			item.Name = DeletedProductName
			item.ProductDeleted = true
		default:
			// best effort: the sale line is still authoritative
			log.Printf("⚠️ [VERIFY] Product lookup failed: ProductID=%s, Error=%v", line.ProductID, err)
			item.Name = DeletedProductName
		}

		receipt.Items = append(receipt.Items, item)
	}

	return receipt, nil
}
