package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
)

// ==================== Product models ====================

type productModel struct {
	ID                string          `bson:"_id"`
	Name              string          `bson:"name"`
	SKU               string          `bson:"sku"`
	UnitPrice         bson.Decimal128 `bson:"unit_price"`
	Stock             int             `bson:"stock"`
	LowStockThreshold int             `bson:"low_stock_threshold"`
	Deleted           bool            `bson:"deleted"`
	CreatedAt         time.Time       `bson:"created_at"`
	UpdatedAt         time.Time       `bson:"updated_at"`
}

func toProductModel(p *domain.Product) (*productModel, error) {
	price, err := toDecimal128(p.UnitPrice)
	if err != nil {
		return nil, err
	}
	return &productModel{
		ID:                p.ID,
		Name:              p.Name,
		SKU:               p.SKU,
		UnitPrice:         price,
		Stock:             p.Stock,
		LowStockThreshold: p.LowStockThreshold,
		Deleted:           p.Deleted,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}, nil
}

func fromProductModel(m *productModel) (*domain.Product, error) {
	price, err := fromDecimal128(m.UnitPrice)
	if err != nil {
		return nil, err
	}
	return &domain.Product{
		ID:                m.ID,
		Name:              m.Name,
		SKU:               m.SKU,
		UnitPrice:         price,
		Stock:             m.Stock,
		LowStockThreshold: m.LowStockThreshold,
		Deleted:           m.Deleted,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}, nil
}

// ==================== Sale models ====================

type saleModel struct {
	ID          string          `bson:"_id"`
	Items       []lineItemModel `bson:"items"`
	TotalAmount bson.Decimal128 `bson:"total_amount"`
	Status      string          `bson:"status"`
	Customer    *customerModel  `bson:"customer,omitempty"`
	CreatedBy   string          `bson:"created_by"`
	CreatedAt   time.Time       `bson:"created_at"`
}

type lineItemModel struct {
	ProductID   string          `bson:"product_id"`
	Quantity    int             `bson:"quantity"`
	PriceAtSale bson.Decimal128 `bson:"price_at_sale"`
}

type customerModel struct {
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Phone string `bson:"phone"`
}

func toSaleModel(s *domain.Sale) (*saleModel, error) {
	total, err := toDecimal128(s.TotalAmount)
	if err != nil {
		return nil, err
	}

	items := make([]lineItemModel, len(s.Items))
	for i, item := range s.Items {
		price, err := toDecimal128(item.PriceAtSale)
		if err != nil {
			return nil, err
		}
		items[i] = lineItemModel{ProductID: item.ProductID, Quantity: item.Quantity, PriceAtSale: price}
	}

	m := &saleModel{
		ID:          s.ID,
		Items:       items,
		TotalAmount: total,
		Status:      string(s.Status),
		CreatedBy:   s.CreatedBy,
		CreatedAt:   s.CreatedAt,
	}
	if s.Customer != nil {
		m.Customer = &customerModel{Name: s.Customer.Name, Email: s.Customer.Email, Phone: s.Customer.Phone}
	}
	return m, nil
}

func fromSaleModel(m *saleModel) (*domain.Sale, error) {
	total, err := fromDecimal128(m.TotalAmount)
	if err != nil {
		return nil, err
	}

	items := make([]domain.LineItem, len(m.Items))
	for i, item := range m.Items {
		price, err := fromDecimal128(item.PriceAtSale)
		if err != nil {
			return nil, err
		}
		items[i] = domain.LineItem{ProductID: item.ProductID, Quantity: item.Quantity, PriceAtSale: price}
	}

	s := &domain.Sale{
		ID:          m.ID,
		Items:       items,
		TotalAmount: total,
		Status:      domain.SaleStatus(m.Status),
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
	}
	if m.Customer != nil {
		s.Customer = &domain.Customer{Name: m.Customer.Name, Email: m.Customer.Email, Phone: m.Customer.Phone}
	}
	return s, nil
}

// ==================== Bill models ====================

type billModel struct {
	ID        string    `bson:"_id"`
	SaleID    string    `bson:"sale_id"`
	Token     string    `bson:"token"`
	EmailSent bool      `bson:"email_sent"`
	CreatedAt time.Time `bson:"created_at"`
}

func toBillModel(b *domain.Bill) *billModel {
	return &billModel{ID: b.ID, SaleID: b.SaleID, Token: b.Token, EmailSent: b.EmailSent, CreatedAt: b.CreatedAt}
}

func fromBillModel(m *billModel) *domain.Bill {
	return &domain.Bill{ID: m.ID, SaleID: m.SaleID, Token: m.Token, EmailSent: m.EmailSent, CreatedAt: m.CreatedAt}
}

// ==================== Audit models ====================

type auditLogModel struct {
	ID         string         `bson:"_id"`
	Actor      string         `bson:"actor"`
	Action     string         `bson:"action"`
	Collection string         `bson:"collection"`
	DocumentID string         `bson:"document_id"`
	Before     map[string]any `bson:"before,omitempty"`
	After      map[string]any `bson:"after,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
}

func toAuditLogModel(e *domain.AuditLog) *auditLogModel {
	return &auditLogModel{
		ID:         e.ID,
		Actor:      e.Actor,
		Action:     string(e.Action),
		Collection: e.Collection,
		DocumentID: e.DocumentID,
		Before:     e.Before,
		After:      e.After,
		CreatedAt:  e.CreatedAt,
	}
}

func fromAuditLogModel(m *auditLogModel) domain.AuditLog {
	return domain.AuditLog{
		ID:         m.ID,
		Actor:      m.Actor,
		Action:     domain.AuditAction(m.Action),
		Collection: m.Collection,
		DocumentID: m.DocumentID,
		Before:     m.Before,
		After:      m.After,
		CreatedAt:  m.CreatedAt,
	}
}

// ==================== Helpers ====================

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("shop/mongo: encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v bson.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("shop/mongo: decode decimal %s: %w", v, err)
	}
	return d, nil
}
