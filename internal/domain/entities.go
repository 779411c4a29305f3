package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus represents the lifecycle status of a sale
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Collections affected by audited mutations
const (
	CollectionProducts = "products"
	CollectionSales    = "sales"
	CollectionBills    = "bills"
)

// NewID generates a time-ordered identifier rendered as 32 hex chars.
// It never contains '-', which keeps it usable as a bill token field.
func NewID() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return strings.ReplaceAll(u.String(), "-", "")
}

// Product represents a stock-keeping record inside one tenant partition
type Product struct {
	ID                string          `json:"id" db:"id"`
	Name              string          `json:"name" db:"name"`
	SKU               string          `json:"sku" db:"sku"`
	UnitPrice         decimal.Decimal `json:"unit_price" db:"unit_price"`
	Stock             int             `json:"stock" db:"stock"`
	LowStockThreshold int             `json:"low_stock_threshold" db:"low_stock_threshold"`
	Deleted           bool            `json:"deleted" db:"deleted"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// NewProduct creates a new Product with a fresh id
func NewProduct(name, sku string, unitPrice decimal.Decimal, stock, lowStockThreshold int) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:                NewID(),
		Name:              name,
		SKU:               sku,
		UnitPrice:         unitPrice,
		Stock:             stock,
		LowStockThreshold: lowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsLowStock reports whether stock reached the product's threshold
func (p *Product) IsLowStock() bool {
	return p.Stock <= p.LowStockThreshold
}

// LineItem is the immutable snapshot of one sold product
type LineItem struct {
	ProductID   string          `json:"product_id" db:"product_id"`
	Quantity    int             `json:"quantity" db:"quantity"`
	PriceAtSale decimal.Decimal `json:"price_at_sale" db:"price_at_sale"`
}

// Subtotal returns quantity x priceAtSale
func (li LineItem) Subtotal() decimal.Decimal {
	return li.PriceAtSale.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Customer is the optional buyer identity captured with a sale
type Customer struct {
	Name  string `json:"name,omitempty" bson:"name,omitempty"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
	Phone string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// IsZero reports whether no contact field is set
func (c *Customer) IsZero() bool {
	return c == nil || (c.Name == "" && c.Email == "" && c.Phone == "")
}

// Sale represents a committed checkout
type Sale struct {
	ID          string          `json:"id" db:"id"`
	Items       []LineItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	Status      SaleStatus      `json:"status" db:"status"`
	Customer    *Customer       `json:"customer,omitempty" db:"customer"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// NewSale creates a pending sale whose total is the sum of its line subtotals
func NewSale(id string, items []LineItem, customer *Customer, createdBy string) *Sale {
	snapshot := make([]LineItem, len(items))
	copy(snapshot, items)

	if customer.IsZero() {
		customer = nil
	}

	return &Sale{
		ID:          id,
		Items:       snapshot,
		TotalAmount: SumLineItems(snapshot),
		Status:      SaleStatusPending,
		Customer:    customer,
		CreatedBy:   createdBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// Complete marks a pending sale as completed
func (s *Sale) Complete() error {
	if s.Status != SaleStatusPending {
		return ErrInvalidSaleState
	}
	s.Status = SaleStatusCompleted
	return nil
}

// ItemCount returns the number of line items
func (s *Sale) ItemCount() int {
	return len(s.Items)
}

// SumLineItems adds up the subtotals of the given lines
func SumLineItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		total = total.Add(li.Subtotal())
	}
	return total
}

// Bill is the 1:1 verification record of a sale
type Bill struct {
	ID        string    `json:"id" db:"id"`
	SaleID    string    `json:"sale_id" db:"sale_id"`
	Token     string    `json:"token" db:"token"`
	EmailSent bool      `json:"email_sent" db:"email_sent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewBill creates a bill for a sale with an already issued token
func NewBill(saleID, token string) *Bill {
	return &Bill{
		ID:        NewID(),
		SaleID:    saleID,
		Token:     token,
		CreatedAt: time.Now().UTC(),
	}
}
