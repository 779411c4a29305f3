// Package postgres stores every tenant partition in its own PostgreSQL
// schema on a shared connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

// compile-time interface checks
var (
	_ store.Driver    = (*Driver)(nil)
	_ store.Partition = (*Partition)(nil)
	_ store.Tx        = (*PostgresTx)(nil)
)

const uniqueViolation = "23505"

// Driver implementa store.Driver usando PostgreSQL
type Driver struct {
	pool *pgxpool.Pool
}

// New creates a driver on top of an initialized pool
func New(pool *pgxpool.Pool) *Driver {
	return &Driver{pool: pool}
}

// Open provisions the tenant schema (idempotent) and returns its partition
func (d *Driver) Open(ctx context.Context, tenantID string) (store.Partition, error) {
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrInvalidTenant
	}
	schema := schemaName(tenantID)

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, classify(ctx, "begin provisioning", err)
	}
	defer tx.Rollback(context.Background())

	// Serializa o provisionamento do mesmo schema entre processos
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schema); err != nil {
		return nil, classify(ctx, "lock schema", err)
	}

	for _, stmt := range partitionDDL(schema) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%w: provision %s: %v", domain.ErrTenantUnavailable, schema, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(ctx, "commit provisioning", err)
	}

	log.Printf("✅ [TENANT] Partition ready | Tenant=%s | Schema=%s", tenantID, schema)
	return newPartition(d.pool, tenantID, schema), nil
}

// Attach returns the partition of an already provisioned tenant
func (d *Driver) Attach(ctx context.Context, tenantID string) (store.Partition, error) {
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrTenantNotFound
	}
	schema := schemaName(tenantID)

	var exists bool
	err := d.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)",
		schema,
	).Scan(&exists)
	if err != nil {
		return nil, classify(ctx, "attach", err)
	}
	if !exists {
		return nil, domain.ErrTenantNotFound
	}

	return newPartition(d.pool, tenantID, schema), nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return classify(ctx, "ping", err)
	}
	return nil
}

func (d *Driver) Close(_ context.Context) error {
	d.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// reader implements store.Reader over any querier
type reader struct {
	q      querier
	schema string
}

func (r reader) table(name string) string {
	return pgx.Identifier{r.schema, name}.Sanitize()
}

// Partition is the tenant schema seen through the shared pool
type Partition struct {
	reader
	pool     *pgxpool.Pool
	tenantID string
}

func newPartition(pool *pgxpool.Pool, tenantID, schema string) *Partition {
	return &Partition{
		reader:   reader{q: pool, schema: schema},
		pool:     pool,
		tenantID: tenantID,
	}
}

func (p *Partition) TenantID() string { return p.tenantID }

// PostgresTx implementa store.Tx dentro de uma transação pgx
type PostgresTx struct {
	reader
	tx pgx.Tx
}

// WithinTx runs fn inside one READ COMMITTED transaction. The conditional
// UPDATE in AdjustStock re-checks its predicate against the latest committed
// row, which is what serializes concurrent orders on the same product.
func (p *Partition) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(ctx, "begin", err)
	}
	defer tx.Rollback(context.Background())

	if err := fn(ctx, &PostgresTx{reader: reader{q: tx, schema: p.schema}, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(ctx, "commit", err)
	}
	return nil
}

func (p *Partition) MarkBillEmailSent(ctx context.Context, billID string) error {
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET email_sent = TRUE WHERE id = $1`, p.table("bills")),
		billID,
	)
	if err != nil {
		return classify(ctx, "mark bill", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBillNotFound
	}
	return nil
}

// GetProduct busca um produto pelo ID
func (r reader) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	query := fmt.Sprintf(`
		SELECT id, name, sku, unit_price::text, stock, low_stock_threshold, deleted, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.table("products"))

	var (
		product domain.Product
		price   string
	)
	err := r.q.QueryRow(ctx, query, productID).Scan(
		&product.ID,
		&product.Name,
		&product.SKU,
		&price,
		&product.Stock,
		&product.LowStockThreshold,
		&product.Deleted,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound
		}
		return nil, classify(ctx, "get product", err)
	}

	if product.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("postgres: product %s price: %w", productID, err)
	}
	return &product, nil
}

// GetSale busca uma venda e seus itens
func (r reader) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	query := fmt.Sprintf(`
		SELECT id, status, total_amount::text, customer, created_by, created_at
		FROM %s
		WHERE id = $1
	`, r.table("sales"))

	var (
		sale     domain.Sale
		total    string
		customer []byte
	)
	err := r.q.QueryRow(ctx, query, saleID).Scan(
		&sale.ID,
		&sale.Status,
		&total,
		&customer,
		&sale.CreatedBy,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSaleNotFound
		}
		return nil, classify(ctx, "get sale", err)
	}

	if sale.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("postgres: sale %s total: %w", saleID, err)
	}
	if len(customer) > 0 {
		sale.Customer = new(domain.Customer)
		if err := json.Unmarshal(customer, sale.Customer); err != nil {
			return nil, fmt.Errorf("postgres: sale %s customer: %w", saleID, err)
		}
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(`
		SELECT product_id, quantity, price_at_sale::text
		FROM %s
		WHERE sale_id = $1
		ORDER BY position
	`, r.table("sale_items")), saleID)
	if err != nil {
		return nil, classify(ctx, "get sale items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item  domain.LineItem
			price string
		)
		if err := rows.Scan(&item.ProductID, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("postgres: scan sale item: %w", err)
		}
		if item.PriceAtSale, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: sale item price: %w", err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "read sale items", err)
	}

	return &sale, nil
}

// GetBillByToken busca a nota pelo token exato
func (r reader) GetBillByToken(ctx context.Context, token string) (*domain.Bill, error) {
	query := fmt.Sprintf(`
		SELECT id, sale_id, token, email_sent, created_at
		FROM %s
		WHERE token = $1
	`, r.table("bills"))

	var bill domain.Bill
	err := r.q.QueryRow(ctx, query, token).Scan(&bill.ID, &bill.SaleID, &bill.Token, &bill.EmailSent, &bill.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrBillNotFound
		}
		return nil, classify(ctx, "get bill", err)
	}
	return &bill, nil
}

func (r reader) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	var bound any
	if limit > 0 {
		bound = limit
	}

	rows, err := r.q.Query(ctx, fmt.Sprintf(`
		SELECT id, actor, action, collection, document_id, before, after, created_at
		FROM %s
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, r.table("audit_logs")), bound)
	if err != nil {
		return nil, classify(ctx, "list audit logs", err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0)
	for rows.Next() {
		var (
			entry         domain.AuditLog
			before, after []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.Collection, &entry.DocumentID, &before, &after, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit log: %w", err)
		}
		if entry.Before, err = decodeSnapshot(before); err != nil {
			return nil, err
		}
		if entry.After, err = decodeSnapshot(after); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "read audit logs", err)
	}
	return logs, nil
}

// AdjustStock aplica o delta somente se o estoque resultante for >= 0
func (t *PostgresTx) AdjustStock(ctx context.Context, productID string, delta int) (int, int, error) {
	updateQuery := fmt.Sprintf(`
		UPDATE %s
		SET stock = stock + $2,
		    updated_at = NOW()
		WHERE id = $1 AND NOT deleted AND stock + $2 >= 0
		RETURNING stock
	`, t.table("products"))

	var after int
	err := t.tx.QueryRow(ctx, updateQuery, productID, delta).Scan(&after)
	if err == nil {
		return after - delta, after, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, classify(ctx, "adjust stock", err)
	}

	// The predicate failed: tell a missing product apart from a short one.
	var current int
	err = t.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT stock FROM %s WHERE id = $1 AND NOT deleted`, t.table("products")),
		productID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, domain.ErrProductNotFound
		}
		return 0, 0, classify(ctx, "read stock", err)
	}
	return current, current, domain.ErrInsufficientStock
}

func (t *PostgresTx) InsertProduct(ctx context.Context, p *domain.Product) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, name, sku, unit_price, stock, low_stock_threshold, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
	`, t.table("products")),
		p.ID, p.Name, p.SKU, p.UnitPrice.String(), p.Stock, p.LowStockThreshold, p.Deleted, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return classify(ctx, "insert product", err)
	}
	return nil
}

func (t *PostgresTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET name = $2, sku = $3, unit_price = $4::numeric, low_stock_threshold = $5, deleted = $6, updated_at = NOW()
		WHERE id = $1
	`, t.table("products")),
		p.ID, p.Name, p.SKU, p.UnitPrice.String(), p.LowStockThreshold, p.Deleted,
	)
	if err != nil {
		return classify(ctx, "update product", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// InsertSale cria a venda e os itens na mesma transação
func (t *PostgresTx) InsertSale(ctx context.Context, s *domain.Sale) error {
	var customer []byte
	if s.Customer != nil {
		b, err := json.Marshal(s.Customer)
		if err != nil {
			return fmt.Errorf("postgres: encode customer: %w", err)
		}
		customer = b
	}

	_, err := t.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, status, total_amount, customer, created_by, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
	`, t.table("sales")),
		s.ID, string(s.Status), s.TotalAmount.String(), customer, s.CreatedBy, s.CreatedAt,
	)
	if err != nil {
		return classify(ctx, "insert sale", err)
	}

	itemQuery := fmt.Sprintf(`
		INSERT INTO %s (sale_id, position, product_id, quantity, price_at_sale)
		VALUES ($1, $2, $3, $4, $5::numeric)
	`, t.table("sale_items"))
	for i, item := range s.Items {
		if _, err := t.tx.Exec(ctx, itemQuery, s.ID, i, item.ProductID, item.Quantity, item.PriceAtSale.String()); err != nil {
			return classify(ctx, "insert sale item", err)
		}
	}
	return nil
}

func (t *PostgresTx) InsertBill(ctx context.Context, b *domain.Bill) error {
	_, err := t.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, sale_id, token, email_sent, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.table("bills")),
		b.ID, b.SaleID, b.Token, b.EmailSent, b.CreatedAt,
	)
	if err != nil {
		return classify(ctx, "insert bill", err)
	}
	return nil
}

func (t *PostgresTx) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	before, err := encodeSnapshot(entry.Before)
	if err != nil {
		return err
	}
	after, err := encodeSnapshot(entry.After)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, actor, action, collection, document_id, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.table("audit_logs")),
		entry.ID, entry.Actor, string(entry.Action), entry.Collection, entry.DocumentID, before, after, entry.CreatedAt,
	)
	if err != nil {
		return classify(ctx, "append audit", err)
	}
	return nil
}

func encodeSnapshot(s domain.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode snapshot: %w", err)
	}
	return b, nil
}

func decodeSnapshot(b []byte) (domain.Snapshot, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s domain.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("postgres: decode snapshot: %w", err)
	}
	return s, nil
}

// classify maps driver errors onto the engine taxonomy. Server-side errors
// keep their detail; anything below the protocol (dial, pool, io) means the
// tenant storage is unreachable.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("postgres: %s: %w", op, ctxErr)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation && (pgErr.ConstraintName == "bills_token_key" || pgErr.ConstraintName == "bills_sale_id_key") {
			return domain.ErrDuplicateToken
		}
		return fmt.Errorf("postgres: %s: %w", op, err)
	}

	return fmt.Errorf("%w: postgres %s: %v", domain.ErrTenantUnavailable, op, err)
}
