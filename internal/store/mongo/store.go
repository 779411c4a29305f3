// Package mongo stores every tenant partition in its own MongoDB database.
// Transactions need a replica set or sharded deployment.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

// Collection name constants.
const (
	colProducts  = "products"
	colSales     = "sales"
	colBills     = "bills"
	colAuditLogs = "audit_logs"
)

const databasePrefix = "shop_"

// compile-time interface checks
var (
	_ store.Driver    = (*Driver)(nil)
	_ store.Partition = (*Partition)(nil)
	_ store.Tx        = (*mongoTx)(nil)
)

// Driver implements store.Driver on a shared mongo client.
type Driver struct {
	client *mongo.Client
}

// New creates a driver on a connected client.
func New(client *mongo.Client) *Driver {
	return &Driver{client: client}
}

func databaseName(tenantID string) string {
	return databasePrefix + tenantID
}

// Open provisions the tenant database indexes and returns its partition.
// CreateMany is idempotent, so concurrent opens converge.
func (d *Driver) Open(ctx context.Context, tenantID string) (store.Partition, error) {
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrInvalidTenant
	}
	db := d.client.Database(databaseName(tenantID))

	for col, models := range migrationIndexes() {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return nil, classify(ctx, "migrate "+col+" indexes", err)
		}
	}

	log.Printf("✅ [TENANT] Partition ready | Tenant=%s | Database=%s", tenantID, db.Name())
	return newPartition(d.client, tenantID, db), nil
}

// Attach returns the partition only when its database already exists.
func (d *Driver) Attach(ctx context.Context, tenantID string) (store.Partition, error) {
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrTenantNotFound
	}
	name := databaseName(tenantID)

	names, err := d.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return nil, classify(ctx, "attach", err)
	}
	if len(names) == 0 {
		return nil, domain.ErrTenantNotFound
	}

	return newPartition(d.client, tenantID, d.client.Database(name)), nil
}

// Ping checks database connectivity.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx, nil); err != nil {
		return classify(ctx, "ping", err)
	}
	return nil
}

// Close disconnects the client.
func (d *Driver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// collections groups the handles of one tenant database; it implements
// store.Reader for both the partition and its transactions.
type collections struct {
	products  *mongo.Collection
	sales     *mongo.Collection
	bills     *mongo.Collection
	auditLogs *mongo.Collection
}

// Partition is one tenant database.
type Partition struct {
	collections
	client   *mongo.Client
	tenantID string
}

func newPartition(client *mongo.Client, tenantID string, db *mongo.Database) *Partition {
	return &Partition{
		collections: collections{
			products:  db.Collection(colProducts),
			sales:     db.Collection(colSales),
			bills:     db.Collection(colBills),
			auditLogs: db.Collection(colAuditLogs),
		},
		client:   client,
		tenantID: tenantID,
	}
}

func (p *Partition) TenantID() string { return p.tenantID }

// WithinTx runs fn inside a multi-document transaction. The session context
// handed to fn binds every collection call to the transaction.
func (p *Partition) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := p.client.StartSession()
	if err != nil {
		return classify(ctx, "start session", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return nil, fn(txCtx, &mongoTx{collections: p.collections})
	})
	if err != nil {
		// errors raised by fn come back unchanged
		if domain.IsDomainError(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return classify(ctx, "transaction", err)
	}
	return nil
}

func (p *Partition) MarkBillEmailSent(ctx context.Context, billID string) error {
	res, err := p.bills.UpdateOne(ctx, bson.M{"_id": billID}, bson.M{"$set": bson.M{"email_sent": true}})
	if err != nil {
		return classify(ctx, "mark bill", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrBillNotFound
	}
	return nil
}

// ==================== Reader ====================

func (c collections) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var m productModel
	if err := c.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrProductNotFound
		}
		return nil, classify(ctx, "get product", err)
	}
	return fromProductModel(&m)
}

func (c collections) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var m saleModel
	if err := c.sales.FindOne(ctx, bson.M{"_id": saleID}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrSaleNotFound
		}
		return nil, classify(ctx, "get sale", err)
	}
	return fromSaleModel(&m)
}

func (c collections) GetBillByToken(ctx context.Context, token string) (*domain.Bill, error) {
	var m billModel
	if err := c.bills.FindOne(ctx, bson.M{"token": token}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, domain.ErrBillNotFound
		}
		return nil, classify(ctx, "get bill", err)
	}
	return fromBillModel(&m), nil
}

func (c collections) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := c.auditLogs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, classify(ctx, "list audit logs", err)
	}

	var models []auditLogModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, classify(ctx, "decode audit logs", err)
	}

	result := make([]domain.AuditLog, len(models))
	for i := range models {
		result[i] = fromAuditLogModel(&models[i])
	}
	return result, nil
}

// ==================== Tx ====================

type mongoTx struct {
	collections
}

// AdjustStock is a single FindOneAndUpdate whose filter carries the
// non-negative stock guard.
func (t *mongoTx) AdjustStock(ctx context.Context, productID string, delta int) (int, int, error) {
	return adjustStock(ctx, t.products, productID, delta)
}

// stockCollection is the part of the products collection AdjustStock needs
type stockCollection interface {
	FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) *mongo.SingleResult
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
}

// stockGuard builds the conditional update: it only matches a live product
// whose stock stays >= 0 after delta.
func stockGuard(productID string, delta int) (filter, update bson.M) {
	filter = bson.M{
		"_id":     productID,
		"deleted": false,
		"stock":   bson.M{"$gte": -delta},
	}
	update = bson.M{
		"$inc":         bson.M{"stock": delta},
		"$currentDate": bson.M{"updated_at": true},
	}
	return filter, update
}

func adjustStock(ctx context.Context, products stockCollection, productID string, delta int) (int, int, error) {
	filter, update := stockGuard(productID, delta)

	var m productModel
	err := products.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return m.Stock - delta, m.Stock, nil
	}
	if !isNoDocuments(err) {
		return 0, 0, classify(ctx, "adjust stock", err)
	}

	// The guard failed: tell a missing product apart from a short one.
	err = products.FindOne(ctx, bson.M{"_id": productID, "deleted": false}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return 0, 0, domain.ErrProductNotFound
		}
		return 0, 0, classify(ctx, "read stock", err)
	}
	return m.Stock, m.Stock, domain.ErrInsufficientStock
}

func (t *mongoTx) InsertProduct(ctx context.Context, p *domain.Product) error {
	m, err := toProductModel(p)
	if err != nil {
		return err
	}
	if _, err := t.products.InsertOne(ctx, m); err != nil {
		return classify(ctx, "insert product", err)
	}
	return nil
}

func (t *mongoTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	price, err := toDecimal128(p.UnitPrice)
	if err != nil {
		return err
	}

	res, err := t.products.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{
		"$set": bson.M{
			"name":                p.Name,
			"sku":                 p.SKU,
			"unit_price":          price,
			"low_stock_threshold": p.LowStockThreshold,
			"deleted":             p.Deleted,
		},
		"$currentDate": bson.M{"updated_at": true},
	})
	if err != nil {
		return classify(ctx, "update product", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func (t *mongoTx) InsertSale(ctx context.Context, s *domain.Sale) error {
	m, err := toSaleModel(s)
	if err != nil {
		return err
	}
	if _, err := t.sales.InsertOne(ctx, m); err != nil {
		return classify(ctx, "insert sale", err)
	}
	return nil
}

func (t *mongoTx) InsertBill(ctx context.Context, b *domain.Bill) error {
	if _, err := t.bills.InsertOne(ctx, toBillModel(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateToken
		}
		return classify(ctx, "insert bill", err)
	}
	return nil
}

func (t *mongoTx) AppendAudit(ctx context.Context, entry *domain.AuditLog) error {
	if _, err := t.auditLogs.InsertOne(ctx, toAuditLogModel(entry)); err != nil {
		return classify(ctx, "append audit", err)
	}
	return nil
}

// ==================== Helpers ====================

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// classify keeps server-side failures as they are and reports transport
// level failures as an unavailable tenant.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("shop/mongo: %s: %w", op, ctxErr)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return fmt.Errorf("%w: mongo %s: %v", domain.ErrTenantUnavailable, op, err)
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		return fmt.Errorf("shop/mongo: %s: %w", op, err)
	}
	return fmt.Errorf("%w: mongo %s: %v", domain.ErrTenantUnavailable, op, err)
}

// migrationIndexes returns the index definitions of a tenant database.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colProducts: {
			{
				Keys:    bson.D{{Key: "sku", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSales: {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colBills: {
			{
				Keys:    bson.D{{Key: "token", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "sale_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colAuditLogs: {
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}
}
