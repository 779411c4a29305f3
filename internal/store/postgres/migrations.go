package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaPrefix keeps tenant schemas apart from public
const schemaPrefix = "shop_"

// schemaName returns the schema that holds the tenant partition
func schemaName(tenantID string) string {
	return schemaPrefix + tenantID
}

// partitionDDL returns the statements that register the record shapes of one
// tenant. Every tenant gets exactly the same tables and indexes.
func partitionDDL(schema string) []string {
	q := func(table string) string { return pgx.Identifier{schema, table}.Sanitize() }
	s := pgx.Identifier{schema}.Sanitize()

	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL,
    sku                 TEXT NOT NULL UNIQUE,
    unit_price          NUMERIC(14,2) NOT NULL,
    stock               INT NOT NULL CHECK (stock >= 0),
    low_stock_threshold INT NOT NULL DEFAULT 0,
    deleted             BOOLEAN NOT NULL DEFAULT FALSE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, q("products")),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    total_amount NUMERIC(14,2) NOT NULL,
    customer     JSONB,
    created_by   TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, q("sales")),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    sale_id       TEXT NOT NULL REFERENCES %s (id),
    position      INT NOT NULL,
    product_id    TEXT NOT NULL,
    quantity      INT NOT NULL CHECK (quantity > 0),
    price_at_sale NUMERIC(14,2) NOT NULL,
    PRIMARY KEY (sale_id, position)
)`, q("sale_items"), q("sales")),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    sale_id    TEXT NOT NULL UNIQUE REFERENCES %s (id),
    token      TEXT NOT NULL,
    email_sent BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT bills_token_key UNIQUE (token)
)`, q("bills"), q("sales")),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id          TEXT PRIMARY KEY,
    actor       TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    collection  TEXT NOT NULL,
    document_id TEXT NOT NULL,
    before      JSONB,
    after       JSONB,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, q("audit_logs")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS audit_logs_created_at_idx ON %s (created_at DESC)`, q("audit_logs")),
	}
}
