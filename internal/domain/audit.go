package domain

import "time"

// AuditAction is the kind of mutation recorded by an audit entry
type AuditAction string

const (
	AuditCreate        AuditAction = "CREATE"
	AuditUpdate        AuditAction = "UPDATE"
	AuditDelete        AuditAction = "DELETE"
	AuditTransaction   AuditAction = "TRANSACTION"
	AuditRestock       AuditAction = "RESTOCK"
	AuditAdjustment    AuditAction = "ADJUSTMENT"
	AuditSaleDeduction AuditAction = "SALE_DEDUCTION"
)

// Valid reports whether the action is one of the known kinds
func (a AuditAction) Valid() bool {
	switch a {
	case AuditCreate, AuditUpdate, AuditDelete, AuditTransaction,
		AuditRestock, AuditAdjustment, AuditSaleDeduction:
		return true
	}
	return false
}

// Snapshot is a loosely typed document image stored before/after a mutation
type Snapshot map[string]any

// AuditLog is an append-only record of a stock-affecting mutation
type AuditLog struct {
	ID         string      `json:"id" db:"id"`
	Actor      string      `json:"actor" db:"actor"`
	Action     AuditAction `json:"action" db:"action"`
	Collection string      `json:"collection" db:"collection"`
	DocumentID string      `json:"document_id" db:"document_id"`
	Before     Snapshot    `json:"before,omitempty" db:"before"`
	After      Snapshot    `json:"after,omitempty" db:"after"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}
