package domain

import "errors"

// Error is a typed failure of the order engine. Callers match it with errors.Is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Erros customizados
var (
	ErrTenantUnavailable  = &Error{Code: "TenantUnavailable", Message: "tenant storage unavailable"}
	ErrTenantNotFound     = &Error{Code: "TenantNotFound", Message: "tenant not found"}
	ErrInvalidTenant      = &Error{Code: "InvalidTenant", Message: "invalid tenant identifier"}
	ErrProductNotFound    = &Error{Code: "ProductNotFound", Message: "product not found"}
	ErrInsufficientStock  = &Error{Code: "InsufficientStock", Message: "insufficient stock"}
	ErrInvalidOrder       = &Error{Code: "InvalidOrder", Message: "invalid order"}
	ErrMalformedToken     = &Error{Code: "MalformedToken", Message: "malformed bill token"}
	ErrBillNotFound       = &Error{Code: "BillNotFound", Message: "bill not found"}
	ErrSaleNotFound       = &Error{Code: "SaleNotFound", Message: "sale not found"}
	ErrDuplicateToken     = &Error{Code: "DuplicateToken", Message: "bill token already exists"}
	ErrPersistenceFailure = &Error{Code: "PersistenceFailure", Message: "order could not be persisted"}
	ErrInvalidSaleState   = &Error{Code: "InvalidSaleState", Message: "only pending sales can be completed"}
	ErrInvalidAdjustment  = &Error{Code: "InvalidAdjustment", Message: "invalid stock adjustment"}
)

// IsDomainError reports whether err is one of the typed engine errors
func IsDomainError(err error) bool {
	_, ok := AsError(err)
	return ok
}

// AsError extracts the first typed engine error from the chain
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
