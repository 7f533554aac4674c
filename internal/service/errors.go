package service

import (
	"errors"
	"fmt"

	"storefront-core/internal/gateway"
	"storefront-core/internal/store"
)

// Business error taxonomy. Handlers map these onto HTTP statuses; nothing in
// this package panics or coerces an invalid request into a valid one.
var (
	ErrEmptySelection    = errors.New("no cart lines selected")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSignature  = gateway.ErrInvalidSignature
	ErrNotFound          = store.ErrNotFound
)

// ValidationError is a field-scoped input error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InsufficientStockError surfaces the quantity still available alongside the
// rejection.
type InsufficientStockError = store.InsufficientStockError

// AsInsufficientStock unwraps an InsufficientStockError if the chain holds one.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}
