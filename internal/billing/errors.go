package billing

import (
	"errors"
	"fmt"
)

// Domain errors for the billing portal.
var (
	// ErrNotFound indicates the requested invoice or customer does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrInvalidInput indicates a write request failed validation.
	ErrInvalidInput = errors.New("billing: invalid input")
	// ErrDuplicate indicates a unique business key is already taken.
	ErrDuplicate = errors.New("billing: duplicate")
)

// ResolutionError is returned by repositories when a default customer
// identifier cannot be mapped to a customer record.
type ResolutionError struct {
	Entity string
}

func (e *ResolutionError) Error() string {
	entity := e.Entity
	if entity == "" {
		entity = "request"
	}
	return fmt.Sprintf("billing: no customers are available to associate with the %s", entity)
}

// IsResolutionError reports whether err carries a *ResolutionError.
func IsResolutionError(err error) bool {
	var target *ResolutionError
	return errors.As(err, &target)
}
