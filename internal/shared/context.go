package shared

import (
	"context"

	"github.com/google/uuid"
)

type customerContextKey struct{}

// ContextWithCustomer stores the requesting customer id in context.
func ContextWithCustomer(ctx context.Context, customerID uuid.UUID) context.Context {
	return context.WithValue(ctx, customerContextKey{}, customerID)
}

// CustomerFromContext extracts the customer id from context. uuid.Nil means
// the default customer.
func CustomerFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(customerContextKey{}).(uuid.UUID)
	return id
}
