package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types emitted after successful writes.
const (
	EventInvoiceCreated     = "invoice_created"
	EventInvoicePaidOffline = "invoice_paid_offline"
	EventPaymentRecorded    = "payment_recorded"
)

// Event is a billing domain event.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	CustomerID uuid.UUID       `json:"customer_id"`
	SubjectID  uuid.UUID       `json:"subject_id"`
	Reference  string          `json:"reference"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }
