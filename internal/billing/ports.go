package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CustomerResolver maps uuid.Nil to the default customer. Implementations
// return *ResolutionError when no customer exists.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error)
}

// InvoiceActivitySource yields invoice activity sorted by date descending,
// truncated to limit.
type InvoiceActivitySource interface {
	InvoiceActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]ActivityRecord, error)
}

// PaymentActivitySource yields payment activity sorted by date descending,
// truncated to limit.
type PaymentActivitySource interface {
	PaymentActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]ActivityRecord, error)
}

// InvoicePeriodSource yields invoices issued within [from, to].
type InvoicePeriodSource interface {
	InvoicesForPeriod(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]InvoiceSummary, error)
}

// PaymentLister yields payments matching a filter, newest first.
type PaymentLister interface {
	ListPayments(ctx context.Context, customerID uuid.UUID, filter PaymentFilter) ([]PaymentSummary, error)
}

// InvoiceRepository is the storage port for invoices.
type InvoiceRepository interface {
	CustomerResolver
	InvoiceActivitySource
	InvoicePeriodSource
	DashboardSummary(ctx context.Context, customerID uuid.UUID) (DashboardSummary, error)
	ListInvoices(ctx context.Context, customerID uuid.UUID, filter InvoiceFilter, page, pageSize int) (InvoicePage, error)
	OpenInvoices(ctx context.Context, customerID uuid.UUID) ([]InvoiceSummary, error)
	GetInvoice(ctx context.Context, invoiceID uuid.UUID) (InvoiceDetail, error)
	MarkInvoicePaidOffline(ctx context.Context, invoiceID uuid.UUID) error
	CreateInvoice(ctx context.Context, customerID uuid.UUID, input CreateInvoiceInput) (uuid.UUID, error)
}

// PaymentRepository is the storage port for payments.
type PaymentRepository interface {
	CustomerResolver
	PaymentActivitySource
	PaymentLister
	CreatePayment(ctx context.Context, customerID uuid.UUID, input CreatePaymentInput) (uuid.UUID, error)
}

// Store bundles both repositories; every storage variant implements it.
type Store interface {
	InvoiceRepository
	PaymentRepository
}
