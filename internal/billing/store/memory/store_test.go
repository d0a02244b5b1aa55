package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/billing/store/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return New() })
}

func TestStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New()

	_, err := s.ResolveCustomer(ctx, uuid.Nil)
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.GetInvoice(ctx, uuid.New())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, s.CreateCustomer(ctx, billing.Customer{}), context.Canceled)
}

func TestGetInvoiceReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	customerID := uuid.New()
	require.NoError(t, s.CreateCustomer(ctx, billing.Customer{ID: customerID, CustomerNumber: "C-1"}))
	id, err := s.CreateInvoice(ctx, customerID, billing.CreateInvoiceInput{
		InvoiceNumber: "INV-1",
		Lines:         []billing.CreateInvoiceLineInput{{Description: "original"}},
	})
	require.NoError(t, err)

	detail, err := s.GetInvoice(ctx, id)
	require.NoError(t, err)
	detail.Lines[0].Description = "changed"

	again, err := s.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "original", again.Lines[0].Description)
}

func TestCurrentReportIncludesFirstOfMonthWestOfUTC(t *testing.T) {
	ctx := context.Background()
	s := New()
	customerID := uuid.New()
	require.NoError(t, s.CreateCustomer(ctx, billing.Customer{ID: customerID, CustomerNumber: "C-1"}))
	_, err := s.CreateInvoice(ctx, customerID, billing.CreateInvoiceInput{
		InvoiceNumber: "INV-1",
		IssuedDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		Lines:         []billing.CreateInvoiceLineInput{{Description: "Plan", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500)}},
	})
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2024, 6, 14, 12, 0, 0, 0, time.FixedZone("EDT", -4*3600)) }
	report, err := billing.NewAssembler(s, s, clock).CurrentReport(ctx, customerID)
	require.NoError(t, err)

	require.Len(t, report.Entries, 1)
	require.Equal(t, "Invoice INV-1", report.Entries[0].Description)
	require.True(t, report.Statement.ClosingBalance.Equal(decimal.NewFromInt(500)))
}
