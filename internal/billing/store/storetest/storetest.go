// Package storetest holds the behaviour every billing store variant must
// share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/customer-portal/internal/billing"
)

// Store is a billing store that can also register customers.
type Store interface {
	billing.Store
	CreateCustomer(ctx context.Context, customer billing.Customer) error
}

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ResolveCustomer", func(t *testing.T) { testResolveCustomer(t, newStore(t)) })
	t.Run("DashboardSummary", func(t *testing.T) { testDashboardSummary(t, newStore(t)) })
	t.Run("Activity", func(t *testing.T) { testActivity(t, newStore(t)) })
	t.Run("ListInvoices", func(t *testing.T) { testListInvoices(t, newStore(t)) })
	t.Run("OpenInvoices", func(t *testing.T) { testOpenInvoices(t, newStore(t)) })
	t.Run("InvoiceDetail", func(t *testing.T) { testInvoiceDetail(t, newStore(t)) })
	t.Run("WriteErrors", func(t *testing.T) { testWriteErrors(t, newStore(t)) })
	t.Run("PeriodQueries", func(t *testing.T) { testPeriodQueries(t, newStore(t)) })
	t.Run("Statement", func(t *testing.T) { testStatement(t, newStore(t)) })
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func addCustomer(t *testing.T, s Store, number, limit string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.CreateCustomer(context.Background(), billing.Customer{
		ID:             id,
		CustomerNumber: number,
		Name:           "Customer " + number,
		CreditLimit:    amount(limit),
		Billing:        billing.Address{Line1: "10 Market St", City: "Portland", State: "OR", PostalCode: "97201", Country: "US"},
		Shipping:       billing.Address{Line1: "5 Harbor Way", Line2: "Dock 2", City: "Portland", State: "OR", PostalCode: "97209", Country: "US"},
	}))
	return id
}

func addInvoice(t *testing.T, s Store, customerID uuid.UUID, number string, issued time.Time, total string, status billing.InvoiceStatus) uuid.UUID {
	t.Helper()
	id, err := s.CreateInvoice(context.Background(), customerID, billing.CreateInvoiceInput{
		InvoiceNumber: number,
		IssuedDate:    issued,
		DueDate:       issued.AddDate(0, 0, 30),
		Status:        status,
		Lines:         []billing.CreateInvoiceLineInput{{Description: "Service", Quantity: amount("1"), UnitPrice: amount(total)}},
	})
	require.NoError(t, err)
	return id
}

func addPayment(t *testing.T, s Store, customerID uuid.UUID, ref string, when time.Time, value, method string) {
	t.Helper()
	_, err := s.CreatePayment(context.Background(), customerID, billing.CreatePaymentInput{
		PaymentRef: ref, Date: when, Amount: amount(value), Method: method,
	})
	require.NoError(t, err)
}

func testResolveCustomer(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.ResolveCustomer(ctx, uuid.Nil)
	require.True(t, billing.IsResolutionError(err))
	_, err = s.InvoicesForPeriod(ctx, uuid.Nil, day(2024, 1, 1), day(2024, 1, 31))
	require.True(t, billing.IsResolutionError(err))
	_, err = s.ListPayments(ctx, uuid.Nil, billing.PaymentFilter{})
	require.True(t, billing.IsResolutionError(err))

	addCustomer(t, s, "C-002", "10")
	first := addCustomer(t, s, "C-001", "10")

	got, err := s.ResolveCustomer(ctx, uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, first, got)

	explicit := uuid.New()
	got, err = s.ResolveCustomer(ctx, explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, got)
}

func testDashboardSummary(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "5000")
	other := addCustomer(t, s, "C-009", "1")
	addInvoice(t, s, customerID, "INV-1", day(2024, 1, 1), "1200.50", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-2", day(2024, 1, 2), "300", billing.InvoiceOverdue)
	addInvoice(t, s, customerID, "INV-3", day(2024, 1, 3), "999", billing.InvoicePaid)
	addInvoice(t, s, other, "INV-4", day(2024, 1, 3), "777", billing.InvoicePending)
	addPayment(t, s, customerID, "P-1", day(2024, 1, 5), "500.25", "Cash")

	summary, err := s.DashboardSummary(ctx, uuid.Nil)
	require.NoError(t, err)

	require.True(t, summary.CreditLimit.Equal(amount("5000")))
	require.True(t, summary.DueBalance.Equal(amount("1000.25")), summary.DueBalance.String())
	require.True(t, summary.AvailableCredit.Equal(amount("3999.75")), summary.AvailableCredit.String())
}

func testActivity(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	addInvoice(t, s, customerID, "INV-A", day(2024, 2, 1), "10", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-B", day(2024, 2, 3), "20", billing.InvoiceOverdue)
	addInvoice(t, s, customerID, "INV-C", day(2024, 2, 2), "30", billing.InvoicePaid)
	addPayment(t, s, customerID, "P-A", day(2024, 2, 4), "5", "Card")
	addPayment(t, s, customerID, "P-B", day(2024, 2, 4), "6", "Card")

	invoices, err := s.InvoiceActivity(ctx, customerID, 2)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	require.Equal(t, "Invoice INV-B generated", invoices[0].Title)
	require.Equal(t, "Overdue", invoices[0].Status)
	require.Equal(t, billing.ActivityInvoice, invoices[0].ActivityType)
	require.True(t, invoices[0].AmountChange.Equal(amount("20")))
	require.Equal(t, "Invoice INV-C generated", invoices[1].Title)

	payments, err := s.PaymentActivity(ctx, customerID, 5)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, "Payment P-B", payments[0].Title)
	require.Equal(t, billing.PaymentStatusPaid, payments[0].Status)
	require.Equal(t, billing.ActivityPayment, payments[0].ActivityType)
	require.True(t, payments[0].AmountChange.Equal(amount("-6")))

	none, err := s.InvoiceActivity(ctx, customerID, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func testListInvoices(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	for i := 1; i <= 7; i++ {
		status := billing.InvoicePending
		if i%2 == 0 {
			status = billing.InvoicePaid
		}
		addInvoice(t, s, customerID, fmt.Sprintf("INV-%03d", i), day(2024, 3, i), fmt.Sprintf("%d.50", i*100), status)
	}

	page, err := s.ListInvoices(ctx, customerID, billing.InvoiceFilter{}, 2, 3)
	require.NoError(t, err)
	require.Equal(t, 7, page.Pagination.Total)
	require.Equal(t, 3, page.Pagination.TotalPages)
	require.Equal(t, []string{"INV-004", "INV-003", "INV-002"}, numbers(page.Items))

	page, err = s.ListInvoices(ctx, customerID, billing.InvoiceFilter{}, 9, 3)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Equal(t, 7, page.Pagination.Total)

	low, high := amount("200.50"), amount("600.50")
	page, err = s.ListInvoices(ctx, customerID, billing.InvoiceFilter{Status: billing.InvoicePaid, MinAmount: &low, MaxAmount: &high}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"INV-006", "INV-004", "INV-002"}, numbers(page.Items))

	page, err = s.ListInvoices(ctx, customerID, billing.InvoiceFilter{InvoiceNumber: "005"}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"INV-005"}, numbers(page.Items))
}

func testOpenInvoices(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	addInvoice(t, s, customerID, "INV-LATE", day(2024, 1, 20), "1", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-EARLY", day(2024, 1, 5), "1", billing.InvoiceOverdue)
	paid := addInvoice(t, s, customerID, "INV-PAID", day(2024, 1, 1), "1", billing.InvoicePending)

	require.NoError(t, s.MarkInvoicePaidOffline(ctx, paid))
	require.ErrorIs(t, s.MarkInvoicePaidOffline(ctx, uuid.New()), billing.ErrNotFound)

	open, err := s.OpenInvoices(ctx, customerID)
	require.NoError(t, err)
	require.Equal(t, []string{"INV-EARLY", "INV-LATE"}, numbers(open))
}

func testInvoiceDetail(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	id, err := s.CreateInvoice(ctx, customerID, billing.CreateInvoiceInput{
		InvoiceNumber:  "INV-900",
		IssuedDate:     day(2024, 5, 2),
		DueDate:        day(2024, 6, 1),
		Status:         billing.InvoicePending,
		DiscountAmount: amount("10"),
		TaxAmount:      amount("4.40"),
		Lines: []billing.CreateInvoiceLineInput{
			{Description: "Consulting", Quantity: amount("3"), UnitPrice: amount("120")},
			{Description: "Travel", Quantity: amount("1"), UnitPrice: amount("55.60")},
		},
	})
	require.NoError(t, err)

	detail, err := s.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, detail.ID)
	require.Equal(t, customerID, detail.CustomerID)
	require.Equal(t, "INV-900", detail.InvoiceNumber)
	require.Equal(t, day(2024, 5, 2), detail.IssuedDate)
	require.Equal(t, day(2024, 6, 1), detail.DueDate)
	require.Equal(t, "Customer C-001", detail.BillToName)
	require.Equal(t, "10 Market St\nPortland, OR 97201\nUS", detail.BillToAddress)
	require.Equal(t, "5 Harbor Way\nDock 2\nPortland, OR 97209\nUS", detail.ShipToAddress)
	require.True(t, detail.SubtotalAmount.Equal(amount("415.60")))
	require.True(t, detail.TotalAmount.Equal(amount("410")))
	require.Len(t, detail.Lines, 2)
	require.Equal(t, "Consulting", detail.Lines[0].Description)
	require.True(t, detail.Lines[0].LineTotal.Equal(amount("360")))
	require.Equal(t, "Travel", detail.Lines[1].Description)

	_, err = s.GetInvoice(ctx, uuid.New())
	require.ErrorIs(t, err, billing.ErrNotFound)
}

func testWriteErrors(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	addInvoice(t, s, customerID, "INV-1", day(2024, 1, 1), "1", billing.InvoicePending)

	input := billing.CreateInvoiceInput{
		InvoiceNumber: "INV-1",
		IssuedDate:    day(2024, 1, 1),
		DueDate:       day(2024, 1, 2),
		Lines:         []billing.CreateInvoiceLineInput{{Description: "x", Quantity: amount("1"), UnitPrice: amount("1")}},
	}
	_, err := s.CreateInvoice(ctx, customerID, input)
	require.ErrorIs(t, err, billing.ErrDuplicate)

	input.InvoiceNumber = "INV-2"
	_, err = s.CreateInvoice(ctx, uuid.New(), input)
	require.ErrorIs(t, err, billing.ErrNotFound)

	_, err = s.CreatePayment(ctx, uuid.New(), billing.CreatePaymentInput{PaymentRef: "P", Date: day(2024, 1, 1), Amount: amount("1"), Method: "Cash"})
	require.ErrorIs(t, err, billing.ErrNotFound)

	page, err := s.ListInvoices(ctx, customerID, billing.InvoiceFilter{}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Pagination.Total)
}

func testPeriodQueries(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	addInvoice(t, s, customerID, "INV-B", day(2024, 6, 30), "1", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-A", day(2024, 6, 30), "1", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-0", day(2024, 6, 1), "1", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-X", day(2024, 7, 1), "1", billing.InvoicePending)
	addInvoice(t, s, customerID, "INV-Y", day(2024, 5, 31), "1", billing.InvoicePending)
	addPayment(t, s, customerID, "P-EDGE", day(2024, 6, 30), "1", "Cash")
	addPayment(t, s, customerID, "P-START", day(2024, 6, 1), "1", "Card")
	addPayment(t, s, customerID, "P-OUT", day(2024, 7, 1), "1", "Cash")

	invoices, err := s.InvoicesForPeriod(ctx, customerID, day(2024, 6, 1), day(2024, 6, 30))
	require.NoError(t, err)
	require.Equal(t, []string{"INV-0", "INV-A", "INV-B"}, numbers(invoices))

	from, to := day(2024, 6, 1), day(2024, 6, 30)
	payments, err := s.ListPayments(ctx, customerID, billing.PaymentFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	require.Equal(t, "P-EDGE", payments[0].PaymentRef)
	require.Equal(t, "P-START", payments[1].PaymentRef)

	cash, err := s.ListPayments(ctx, customerID, billing.PaymentFilter{Method: "Cash"})
	require.NoError(t, err)
	require.Len(t, cash, 2)
	require.Equal(t, "P-OUT", cash[0].PaymentRef)
}

func testStatement(t *testing.T, s Store) {
	ctx := context.Background()
	customerID := addCustomer(t, s, "C-001", "100")
	addInvoice(t, s, customerID, "INV-1", day(2024, 6, 1), "500", billing.InvoicePending)
	addPayment(t, s, customerID, "PAY-1", day(2024, 6, 15), "200", "Cash")
	addInvoice(t, s, customerID, "INV-2", day(2024, 6, 20), "100", billing.InvoicePending)

	assembler := billing.NewAssembler(s, s, nil)
	report, err := assembler.Assemble(ctx, uuid.Nil, day(2024, 6, 1), day(2024, 6, 30))
	require.NoError(t, err)

	require.Len(t, report.Entries, 3)
	balances := make([]string, len(report.Entries))
	for i, e := range report.Entries {
		balances[i] = e.Balance.String()
	}
	require.Equal(t, []string{"500", "300", "400"}, balances)
	require.Equal(t, "Payment PAY-1 (Cash)", report.Entries[1].Description)
	require.True(t, report.Statement.ClosingBalance.Equal(amount("400")))

	empty, err := assembler.Assemble(ctx, customerID, day(2023, 1, 1), day(2023, 1, 31))
	require.NoError(t, err)
	require.Empty(t, empty.Entries)
	require.True(t, empty.Statement.ClosingBalance.IsZero())
}

func numbers(invoices []billing.InvoiceSummary) []string {
	out := make([]string, len(invoices))
	for i, inv := range invoices {
		out[i] = inv.InvoiceNumber
	}
	return out
}
