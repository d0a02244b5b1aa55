package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubLedgerSource struct {
	invoices     []InvoiceSummary
	payments     []PaymentSummary
	invoiceErr   error
	paymentErr   error
	calls        []string
	lastFrom     time.Time
	lastTo       time.Time
	lastFilter   PaymentFilter
	lastCustomer uuid.UUID
}

func (s *stubLedgerSource) InvoicesForPeriod(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]InvoiceSummary, error) {
	s.calls = append(s.calls, "invoices")
	s.lastCustomer, s.lastFrom, s.lastTo = customerID, from, to
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.invoiceErr != nil {
		return nil, s.invoiceErr
	}
	return s.invoices, nil
}

func (s *stubLedgerSource) ListPayments(ctx context.Context, customerID uuid.UUID, filter PaymentFilter) ([]PaymentSummary, error) {
	s.calls = append(s.calls, "payments")
	s.lastFilter = filter
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.paymentErr != nil {
		return nil, s.paymentErr
	}
	return s.payments, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAssembleComputesRunningBalances(t *testing.T) {
	src := &stubLedgerSource{
		invoices: []InvoiceSummary{
			{InvoiceNumber: "INV-1", IssuedDate: day(2024, 6, 1), TotalAmount: dec("500")},
			{InvoiceNumber: "INV-2", IssuedDate: day(2024, 6, 20), TotalAmount: dec("100")},
		},
		payments: []PaymentSummary{{PaymentRef: "PAY-1", Method: "Cash", Date: day(2024, 6, 15), Amount: dec("200")}},
	}
	assembler := NewAssembler(src, src, nil)

	report, err := assembler.Assemble(context.Background(), uuid.Nil, day(2024, 6, 1), day(2024, 6, 30))
	require.NoError(t, err)

	require.Len(t, report.Entries, 3)
	require.Equal(t, []string{"Invoice INV-1", "Payment PAY-1 (Cash)", "Invoice INV-2"},
		[]string{report.Entries[0].Description, report.Entries[1].Description, report.Entries[2].Description})
	require.Equal(t, "500", report.Entries[0].Balance.String())
	require.Equal(t, "300", report.Entries[1].Balance.String())
	require.Equal(t, "400", report.Entries[2].Balance.String())
	require.True(t, report.Statement.OpeningBalance.IsZero())
	require.Equal(t, "400", report.Statement.ClosingBalance.String())
	require.Equal(t, day(2024, 6, 1), report.Statement.PeriodStart)
	require.Equal(t, day(2024, 6, 30), report.Statement.PeriodEnd)
}

func TestAssembleEmptyPeriod(t *testing.T) {
	src := &stubLedgerSource{}
	assembler := NewAssembler(src, src, nil)

	report, err := assembler.Assemble(context.Background(), uuid.New(), day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)

	require.Empty(t, report.Entries)
	require.True(t, report.Statement.OpeningBalance.IsZero())
	require.True(t, report.Statement.ClosingBalance.IsZero())
}

func TestAssembleFetchesInvoicesThenPayments(t *testing.T) {
	src := &stubLedgerSource{}
	assembler := NewAssembler(src, src, nil)
	from, to := day(2024, 4, 1), day(2024, 4, 30)

	_, err := assembler.Assemble(context.Background(), uuid.Nil, from, to)
	require.NoError(t, err)

	require.Equal(t, []string{"invoices", "payments"}, src.calls)
	require.Equal(t, from, *src.lastFilter.From)
	require.Equal(t, to, *src.lastFilter.To)
	require.Empty(t, src.lastFilter.Method)
}

func TestAssemblePropagatesResolutionError(t *testing.T) {
	resolution := &ResolutionError{Entity: "statement"}
	src := &stubLedgerSource{invoiceErr: resolution}
	assembler := NewAssembler(src, src, nil)

	_, err := assembler.Assemble(context.Background(), uuid.Nil, day(2024, 1, 1), day(2024, 1, 31))

	var target *ResolutionError
	require.True(t, errors.As(err, &target))
	require.Same(t, resolution, target)
	require.Equal(t, []string{"invoices"}, src.calls)
}

func TestAssemblePropagatesPaymentFailure(t *testing.T) {
	boom := errors.New("storage unavailable")
	src := &stubLedgerSource{
		invoices:   []InvoiceSummary{{InvoiceNumber: "X", IssuedDate: day(2024, 1, 2), TotalAmount: dec("1")}},
		paymentErr: boom,
	}
	assembler := NewAssembler(src, src, nil)

	report, err := assembler.Assemble(context.Background(), uuid.Nil, day(2024, 1, 1), day(2024, 1, 31))

	require.ErrorIs(t, err, boom)
	require.Empty(t, report.Entries)
}

func TestAssembleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &stubLedgerSource{invoices: []InvoiceSummary{{InvoiceNumber: "X", IssuedDate: day(2024, 1, 2), TotalAmount: dec("1")}}}
	assembler := NewAssembler(src, src, nil)

	report, err := assembler.Assemble(ctx, uuid.Nil, day(2024, 1, 1), day(2024, 1, 31))

	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, report.Entries)
}

func TestAssembleIsIdempotent(t *testing.T) {
	src := &stubLedgerSource{
		invoices: []InvoiceSummary{{InvoiceNumber: "A", IssuedDate: day(2024, 2, 3), TotalAmount: dec("75.25")}},
		payments: []PaymentSummary{{PaymentRef: "B", Method: "Card", Date: day(2024, 2, 3), Amount: dec("20.05")}},
	}
	assembler := NewAssembler(src, src, nil)
	ctx := context.Background()

	first, err := assembler.Assemble(ctx, uuid.Nil, day(2024, 2, 1), day(2024, 2, 29))
	require.NoError(t, err)
	second, err := assembler.Assemble(ctx, uuid.Nil, day(2024, 2, 1), day(2024, 2, 29))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.True(t, second.Statement.ClosingBalance.Equal(dec("55.20")))
}

func TestCurrentStatementUsesCalendarMonth(t *testing.T) {
	src := &stubLedgerSource{
		invoices: []InvoiceSummary{{InvoiceNumber: "A", IssuedDate: day(2024, 2, 3), TotalAmount: dec("10")}},
	}
	assembler := NewAssembler(src, src, fixedClock(time.Date(2024, 2, 14, 16, 30, 0, 0, time.UTC)))

	stmt, err := assembler.CurrentStatement(context.Background(), uuid.Nil)
	require.NoError(t, err)

	require.Equal(t, day(2024, 2, 1), stmt.PeriodStart)
	require.Equal(t, day(2024, 2, 29), stmt.PeriodEnd)
	require.Equal(t, day(2024, 2, 1), src.lastFrom)
	require.Equal(t, day(2024, 2, 29), src.lastTo)
	require.Equal(t, "10", stmt.ClosingBalance.String())
}

func TestStatementEntries(t *testing.T) {
	src := &stubLedgerSource{
		payments: []PaymentSummary{{PaymentRef: "R", Method: "Cash", Date: day(2024, 3, 3), Amount: dec("5")}},
	}
	assembler := NewAssembler(src, src, nil)

	entries, err := assembler.StatementEntries(context.Background(), uuid.Nil, day(2024, 3, 1), day(2024, 3, 31))
	require.NoError(t, err)

	require.Len(t, entries, 1)
	require.Equal(t, "-5", entries[0].Balance.String())
}

func TestCurrentPeriod(t *testing.T) {
	from, to := CurrentPeriod(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC))
	require.Equal(t, day(2023, 12, 1), from)
	require.Equal(t, day(2023, 12, 31), to)

	eastern := time.FixedZone("EDT", -4*3600)
	from, to = CurrentPeriod(time.Date(2024, 6, 30, 22, 0, 0, 0, eastern))
	require.Equal(t, day(2024, 7, 1), from)
	require.Equal(t, day(2024, 7, 31), to)
}

func TestCurrentReportUsesUTCPeriodForZonedClock(t *testing.T) {
	src := &stubLedgerSource{}
	eastern := time.FixedZone("EDT", -4*3600)
	assembler := NewAssembler(src, src, fixedClock(time.Date(2024, 6, 14, 12, 0, 0, 0, eastern)))

	report, err := assembler.CurrentReport(context.Background(), uuid.Nil)
	require.NoError(t, err)

	require.Equal(t, day(2024, 6, 1), src.lastFrom)
	require.Equal(t, day(2024, 6, 30), src.lastTo)
	require.Equal(t, time.UTC, report.Statement.PeriodStart.Location())
}
