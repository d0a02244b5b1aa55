package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Assembler builds statements of account from period-scoped invoices and
// payments.
type Assembler struct {
	invoices InvoicePeriodSource
	payments PaymentLister
	now      func() time.Time
}

// NewAssembler constructs an Assembler. A nil clock defaults to time.Now.
func NewAssembler(invoices InvoicePeriodSource, payments PaymentLister, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{invoices: invoices, payments: payments, now: now}
}

// CurrentPeriod returns the first and last day, at UTC midnight, of the UTC
// month containing now. Stored dates are UTC, so the period is too.
func CurrentPeriod(now time.Time) (time.Time, time.Time) {
	y, m, _ := now.UTC().Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// Assemble fetches invoices then payments for [from, to] and returns the
// ledger with running balances plus its summary. Fetch errors are returned
// unchanged.
func (a *Assembler) Assemble(ctx context.Context, customerID uuid.UUID, from, to time.Time) (StatementReport, error) {
	invoices, err := a.invoices.InvoicesForPeriod(ctx, customerID, from, to)
	if err != nil {
		return StatementReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return StatementReport{}, err
	}
	payments, err := a.payments.ListPayments(ctx, customerID, PaymentFilter{From: &from, To: &to})
	if err != nil {
		return StatementReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return StatementReport{}, err
	}

	entries := Accumulate(BuildEntries(invoices, payments))
	return StatementReport{
		Statement: Statement{
			PeriodStart:    from,
			PeriodEnd:      to,
			OpeningBalance: decimal.Zero,
			ClosingBalance: ClosingBalance(entries),
		},
		Entries: entries,
	}, nil
}

// CurrentReport assembles the statement for the current calendar month.
func (a *Assembler) CurrentReport(ctx context.Context, customerID uuid.UUID) (StatementReport, error) {
	from, to := CurrentPeriod(a.now())
	return a.Assemble(ctx, customerID, from, to)
}

// CurrentStatement returns the summary for the current calendar month.
func (a *Assembler) CurrentStatement(ctx context.Context, customerID uuid.UUID) (Statement, error) {
	report, err := a.CurrentReport(ctx, customerID)
	if err != nil {
		return Statement{}, err
	}
	return report.Statement, nil
}

// StatementEntries returns the ordered ledger entries for [from, to].
func (a *Assembler) StatementEntries(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]LedgerEntry, error) {
	report, err := a.Assemble(ctx, customerID, from, to)
	if err != nil {
		return nil, err
	}
	return report.Entries, nil
}

// Now exposes the assembler clock to callers that default missing ranges.
func (a *Assembler) Now() time.Time {
	return a.now()
}
