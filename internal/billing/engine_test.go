package billing

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func titles(records []ActivityRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Title
	}
	return out
}

func TestMergeActivityOrdersByDateDescending(t *testing.T) {
	invoices := []ActivityRecord{
		{Date: day(2023, 8, 27), Title: "Invoice A", AmountChange: dec("100"), ActivityType: ActivityInvoice},
		{Date: day(2023, 8, 24), Title: "Invoice B", AmountChange: dec("200"), ActivityType: ActivityInvoice},
	}
	payments := []ActivityRecord{
		{Date: day(2023, 8, 31), Title: "Payment A", AmountChange: dec("-50"), ActivityType: ActivityPayment},
	}

	merged := MergeActivity(invoices, payments, 10)

	require.Equal(t, []string{"Payment A", "Invoice A", "Invoice B"}, titles(merged))
}

func TestMergeActivityBreaksDateTiesByAmountDescending(t *testing.T) {
	same := day(2024, 1, 5)
	invoices := []ActivityRecord{{Date: same, Title: "Invoice small", AmountChange: dec("10")}}
	payments := []ActivityRecord{{Date: same, Title: "Payment", AmountChange: dec("-10")}}
	more := []ActivityRecord{{Date: same, Title: "Invoice big", AmountChange: dec("99.99")}}

	merged := MergeActivity(append(invoices, more...), payments, 3)

	require.Equal(t, []string{"Invoice big", "Invoice small", "Payment"}, titles(merged))
}

func TestMergeActivityLimit(t *testing.T) {
	a := []ActivityRecord{{Date: day(2024, 1, 1)}, {Date: day(2024, 1, 2)}}
	b := []ActivityRecord{{Date: day(2024, 1, 3)}}

	require.Empty(t, MergeActivity(a, b, 0))
	require.Empty(t, MergeActivity(a, b, -1))
	require.Empty(t, MergeActivity(nil, nil, 5))
	require.Len(t, MergeActivity(a, b, 2), 2)
	require.Len(t, MergeActivity(a, b, 10), 3)
}

func TestMergeActivityProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomRecords := func(n int) []ActivityRecord {
		out := make([]ActivityRecord, n)
		for i := range out {
			out[i] = ActivityRecord{
				Date:         day(2024, 1, 1+rng.Intn(5)),
				Title:        fmt.Sprintf("r%d", i),
				AmountChange: decimal.NewFromInt(int64(rng.Intn(400) - 200)),
			}
		}
		return out
	}

	for i := 0; i < 200; i++ {
		a := randomRecords(rng.Intn(8))
		b := randomRecords(rng.Intn(8))
		limit := rng.Intn(20)
		aCopy := slices.Clone(a)
		bCopy := slices.Clone(b)

		merged := MergeActivity(a, b, limit)

		require.Len(t, merged, min(limit, len(a)+len(b)))
		for j := 1; j < len(merged); j++ {
			prev, cur := merged[j-1], merged[j]
			require.False(t, cur.Date.After(prev.Date), "dates must not increase")
			if cur.Date.Equal(prev.Date) {
				require.False(t, cur.AmountChange.GreaterThan(prev.AmountChange), "amounts must not increase on equal dates")
			}
		}
		require.Equal(t, aCopy, a)
		require.Equal(t, bCopy, b)
	}
}

func TestBuildEntriesDescriptionsAndSides(t *testing.T) {
	invoices := []InvoiceSummary{{InvoiceNumber: "INV-1", IssuedDate: day(2024, 3, 1), TotalAmount: dec("500")}}
	payments := []PaymentSummary{{PaymentRef: "PMT-9", Method: "Bank Transfer", Date: day(2024, 3, 2), Amount: dec("200")}}

	entries := BuildEntries(invoices, payments)

	require.Len(t, entries, 2)
	require.Equal(t, "Invoice INV-1", entries[0].Description)
	require.True(t, entries[0].Debit.Equal(dec("500")))
	require.True(t, entries[0].Credit.IsZero())
	require.Equal(t, "Payment PMT-9 (Bank Transfer)", entries[1].Description)
	require.True(t, entries[1].Debit.IsZero())
	require.True(t, entries[1].Credit.Equal(dec("200")))
}

func TestBuildEntriesBreaksDateTiesByDescription(t *testing.T) {
	same := day(2024, 3, 10)
	invoices := []InvoiceSummary{{InvoiceNumber: "A", IssuedDate: same, TotalAmount: dec("1")}}
	payments := []PaymentSummary{{PaymentRef: "B", Method: "Cash", Date: same, Amount: dec("1")}}

	entries := BuildEntries(invoices, payments)

	require.Equal(t, "Invoice A", entries[0].Description)
	require.Equal(t, "Payment B (Cash)", entries[1].Description)

	entries = BuildEntries(nil, []PaymentSummary{
		{PaymentRef: "Z", Method: "Cash", Date: same, Amount: dec("1")},
		{PaymentRef: "A", Method: "Cash", Date: same, Amount: dec("1")},
	})
	require.Equal(t, "Payment A (Cash)", entries[0].Description)
}

func TestBuildEntriesOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		var invoices []InvoiceSummary
		var payments []PaymentSummary
		nInvoices, nPayments := rng.Intn(6), rng.Intn(6)
		for j := 0; j < nInvoices; j++ {
			invoices = append(invoices, InvoiceSummary{InvoiceNumber: fmt.Sprintf("N%d", rng.Intn(50)), IssuedDate: day(2024, 2, 1+rng.Intn(3)), TotalAmount: dec("1")})
		}
		for j := 0; j < nPayments; j++ {
			payments = append(payments, PaymentSummary{PaymentRef: fmt.Sprintf("R%d", rng.Intn(50)), Method: "Card", Date: day(2024, 2, 1+rng.Intn(3)), Amount: dec("1")})
		}

		entries := BuildEntries(invoices, payments)

		require.Len(t, entries, len(invoices)+len(payments))
		for j := 1; j < len(entries); j++ {
			prev, cur := entries[j-1], entries[j]
			require.False(t, cur.Date.Before(prev.Date))
			if cur.Date.Equal(prev.Date) {
				require.LessOrEqual(t, prev.Description, cur.Description)
			}
		}
	}
}

func TestAccumulateRunningBalance(t *testing.T) {
	entries := BuildEntries(
		[]InvoiceSummary{
			{InvoiceNumber: "1", IssuedDate: day(2024, 5, 1), TotalAmount: dec("500")},
			{InvoiceNumber: "2", IssuedDate: day(2024, 5, 20), TotalAmount: dec("100")},
		},
		[]PaymentSummary{{PaymentRef: "P", Method: "Cash", Date: day(2024, 5, 15), Amount: dec("200")}},
	)

	got := Accumulate(entries)

	require.Len(t, got, 3)
	require.Equal(t, "400", ClosingBalance(got).String())
	want := []string{"500", "300", "400"}
	for i, e := range got {
		require.Equal(t, want[i], e.Balance.String())
	}
	for _, e := range entries {
		require.True(t, e.Balance.IsZero(), "input must not be mutated")
	}
}

func TestAccumulateIsLeftFoldWithoutDrift(t *testing.T) {
	entries := make([]LedgerEntry, 0, 1000)
	for i := 0; i < 1000; i++ {
		entries = append(entries, LedgerEntry{Debit: dec("0.10"), Credit: decimal.Zero})
	}
	entries = append(entries, LedgerEntry{Debit: decimal.Zero, Credit: dec("0.01")})

	got := Accumulate(entries)

	prev := decimal.Zero
	for _, e := range got {
		require.True(t, e.Balance.Sub(prev).Equal(e.Debit.Sub(e.Credit)))
		prev = e.Balance
	}
	require.True(t, ClosingBalance(got).Equal(dec("99.99")))
}

func TestAccumulatePreservesInputOrder(t *testing.T) {
	entries := []LedgerEntry{
		{Date: day(2024, 1, 9), Description: "late", Debit: dec("5")},
		{Date: day(2024, 1, 1), Description: "early", Credit: dec("2")},
	}

	got := Accumulate(entries)

	require.Equal(t, "late", got[0].Description)
	require.Equal(t, "5", got[0].Balance.String())
	require.Equal(t, "3", got[1].Balance.String())
}

func TestClosingBalanceEmpty(t *testing.T) {
	require.True(t, ClosingBalance(nil).IsZero())
	require.Empty(t, Accumulate(nil))
}
