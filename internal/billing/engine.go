package billing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// MergeActivity blends invoice and payment activity into one feed ordered by
// date descending, then amount change descending, truncated to limit.
//
// Each input is expected to be pre-truncated to limit by its source, so a
// record beyond one source's cut can be missing from the result even if it
// would rank within the combined top limit.
func MergeActivity(invoiceActivity, paymentActivity []ActivityRecord, limit int) []ActivityRecord {
	if limit <= 0 {
		return []ActivityRecord{}
	}
	merged := make([]ActivityRecord, 0, len(invoiceActivity)+len(paymentActivity))
	merged = append(merged, invoiceActivity...)
	merged = append(merged, paymentActivity...)
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.AmountChange.GreaterThan(b.AmountChange)
	})
	if len(merged) > limit {
		merged = merged[:limit:limit]
	}
	return merged
}

// InvoiceEntryDescription is the ledger description of an invoice.
func InvoiceEntryDescription(invoiceNumber string) string {
	return "Invoice " + invoiceNumber
}

// PaymentEntryDescription is the ledger description of a payment.
func PaymentEntryDescription(paymentRef, method string) string {
	return "Payment " + paymentRef + " (" + method + ")"
}

// BuildEntries converts period-scoped invoices and payments into ledger
// entries ordered by date ascending, then description ascending. Balances
// are left at zero.
func BuildEntries(invoices []InvoiceSummary, payments []PaymentSummary) []LedgerEntry {
	entries := make([]LedgerEntry, 0, len(invoices)+len(payments))
	for _, inv := range invoices {
		entries = append(entries, LedgerEntry{
			Date:        inv.IssuedDate,
			Description: InvoiceEntryDescription(inv.InvoiceNumber),
			Debit:       inv.TotalAmount,
			Credit:      decimal.Zero,
		})
	}
	for _, p := range payments {
		entries = append(entries, LedgerEntry{
			Date:        p.Date,
			Description: PaymentEntryDescription(p.PaymentRef, p.Method),
			Debit:       decimal.Zero,
			Credit:      p.Amount,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Description < b.Description
	})
	return entries
}

// Accumulate returns a copy of entries with Balance set to the running total
// of debits minus credits, in the order given.
func Accumulate(entries []LedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, len(entries))
	balance := decimal.Zero
	for i, entry := range entries {
		balance = balance.Add(entry.Debit).Sub(entry.Credit)
		entry.Balance = balance
		out[i] = entry
	}
	return out
}

// ClosingBalance is the balance of the last entry, or zero.
func ClosingBalance(entries []LedgerEntry) decimal.Decimal {
	if len(entries) == 0 {
		return decimal.Zero
	}
	return entries[len(entries)-1].Balance
}
