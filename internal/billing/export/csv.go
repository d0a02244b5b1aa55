package export

import (
	"bufio"
	"encoding/csv"
	"io"
	"time"

	"github.com/odyssey-erp/customer-portal/internal/billing"
)

const csvBufferSize = 32 * 1024

var csvHeader = []string{"date", "description", "debit", "credit", "balance"}

// WriteCSV streams ledger entries as CSV with a header row. Amounts are
// plain decimals with two places so spreadsheets parse them as numbers.
func WriteCSV(w io.Writer, entries []billing.LedgerEntry) error {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.Date.Format(time.DateOnly),
			e.Description,
			e.Debit.StringFixed(2),
			e.Credit.StringFixed(2),
			e.Balance.StringFixed(2),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}
