package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders amounts and dates for human-facing documents.
type Formatter struct {
	printer *message.Printer
	unit    currency.Unit
}

// NewFormatter returns a formatter for the ISO 4217 currency code.
func NewFormatter(code string) (Formatter, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return Formatter{}, fmt.Errorf("export: currency %q: %w", code, err)
	}
	return Formatter{printer: message.NewPrinter(language.English), unit: unit}, nil
}

// Currency returns the ISO code, e.g. "USD".
func (f Formatter) Currency() string {
	return f.unit.String()
}

// Amount formats d with grouping and two decimals, e.g. "1,234.50".
func (f Formatter) Amount(d decimal.Decimal) string {
	return f.printer.Sprint(number.Decimal(d.Round(2).InexactFloat64(), number.Scale(2)))
}

// OptionalAmount is Amount, or an empty string for zero.
func (f Formatter) OptionalAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return f.Amount(d)
}

// Date formats t as YYYY-MM-DD.
func (f Formatter) Date(t time.Time) string {
	return t.Format(time.DateOnly)
}
