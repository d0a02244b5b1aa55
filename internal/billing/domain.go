package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/customer-portal/internal/shared"
)

// ActivityType distinguishes the source of an activity record.
type ActivityType string

const (
	ActivityInvoice ActivityType = "Invoice"
	ActivityPayment ActivityType = "Payment"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "Pending"
	InvoicePaid    InvoiceStatus = "Paid"
	InvoiceOverdue InvoiceStatus = "Overdue"
)

// IsOpen reports whether the invoice still counts towards the due balance.
func (s InvoiceStatus) IsOpen() bool {
	return s == InvoicePending || s == InvoiceOverdue
}

// Valid reports whether s is a known status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoicePending, InvoicePaid, InvoiceOverdue:
		return true
	}
	return false
}

// PaymentStatusPaid is the status carried by every payment activity record.
const PaymentStatusPaid = "Paid"

// ActivityRecord is one dashboard-visible financial event.
type ActivityRecord struct {
	Date         time.Time       `json:"date"`
	Title        string          `json:"title"`
	AmountChange decimal.Decimal `json:"amount_change"`
	Status       string          `json:"status"`
	ActivityType ActivityType    `json:"activity_type"`
}

// LedgerEntry is one statement line. Balance is populated by Accumulate only.
type LedgerEntry struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

// Statement summarises a period of ledger activity.
type Statement struct {
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// StatementReport bundles the summary with the entries it was computed from.
type StatementReport struct {
	Statement Statement     `json:"statement"`
	Entries   []LedgerEntry `json:"entries"`
}

// Customer is the account holder an invoice or payment belongs to.
type Customer struct {
	ID             uuid.UUID       `json:"id"`
	CustomerNumber string          `json:"customer_number"`
	Name           string          `json:"name"`
	Billing        Address         `json:"billing"`
	Shipping       Address         `json:"shipping"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
}

// Address is a postal address.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Format renders the address as newline separated lines.
func (a Address) Format() string {
	lines := []string{a.Line1}
	if strings.TrimSpace(a.Line2) != "" {
		lines = append(lines, a.Line2)
	}
	cityLine := a.City + ", "
	if strings.TrimSpace(a.State) != "" {
		cityLine += a.State + " "
	}
	cityLine += a.PostalCode
	lines = append(lines, cityLine, a.Country)
	return strings.Join(lines, "\n")
}

// InvoiceSummary is the list projection of an invoice.
type InvoiceSummary struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	IssuedDate    time.Time       `json:"issued_date"`
	DueDate       time.Time       `json:"due_date"`
	Status        InvoiceStatus   `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// PaymentSummary is the list projection of a payment.
type PaymentSummary struct {
	ID         uuid.UUID       `json:"id"`
	PaymentRef string          `json:"payment_ref"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

// DashboardSummary reports the customer's credit position.
type DashboardSummary struct {
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	DueBalance      decimal.Decimal `json:"due_balance"`
}

// NewDashboardSummary derives due and available balances from raw totals.
func NewDashboardSummary(creditLimit, openInvoiceTotal, paymentTotal decimal.Decimal) DashboardSummary {
	due := openInvoiceTotal.Sub(paymentTotal)
	return DashboardSummary{
		CreditLimit:     creditLimit,
		AvailableCredit: creditLimit.Sub(due),
		DueBalance:      due,
	}
}

// InvoiceLine is one line item of an invoice.
type InvoiceLine struct {
	ID          uuid.UUID       `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// InvoiceDetail is the full view of a single invoice.
type InvoiceDetail struct {
	ID             uuid.UUID       `json:"id"`
	CustomerID     uuid.UUID       `json:"customer_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	IssuedDate     time.Time       `json:"issued_date"`
	DueDate        time.Time       `json:"due_date"`
	Status         InvoiceStatus   `json:"status"`
	BillToName     string          `json:"bill_to_name"`
	BillToAddress  string          `json:"bill_to_address"`
	ShipToName     string          `json:"ship_to_name"`
	ShipToAddress  string          `json:"ship_to_address"`
	SubtotalAmount decimal.Decimal `json:"subtotal_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Lines          []InvoiceLine   `json:"lines"`
}

// InvoiceFilter narrows the paged invoice list.
type InvoiceFilter struct {
	InvoiceNumber string
	Status        InvoiceStatus
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
}

// InvoicePage is one page of invoices.
type InvoicePage struct {
	Items      []InvoiceSummary  `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

const (
	DefaultPageSize      = 10
	DefaultActivityLimit = 10
)

// NormalizePage applies the default page and page size.
func NormalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// PaymentFilter narrows the payment list. Bounds are inclusive calendar days.
type PaymentFilter struct {
	From   *time.Time
	To     *time.Time
	Method string
}

// Matches reports whether p passes the filter.
func (f PaymentFilter) Matches(p PaymentSummary) bool {
	if f.From != nil && p.Date.Before(StartOfDay(*f.From)) {
		return false
	}
	if f.To != nil && !p.Date.Before(StartOfDay(*f.To).AddDate(0, 0, 1)) {
		return false
	}
	if f.Method != "" && p.Method != f.Method {
		return false
	}
	return true
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// InPeriod reports whether t falls on a calendar day within [from, to].
func InPeriod(t, from, to time.Time) bool {
	return !t.Before(StartOfDay(from)) && t.Before(StartOfDay(to).AddDate(0, 0, 1))
}

// CreateInvoiceLineInput describes a line item to create.
type CreateInvoiceLineInput struct {
	Description string          `json:"description" validate:"required,max=200"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// LineTotal returns quantity times unit price.
func (l CreateInvoiceLineInput) LineTotal() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// CreateInvoiceInput describes an invoice to create.
type CreateInvoiceInput struct {
	InvoiceNumber  string                   `json:"invoice_number" validate:"required,max=50"`
	IssuedDate     time.Time                `json:"issued_date" validate:"required"`
	DueDate        time.Time                `json:"due_date" validate:"required,gtefield=IssuedDate"`
	Status         InvoiceStatus            `json:"status" validate:"omitempty,oneof=Pending Paid Overdue"`
	DiscountAmount decimal.Decimal          `json:"discount_amount" validate:"gte=0"`
	TaxAmount      decimal.Decimal          `json:"tax_amount" validate:"gte=0"`
	Lines          []CreateInvoiceLineInput `json:"lines" validate:"required,min=1,dive"`
}

// Subtotal sums the line totals.
func (in CreateInvoiceInput) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range in.Lines {
		total = total.Add(line.LineTotal())
	}
	return total
}

// Total returns subtotal minus discount plus tax.
func (in CreateInvoiceInput) Total() decimal.Decimal {
	return in.Subtotal().Sub(in.DiscountAmount).Add(in.TaxAmount)
}

// CreatePaymentInput describes an offline payment to record.
type CreatePaymentInput struct {
	PaymentRef string          `json:"payment_ref" validate:"required,max=50"`
	Date       time.Time       `json:"date" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	Method     string          `json:"method" validate:"required,max=30"`
}
