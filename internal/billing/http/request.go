package billinghttp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/platform/httpx"
	"github.com/odyssey-erp/customer-portal/internal/shared"
)

// CustomerHeader carries the requesting customer's id.
const CustomerHeader = "X-Customer-ID"

type validationError struct {
	field string
}

func (e validationError) Error() string {
	return fmt.Sprintf("invalid %s", e.field)
}

func (e validationError) Unwrap() error { return httpx.ErrValidation }

// customerContext resolves the customer header into the request context.
// An absent header selects the default customer.
func (h *Handler) customerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(CustomerHeader))
		customerID := uuid.Nil
		if raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				httpx.RespondError(w, validationError{field: "customer id"})
				return
			}
			customerID = parsed
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithCustomer(r.Context(), customerID)))
	})
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, validationError{field: name}
	}
	return id, nil
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), time.UTC)
}

func optionalDate(r *http.Request, key string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := parseDate(raw)
	if err != nil {
		return nil, validationError{field: key}
	}
	return &t, nil
}

func optionalInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, validationError{field: key}
	}
	return value, nil
}

func optionalDecimal(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, validationError{field: key}
	}
	return &value, nil
}

// statementRange reads from/to, defaulting each missing bound to the
// current month.
func (h *Handler) statementRange(r *http.Request) (time.Time, time.Time, error) {
	start, end := billing.CurrentPeriod(h.now().UTC())
	from, err := optionalDate(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := optionalDate(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, validationError{field: "range: from is after to"}
	}
	return start, end, nil
}

func (h *Handler) invoiceFilter(r *http.Request) (billing.InvoiceFilter, int, int, error) {
	q := r.URL.Query()
	filter := billing.InvoiceFilter{
		InvoiceNumber: strings.TrimSpace(q.Get("number")),
		Status:        billing.InvoiceStatus(strings.TrimSpace(q.Get("status"))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, 0, 0, validationError{field: "status"}
	}
	var err error
	if filter.MinAmount, err = optionalDecimal(r, "min"); err != nil {
		return filter, 0, 0, err
	}
	if filter.MaxAmount, err = optionalDecimal(r, "max"); err != nil {
		return filter, 0, 0, err
	}
	page, err := optionalInt(r, "page", 1)
	if err != nil {
		return filter, 0, 0, err
	}
	size, err := optionalInt(r, "page_size", billing.DefaultPageSize)
	if err != nil {
		return filter, 0, 0, err
	}
	return filter, page, size, nil
}

func paymentFilter(r *http.Request) (billing.PaymentFilter, error) {
	from, err := optionalDate(r, "from")
	if err != nil {
		return billing.PaymentFilter{}, err
	}
	to, err := optionalDate(r, "to")
	if err != nil {
		return billing.PaymentFilter{}, err
	}
	return billing.PaymentFilter{From: from, To: to, Method: strings.TrimSpace(r.URL.Query().Get("method"))}, nil
}

type createInvoiceRequest struct {
	InvoiceNumber  string                           `json:"invoice_number"`
	IssuedDate     string                           `json:"issued_date"`
	DueDate        string                           `json:"due_date"`
	Status         billing.InvoiceStatus            `json:"status"`
	DiscountAmount decimal.Decimal                  `json:"discount_amount"`
	TaxAmount      decimal.Decimal                  `json:"tax_amount"`
	Lines          []billing.CreateInvoiceLineInput `json:"lines"`
}

func (req createInvoiceRequest) input() (billing.CreateInvoiceInput, error) {
	issued, err := parseDate(req.IssuedDate)
	if err != nil {
		return billing.CreateInvoiceInput{}, validationError{field: "issued_date"}
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		return billing.CreateInvoiceInput{}, validationError{field: "due_date"}
	}
	return billing.CreateInvoiceInput{
		InvoiceNumber:  req.InvoiceNumber,
		IssuedDate:     issued,
		DueDate:        due,
		Status:         req.Status,
		DiscountAmount: req.DiscountAmount,
		TaxAmount:      req.TaxAmount,
		Lines:          req.Lines,
	}, nil
}

type createPaymentRequest struct {
	PaymentRef string          `json:"payment_ref"`
	Date       string          `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

func (req createPaymentRequest) input() (billing.CreatePaymentInput, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return billing.CreatePaymentInput{}, validationError{field: "date"}
	}
	return billing.CreatePaymentInput{
		PaymentRef: req.PaymentRef,
		Date:       date,
		Amount:     req.Amount,
		Method:     req.Method,
	}, nil
}

type exportRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}
