// Package memory provides an in-process billing store used by tests and
// demo deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/shared"
)

var _ billing.Store = (*Store)(nil)

type invoiceRow struct {
	customerID uuid.UUID
	summary    billing.InvoiceSummary
	subtotal   decimal.Decimal
	discount   decimal.Decimal
	tax        decimal.Decimal
	lines      []billing.InvoiceLine
}

type paymentRow struct {
	customerID uuid.UUID
	summary    billing.PaymentSummary
}

// Store keeps customers, invoices and payments in memory.
type Store struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]billing.Customer
	invoices  map[uuid.UUID]*invoiceRow
	payments  map[uuid.UUID]paymentRow
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		customers: make(map[uuid.UUID]billing.Customer),
		invoices:  make(map[uuid.UUID]*invoiceRow),
		payments:  make(map[uuid.UUID]paymentRow),
	}
}

// CreateCustomer inserts or replaces a customer record.
func (s *Store) CreateCustomer(ctx context.Context, customer billing.Customer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
	return nil
}

// ResolveCustomer maps uuid.Nil to the customer with the lowest customer number.
func (s *Store) ResolveCustomer(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if customerID != uuid.Nil {
		return customerID, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultCustomerLocked()
}

func (s *Store) defaultCustomerLocked() (uuid.UUID, error) {
	var (
		found bool
		best  billing.Customer
	)
	for _, c := range s.customers {
		if !found || c.CustomerNumber < best.CustomerNumber {
			best = c
			found = true
		}
	}
	if !found {
		return uuid.Nil, &billing.ResolutionError{Entity: "request"}
	}
	return best.ID, nil
}

// DashboardSummary totals open invoices and payments for the customer.
func (s *Store) DashboardSummary(ctx context.Context, customerID uuid.UUID) (billing.DashboardSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[customerID]
	if !ok {
		return billing.DashboardSummary{}, billing.ErrNotFound
	}
	open := decimal.Zero
	for _, inv := range s.invoices {
		if inv.customerID == customerID && inv.summary.Status.IsOpen() {
			open = open.Add(inv.summary.TotalAmount)
		}
	}
	paid := decimal.Zero
	for _, p := range s.payments {
		if p.customerID == customerID {
			paid = paid.Add(p.summary.Amount)
		}
	}
	return billing.NewDashboardSummary(customer.CreditLimit, open, paid), nil
}

// InvoiceActivity returns the newest limit invoices as activity records.
func (s *Store) InvoiceActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]billing.ActivityRecord, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []billing.ActivityRecord{}, nil
	}
	invoices := s.customerInvoices(customerID, func(billing.InvoiceSummary) bool { return true })
	sortNewestFirst(invoices)
	if len(invoices) > limit {
		invoices = invoices[:limit]
	}
	out := make([]billing.ActivityRecord, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, billing.ActivityRecord{
			Date:         inv.IssuedDate,
			Title:        "Invoice " + inv.InvoiceNumber + " generated",
			AmountChange: inv.TotalAmount,
			Status:       string(inv.Status),
			ActivityType: billing.ActivityInvoice,
		})
	}
	return out, nil
}

// ListInvoices returns one page of invoices ordered by issued date descending.
func (s *Store) ListInvoices(ctx context.Context, customerID uuid.UUID, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return billing.InvoicePage{}, err
	}
	page, pageSize = billing.NormalizePage(page, pageSize)
	number := strings.ToLower(strings.TrimSpace(filter.InvoiceNumber))
	invoices := s.customerInvoices(customerID, func(inv billing.InvoiceSummary) bool {
		if number != "" && !strings.Contains(strings.ToLower(inv.InvoiceNumber), number) {
			return false
		}
		if filter.Status != "" && inv.Status != filter.Status {
			return false
		}
		if filter.MinAmount != nil && inv.TotalAmount.LessThan(*filter.MinAmount) {
			return false
		}
		if filter.MaxAmount != nil && inv.TotalAmount.GreaterThan(*filter.MaxAmount) {
			return false
		}
		return true
	})
	sortNewestFirst(invoices)
	total := len(invoices)
	start := (page - 1) * pageSize
	items := []billing.InvoiceSummary{}
	if start < total {
		end := start + pageSize
		if end > total {
			end = total
		}
		items = invoices[start:end]
	}
	return billing.InvoicePage{Items: items, Pagination: shared.NewPagination(page, pageSize, total)}, nil
}

// OpenInvoices returns pending and overdue invoices by due date, then number.
func (s *Store) OpenInvoices(ctx context.Context, customerID uuid.UUID) ([]billing.InvoiceSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	invoices := s.customerInvoices(customerID, func(inv billing.InvoiceSummary) bool { return inv.Status.IsOpen() })
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].DueDate.Equal(invoices[j].DueDate) {
			return invoices[i].DueDate.Before(invoices[j].DueDate)
		}
		return invoices[i].InvoiceNumber < invoices[j].InvoiceNumber
	})
	return invoices, nil
}

// InvoicesForPeriod returns invoices issued on a day within [from, to].
func (s *Store) InvoicesForPeriod(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]billing.InvoiceSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	invoices := s.customerInvoices(customerID, func(inv billing.InvoiceSummary) bool {
		return billing.InPeriod(inv.IssuedDate, from, to)
	})
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].IssuedDate.Equal(invoices[j].IssuedDate) {
			return invoices[i].IssuedDate.Before(invoices[j].IssuedDate)
		}
		return invoices[i].InvoiceNumber < invoices[j].InvoiceNumber
	})
	return invoices, nil
}

// GetInvoice returns the invoice with its customer addresses and lines.
func (s *Store) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (billing.InvoiceDetail, error) {
	if err := ctx.Err(); err != nil {
		return billing.InvoiceDetail{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.invoices[invoiceID]
	if !ok {
		return billing.InvoiceDetail{}, billing.ErrNotFound
	}
	customer := s.customers[row.customerID]
	lines := make([]billing.InvoiceLine, len(row.lines))
	copy(lines, row.lines)
	return billing.InvoiceDetail{
		ID:             row.summary.ID,
		CustomerID:     row.customerID,
		InvoiceNumber:  row.summary.InvoiceNumber,
		IssuedDate:     row.summary.IssuedDate,
		DueDate:        row.summary.DueDate,
		Status:         row.summary.Status,
		BillToName:     customer.Name,
		BillToAddress:  customer.Billing.Format(),
		ShipToName:     customer.Name,
		ShipToAddress:  customer.Shipping.Format(),
		SubtotalAmount: row.subtotal,
		DiscountAmount: row.discount,
		TaxAmount:      row.tax,
		TotalAmount:    row.summary.TotalAmount,
		Lines:          lines,
	}, nil
}

// MarkInvoicePaidOffline sets the invoice status to Paid.
func (s *Store) MarkInvoicePaidOffline(ctx context.Context, invoiceID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.invoices[invoiceID]
	if !ok {
		return billing.ErrNotFound
	}
	row.summary.Status = billing.InvoicePaid
	return nil
}

// CreateInvoice stores the invoice header and lines in one step.
func (s *Store) CreateInvoice(ctx context.Context, customerID uuid.UUID, input billing.CreateInvoiceInput) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[customerID]; !ok {
		return uuid.Nil, billing.ErrNotFound
	}
	for _, inv := range s.invoices {
		if inv.summary.InvoiceNumber == input.InvoiceNumber {
			return uuid.Nil, billing.ErrDuplicate
		}
	}
	status := input.Status
	if status == "" {
		status = billing.InvoicePending
	}
	id := uuid.New()
	lines := make([]billing.InvoiceLine, 0, len(input.Lines))
	for _, l := range input.Lines {
		lines = append(lines, billing.InvoiceLine{
			ID:          uuid.New(),
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal(),
		})
	}
	s.invoices[id] = &invoiceRow{
		customerID: customerID,
		summary: billing.InvoiceSummary{
			ID:            id,
			InvoiceNumber: input.InvoiceNumber,
			IssuedDate:    input.IssuedDate,
			DueDate:       input.DueDate,
			Status:        status,
			TotalAmount:   input.Total(),
		},
		subtotal: input.Subtotal(),
		discount: input.DiscountAmount,
		tax:      input.TaxAmount,
		lines:    lines,
	}
	return id, nil
}

// PaymentActivity returns the newest limit payments as activity records.
func (s *Store) PaymentActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]billing.ActivityRecord, error) {
	payments, err := s.ListPayments(ctx, customerID, billing.PaymentFilter{})
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []billing.ActivityRecord{}, nil
	}
	if len(payments) > limit {
		payments = payments[:limit]
	}
	out := make([]billing.ActivityRecord, 0, len(payments))
	for _, p := range payments {
		out = append(out, billing.ActivityRecord{
			Date:         p.Date,
			Title:        "Payment " + p.PaymentRef,
			AmountChange: p.Amount.Neg(),
			Status:       billing.PaymentStatusPaid,
			ActivityType: billing.ActivityPayment,
		})
	}
	return out, nil
}

// ListPayments returns payments matching filter ordered by date descending.
func (s *Store) ListPayments(ctx context.Context, customerID uuid.UUID, filter billing.PaymentFilter) ([]billing.PaymentSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]billing.PaymentSummary, 0)
	for _, p := range s.payments {
		if p.customerID == customerID && filter.Matches(p.summary) {
			out = append(out, p.summary)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].PaymentRef > out[j].PaymentRef
	})
	return out, nil
}

// CreatePayment stores an offline payment.
func (s *Store) CreatePayment(ctx context.Context, customerID uuid.UUID, input billing.CreatePaymentInput) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[customerID]; !ok {
		return uuid.Nil, billing.ErrNotFound
	}
	id := uuid.New()
	s.payments[id] = paymentRow{
		customerID: customerID,
		summary: billing.PaymentSummary{
			ID:         id,
			PaymentRef: input.PaymentRef,
			Date:       input.Date,
			Amount:     input.Amount,
			Method:     input.Method,
		},
	}
	return id, nil
}

func (s *Store) customerInvoices(customerID uuid.UUID, keep func(billing.InvoiceSummary) bool) []billing.InvoiceSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]billing.InvoiceSummary, 0)
	for _, inv := range s.invoices {
		if inv.customerID == customerID && keep(inv.summary) {
			out = append(out, inv.summary)
		}
	}
	return out
}

func sortNewestFirst(invoices []billing.InvoiceSummary) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if !invoices[i].IssuedDate.Equal(invoices[j].IssuedDate) {
			return invoices[i].IssuedDate.After(invoices[j].IssuedDate)
		}
		return invoices[i].InvoiceNumber > invoices[j].InvoiceNumber
	})
}
