// Package sqlite implements the billing store on SQLite.
//
// Amounts are stored as decimal strings and dates as YYYY-MM-DD text, so
// lexical ordering on date columns matches chronological ordering. Sums are
// computed in Go with exact decimals rather than SQLite's floating point.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/shared"
)

var _ billing.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	customer_number TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	billing_line1 TEXT NOT NULL DEFAULT '',
	billing_line2 TEXT NOT NULL DEFAULT '',
	billing_city TEXT NOT NULL DEFAULT '',
	billing_state TEXT NOT NULL DEFAULT '',
	billing_postal TEXT NOT NULL DEFAULT '',
	billing_country TEXT NOT NULL DEFAULT '',
	shipping_line1 TEXT NOT NULL DEFAULT '',
	shipping_line2 TEXT NOT NULL DEFAULT '',
	shipping_city TEXT NOT NULL DEFAULT '',
	shipping_state TEXT NOT NULL DEFAULT '',
	shipping_postal TEXT NOT NULL DEFAULT '',
	shipping_country TEXT NOT NULL DEFAULT '',
	credit_limit TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	invoice_number TEXT NOT NULL UNIQUE,
	issued_date TEXT NOT NULL,
	due_date TEXT NOT NULL,
	status TEXT NOT NULL,
	subtotal_amount TEXT NOT NULL DEFAULT '0',
	discount_amount TEXT NOT NULL DEFAULT '0',
	tax_amount TEXT NOT NULL DEFAULT '0',
	total_amount TEXT NOT NULL DEFAULT '0'
);

CREATE INDEX IF NOT EXISTS idx_invoices_customer_issued
	ON invoices(customer_id, issued_date DESC);

CREATE TABLE IF NOT EXISTS invoice_items (
	id TEXT PRIMARY KEY,
	invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	line_no INTEGER NOT NULL,
	description TEXT NOT NULL,
	quantity TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	line_total TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL REFERENCES customers(id),
	payment_ref TEXT NOT NULL,
	payment_date TEXT NOT NULL,
	amount TEXT NOT NULL,
	method TEXT NOT NULL,
	receipt_url TEXT
);

CREATE INDEX IF NOT EXISTS idx_payments_customer_date
	ON payments(customer_id, payment_date DESC);
`

// Store implements the billing ports on a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and migrates it.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("billing/sqlite: open: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("billing/sqlite: migrate: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing handle without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateCustomer inserts a customer record.
func (s *Store) CreateCustomer(ctx context.Context, c billing.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (
			id, customer_number, name,
			billing_line1, billing_line2, billing_city, billing_state, billing_postal, billing_country,
			shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_postal, shipping_country,
			credit_limit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.CustomerNumber, c.Name,
		c.Billing.Line1, c.Billing.Line2, c.Billing.City, c.Billing.State, c.Billing.PostalCode, c.Billing.Country,
		c.Shipping.Line1, c.Shipping.Line2, c.Shipping.City, c.Shipping.State, c.Shipping.PostalCode, c.Shipping.Country,
		c.CreditLimit.String(),
	)
	return mapWriteError(err)
}

// ResolveCustomer maps uuid.Nil to the customer with the lowest customer number.
func (s *Store) ResolveCustomer(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error) {
	if customerID != uuid.Nil {
		return customerID, nil
	}
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `SELECT id FROM customers ORDER BY customer_number LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, &billing.ResolutionError{Entity: "request"}
	}
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// DashboardSummary totals open invoices and payments for the customer.
func (s *Store) DashboardSummary(ctx context.Context, customerID uuid.UUID) (billing.DashboardSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	var creditLimit decimal.Decimal
	err = s.db.QueryRowContext(ctx, `SELECT credit_limit FROM customers WHERE id = ?`, customerID.String()).Scan(&creditLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.DashboardSummary{}, billing.ErrNotFound
	}
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	open, err := s.sumAmounts(ctx, `SELECT total_amount FROM invoices WHERE customer_id = ? AND status IN ('Pending', 'Overdue')`, customerID.String())
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	paid, err := s.sumAmounts(ctx, `SELECT amount FROM payments WHERE customer_id = ?`, customerID.String())
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	return billing.NewDashboardSummary(creditLimit, open, paid), nil
}

func (s *Store) sumAmounts(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()
	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT issued_date, 'Invoice ' || invoice_number || ' generated', total_amount, status
		FROM invoices
		WHERE customer_id = ?
		ORDER BY issued_date DESC, invoice_number DESC
		LIMIT ?`, customerID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.ActivityRecord, 0, limit)
	for rows.Next() {
		var (
			rec  = billing.ActivityRecord{ActivityType: billing.ActivityInvoice}
			date string
		)
		if err := rows.Scan(&date, &rec.Title, &rec.AmountChange, &rec.Status); err != nil {
			return nil, err
		}
		if rec.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListInvoices returns one page of invoices ordered by issued date descending.
func (s *Store) ListInvoices(ctx context.Context, customerID uuid.UUID, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return billing.InvoicePage{}, err
	}
	page, pageSize = billing.NormalizePage(page, pageSize)

	where := " WHERE customer_id = ?"
	args := []any{customerID.String()}
	if filter.InvoiceNumber != "" {
		where += " AND invoice_number LIKE '%' || ? || '%'"
		args = append(args, filter.InvoiceNumber)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.MinAmount != nil {
		where += " AND CAST(total_amount AS REAL) >= ?"
		args = append(args, filter.MinAmount.InexactFloat64())
	}
	if filter.MaxAmount != nil {
		where += " AND CAST(total_amount AS REAL) <= ?"
		args = append(args, filter.MaxAmount.InexactFloat64())
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM invoices"+where, args...).Scan(&total); err != nil {
		return billing.InvoicePage{}, err
	}
	pagination := shared.NewPagination(page, pageSize, total)

	query := "SELECT id, invoice_number, issued_date, due_date, status, total_amount FROM invoices" + where +
		" ORDER BY issued_date DESC, invoice_number DESC LIMIT ? OFFSET ?"
	args = append(args, pagination.PerPage, pagination.Offset())
	items, err := s.queryInvoices(ctx, query, args...)
	if err != nil {
		return billing.InvoicePage{}, err
	}
	return billing.InvoicePage{Items: items, Pagination: pagination}, nil
}

// OpenInvoices returns pending and overdue invoices by due date, then number.
func (s *Store) OpenInvoices(ctx context.Context, customerID uuid.UUID) ([]billing.InvoiceSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.queryInvoices(ctx, `
		SELECT id, invoice_number, issued_date, due_date, status, total_amount
		FROM invoices
		WHERE customer_id = ? AND status IN ('Pending', 'Overdue')
		ORDER BY due_date, invoice_number`, customerID.String())
}

// InvoicesForPeriod returns invoices issued within [from, to].
func (s *Store) InvoicesForPeriod(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]billing.InvoiceSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.queryInvoices(ctx, `
		SELECT id, invoice_number, issued_date, due_date, status, total_amount
		FROM invoices
		WHERE customer_id = ? AND issued_date >= ? AND issued_date <= ?
		ORDER BY issued_date, invoice_number`, customerID.String(), formatDate(from), formatDate(to))
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]billing.InvoiceSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.InvoiceSummary, 0)
	for rows.Next() {
		var (
			inv             billing.InvoiceSummary
			issued, due, st string
		)
		if err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &issued, &due, &st, &inv.TotalAmount); err != nil {
			return nil, err
		}
		if inv.IssuedDate, err = parseDate(issued); err != nil {
			return nil, err
		}
		if inv.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		inv.Status = billing.InvoiceStatus(st)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// GetInvoice returns the invoice with its customer addresses and lines.
func (s *Store) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (billing.InvoiceDetail, error) {
	var (
		d              billing.InvoiceDetail
		issued, due    string
		status         string
		billTo, shipTo billing.Address
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.customer_id, i.invoice_number, i.issued_date, i.due_date, i.status,
			c.name,
			c.billing_line1, c.billing_line2, c.billing_city, c.billing_state, c.billing_postal, c.billing_country,
			c.shipping_line1, c.shipping_line2, c.shipping_city, c.shipping_state, c.shipping_postal, c.shipping_country,
			i.subtotal_amount, i.discount_amount, i.tax_amount, i.total_amount
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.id = ?`, invoiceID.String()).Scan(
		&d.ID, &d.CustomerID, &d.InvoiceNumber, &issued, &due, &status,
		&d.BillToName,
		&billTo.Line1, &billTo.Line2, &billTo.City, &billTo.State, &billTo.PostalCode, &billTo.Country,
		&shipTo.Line1, &shipTo.Line2, &shipTo.City, &shipTo.State, &shipTo.PostalCode, &shipTo.Country,
		&d.SubtotalAmount, &d.DiscountAmount, &d.TaxAmount, &d.TotalAmount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.InvoiceDetail{}, billing.ErrNotFound
	}
	if err != nil {
		return billing.InvoiceDetail{}, err
	}
	if d.IssuedDate, err = parseDate(issued); err != nil {
		return billing.InvoiceDetail{}, err
	}
	if d.DueDate, err = parseDate(due); err != nil {
		return billing.InvoiceDetail{}, err
	}
	d.Status = billing.InvoiceStatus(status)
	d.ShipToName = d.BillToName
	d.BillToAddress = billTo.Format()
	d.ShipToAddress = shipTo.Format()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, quantity, unit_price, line_total
		FROM invoice_items
		WHERE invoice_id = ?
		ORDER BY line_no`, invoiceID.String())
	if err != nil {
		return billing.InvoiceDetail{}, err
	}
	defer rows.Close()
	d.Lines = make([]billing.InvoiceLine, 0)
	for rows.Next() {
		var line billing.InvoiceLine
		if err := rows.Scan(&line.ID, &line.Description, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return billing.InvoiceDetail{}, err
		}
		d.Lines = append(d.Lines, line)
	}
	return d, rows.Err()
}

// MarkInvoicePaidOffline sets the invoice status to Paid.
func (s *Store) MarkInvoicePaidOffline(ctx context.Context, invoiceID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE invoices SET status = 'Paid' WHERE id = ?`, invoiceID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// CreateInvoice stores the invoice header and lines in one transaction.
func (s *Store) CreateInvoice(ctx context.Context, customerID uuid.UUID, input billing.CreateInvoiceInput) (uuid.UUID, error) {
	status := input.Status
	if status == "" {
		status = billing.InvoicePending
	}
	id := uuid.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("billing/sqlite: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, customer_id, invoice_number, issued_date, due_date, status,
			subtotal_amount, discount_amount, tax_amount, total_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), customerID.String(), input.InvoiceNumber, formatDate(input.IssuedDate), formatDate(input.DueDate), string(status),
		input.Subtotal().String(), input.DiscountAmount.String(), input.TaxAmount.String(), input.Total().String(),
	)
	if err != nil {
		return uuid.Nil, mapWriteError(err)
	}
	for i, line := range input.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_items (id, invoice_id, line_no, description, quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), id.String(), i+1, line.Description,
			line.Quantity.String(), line.UnitPrice.String(), line.LineTotal().String(),
		)
		if err != nil {
			return uuid.Nil, mapWriteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("billing/sqlite: commit tx: %w", err)
	}
	return id, nil
}

// PaymentActivity returns the newest limit payments as activity records.
func (s *Store) PaymentActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]billing.ActivityRecord, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []billing.ActivityRecord{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_date, payment_ref, amount
		FROM payments
		WHERE customer_id = ?
		ORDER BY payment_date DESC, payment_ref DESC
		LIMIT ?`, customerID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.ActivityRecord, 0, limit)
	for rows.Next() {
		var (
			date, ref string
			amount    decimal.Decimal
		)
		if err := rows.Scan(&date, &ref, &amount); err != nil {
			return nil, err
		}
		when, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		out = append(out, billing.ActivityRecord{
			Date:         when,
			Title:        "Payment " + ref,
			AmountChange: amount.Neg(),
			Status:       billing.PaymentStatusPaid,
			ActivityType: billing.ActivityPayment,
		})
	}
	return out, rows.Err()
}

// ListPayments returns payments matching filter ordered by date descending.
func (s *Store) ListPayments(ctx context.Context, customerID uuid.UUID, filter billing.PaymentFilter) ([]billing.PaymentSummary, error) {
	customerID, err := s.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, payment_ref, payment_date, amount, method FROM payments WHERE customer_id = ?"
	args := []any{customerID.String()}
	if filter.From != nil {
		query += " AND payment_date >= ?"
		args = append(args, formatDate(*filter.From))
	}
	if filter.To != nil {
		query += " AND payment_date <= ?"
		args = append(args, formatDate(*filter.To))
	}
	if filter.Method != "" {
		query += " AND method = ?"
		args = append(args, filter.Method)
	}
	query += " ORDER BY payment_date DESC, payment_ref DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.PaymentSummary, 0)
	for rows.Next() {
		var (
			p    billing.PaymentSummary
			date string
		)
		if err := rows.Scan(&p.ID, &p.PaymentRef, &date, &p.Amount, &p.Method); err != nil {
			return nil, err
		}
		if p.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePayment stores an offline payment.
func (s *Store) CreatePayment(ctx context.Context, customerID uuid.UUID, input billing.CreatePaymentInput) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, payment_ref, payment_date, amount, method)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), customerID.String(), input.PaymentRef, formatDate(input.Date), input.Amount.String(), input.Method,
	)
	if err != nil {
		return uuid.Nil, mapWriteError(err)
	}
	return id, nil
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("billing/sqlite: parse date %q: %w", value, err)
	}
	return t, nil
}

func mapWriteError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", billing.ErrDuplicate, sqliteErr)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", billing.ErrNotFound, sqliteErr)
		}
	}
	return err
}
