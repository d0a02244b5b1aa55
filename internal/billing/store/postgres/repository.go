// Package postgres implements the billing store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/platform/db"
	"github.com/odyssey-erp/customer-portal/internal/shared"
)

//go:embed schema.sql
var schema string

var _ billing.Store = (*Repository)(nil)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Repository provides PostgreSQL backed persistence for the portal.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the portal tables when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("billing/postgres: ensure schema: %w", err)
	}
	return nil
}

// CreateCustomer inserts a customer record.
func (r *Repository) CreateCustomer(ctx context.Context, c billing.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	const query = `
		INSERT INTO customers (
			id, customer_number, name,
			billing_line1, billing_line2, billing_city, billing_state, billing_postal, billing_country,
			shipping_line1, shipping_line2, shipping_city, shipping_state, shipping_postal, shipping_country,
			credit_limit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.pool.Exec(ctx, query,
		c.ID, c.CustomerNumber, c.Name,
		c.Billing.Line1, c.Billing.Line2, c.Billing.City, c.Billing.State, c.Billing.PostalCode, c.Billing.Country,
		c.Shipping.Line1, c.Shipping.Line2, c.Shipping.City, c.Shipping.State, c.Shipping.PostalCode, c.Shipping.Country,
		c.CreditLimit,
	)
	return mapWriteError(err)
}

// ResolveCustomer maps uuid.Nil to the customer with the lowest customer number.
func (r *Repository) ResolveCustomer(ctx context.Context, customerID uuid.UUID) (uuid.UUID, error) {
	if customerID != uuid.Nil {
		return customerID, nil
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM customers ORDER BY customer_number LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, &billing.ResolutionError{Entity: "request"}
	}
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// DashboardSummary totals open invoices and payments for the customer.
func (r *Repository) DashboardSummary(ctx context.Context, customerID uuid.UUID) (billing.DashboardSummary, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	const query = `
		SELECT c.credit_limit,
			COALESCE((SELECT SUM(i.total_amount) FROM invoices i
				WHERE i.customer_id = c.id AND i.status IN ('Pending', 'Overdue')), 0),
			COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.customer_id = c.id), 0)
		FROM customers c
		WHERE c.id = $1`
	var creditLimit, open, paid decimal.Decimal
	err = r.pool.QueryRow(ctx, query, customerID).Scan(&creditLimit, &open, &paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.DashboardSummary{}, billing.ErrNotFound
	}
	if err != nil {
		return billing.DashboardSummary{}, err
	}
	return billing.NewDashboardSummary(creditLimit, open, paid), nil
}

// InvoiceActivity returns the newest limit invoices as activity records.
func (r *Repository) InvoiceActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]billing.ActivityRecord, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []billing.ActivityRecord{}, nil
	}
	const query = `
		SELECT issued_date, 'Invoice ' || invoice_number || ' generated', total_amount, status
		FROM invoices
		WHERE customer_id = $1
		ORDER BY issued_date DESC, invoice_number DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.ActivityRecord, 0, limit)
	for rows.Next() {
		rec := billing.ActivityRecord{ActivityType: billing.ActivityInvoice}
		if err := rows.Scan(&rec.Date, &rec.Title, &rec.AmountChange, &rec.Status); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListInvoices returns one page of invoices ordered by issued date descending.
func (r *Repository) ListInvoices(ctx context.Context, customerID uuid.UUID, filter billing.InvoiceFilter, page, pageSize int) (billing.InvoicePage, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return billing.InvoicePage{}, err
	}
	page, pageSize = billing.NormalizePage(page, pageSize)

	where := " WHERE customer_id = $1"
	args := []any{customerID}
	argNum := 2
	if filter.InvoiceNumber != "" {
		where += fmt.Sprintf(" AND invoice_number ILIKE '%%' || $%d || '%%'", argNum)
		args = append(args, filter.InvoiceNumber)
		argNum++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(filter.Status))
		argNum++
	}
	if filter.MinAmount != nil {
		where += fmt.Sprintf(" AND total_amount >= $%d", argNum)
		args = append(args, *filter.MinAmount)
		argNum++
	}
	if filter.MaxAmount != nil {
		where += fmt.Sprintf(" AND total_amount <= $%d", argNum)
		args = append(args, *filter.MaxAmount)
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices"+where, args...).Scan(&total); err != nil {
		return billing.InvoicePage{}, err
	}
	pagination := shared.NewPagination(page, pageSize, total)

	query := "SELECT id, invoice_number, issued_date, due_date, status, total_amount FROM invoices" + where +
		fmt.Sprintf(" ORDER BY issued_date DESC, invoice_number DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, pagination.PerPage, pagination.Offset())
	items, err := r.queryInvoices(ctx, query, args...)
	if err != nil {
		return billing.InvoicePage{}, err
	}
	return billing.InvoicePage{Items: items, Pagination: pagination}, nil
}

// OpenInvoices returns pending and overdue invoices by due date, then number.
func (r *Repository) OpenInvoices(ctx context.Context, customerID uuid.UUID) ([]billing.InvoiceSummary, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT id, invoice_number, issued_date, due_date, status, total_amount
		FROM invoices
		WHERE customer_id = $1 AND status IN ('Pending', 'Overdue')
		ORDER BY due_date, invoice_number`
	return r.queryInvoices(ctx, query, customerID)
}

// InvoicesForPeriod returns invoices issued within [from, to].
func (r *Repository) InvoicesForPeriod(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]billing.InvoiceSummary, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT id, invoice_number, issued_date, due_date, status, total_amount
		FROM invoices
		WHERE customer_id = $1 AND issued_date BETWEEN $2::date AND $3::date
		ORDER BY issued_date, invoice_number`
	return r.queryInvoices(ctx, query, customerID, dateOnly(from), dateOnly(to))
}

func (r *Repository) queryInvoices(ctx context.Context, query string, args ...any) ([]billing.InvoiceSummary, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.InvoiceSummary, 0)
	for rows.Next() {
		var (
			inv    billing.InvoiceSummary
			status string
		)
		if err := rows.Scan(&inv.ID, &inv.InvoiceNumber, &inv.IssuedDate, &inv.DueDate, &status, &inv.TotalAmount); err != nil {
			return nil, err
		}
		inv.Status = billing.InvoiceStatus(status)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// GetInvoice returns the invoice with its customer addresses and lines.
func (r *Repository) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (billing.InvoiceDetail, error) {
	const query = `
		SELECT i.id, i.customer_id, i.invoice_number, i.issued_date, i.due_date, i.status,
			c.name,
			c.billing_line1, c.billing_line2, c.billing_city, c.billing_state, c.billing_postal, c.billing_country,
			c.shipping_line1, c.shipping_line2, c.shipping_city, c.shipping_state, c.shipping_postal, c.shipping_country,
			i.subtotal_amount, i.discount_amount, i.tax_amount, i.total_amount
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.id = $1`
	var (
		d              billing.InvoiceDetail
		status         string
		billTo, shipTo billing.Address
	)
	err := r.pool.QueryRow(ctx, query, invoiceID).Scan(
		&d.ID, &d.CustomerID, &d.InvoiceNumber, &d.IssuedDate, &d.DueDate, &status,
		&d.BillToName,
		&billTo.Line1, &billTo.Line2, &billTo.City, &billTo.State, &billTo.PostalCode, &billTo.Country,
		&shipTo.Line1, &shipTo.Line2, &shipTo.City, &shipTo.State, &shipTo.PostalCode, &shipTo.Country,
		&d.SubtotalAmount, &d.DiscountAmount, &d.TaxAmount, &d.TotalAmount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return billing.InvoiceDetail{}, billing.ErrNotFound
	}
	if err != nil {
		return billing.InvoiceDetail{}, err
	}
	d.Status = billing.InvoiceStatus(status)
	d.ShipToName = d.BillToName
	d.BillToAddress = billTo.Format()
	d.ShipToAddress = shipTo.Format()

	rows, err := r.pool.Query(ctx, `
		SELECT id, description, quantity, unit_price, line_total
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY line_no`, invoiceID)
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
func (r *Repository) MarkInvoicePaidOffline(ctx context.Context, invoiceID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE invoices SET status = 'Paid' WHERE id = $1`, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// CreateInvoice stores the invoice header and lines in one transaction.
func (r *Repository) CreateInvoice(ctx context.Context, customerID uuid.UUID, input billing.CreateInvoiceInput) (uuid.UUID, error) {
	status := input.Status
	if status == "" {
		status = billing.InvoicePending
	}
	id := uuid.New()
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO invoices (
				id, customer_id, invoice_number, issued_date, due_date, status,
				subtotal_amount, discount_amount, tax_amount, total_amount
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, customerID, input.InvoiceNumber, dateOnly(input.IssuedDate), dateOnly(input.DueDate), string(status),
			input.Subtotal(), input.DiscountAmount, input.TaxAmount, input.Total(),
		)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, line := range input.Lines {
			batch.Queue(`
				INSERT INTO invoice_items (id, invoice_id, line_no, description, quantity, unit_price, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				uuid.New(), id, i+1, line.Description, line.Quantity, line.UnitPrice, line.LineTotal(),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return uuid.Nil, mapWriteError(err)
	}
	return id, nil
}

// PaymentActivity returns the newest limit payments as activity records.
func (r *Repository) PaymentActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]billing.ActivityRecord, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []billing.ActivityRecord{}, nil
	}
	const query = `
		SELECT payment_date, 'Payment ' || payment_ref, -amount
		FROM payments
		WHERE customer_id = $1
		ORDER BY payment_date DESC, payment_ref DESC
		LIMIT $2`
	rows, err := r.pool.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.ActivityRecord, 0, limit)
	for rows.Next() {
		rec := billing.ActivityRecord{Status: billing.PaymentStatusPaid, ActivityType: billing.ActivityPayment}
		if err := rows.Scan(&rec.Date, &rec.Title, &rec.AmountChange); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListPayments returns payments matching filter ordered by date descending.
func (r *Repository) ListPayments(ctx context.Context, customerID uuid.UUID, filter billing.PaymentFilter) ([]billing.PaymentSummary, error) {
	customerID, err := r.ResolveCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	query := "SELECT id, payment_ref, payment_date, amount, method FROM payments WHERE customer_id = $1"
	args := []any{customerID}
	argNum := 2
	if filter.From != nil {
		query += fmt.Sprintf(" AND payment_date >= $%d::date", argNum)
		args = append(args, dateOnly(*filter.From))
		argNum++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND payment_date <= $%d::date", argNum)
		args = append(args, dateOnly(*filter.To))
		argNum++
	}
	if filter.Method != "" {
		query += fmt.Sprintf(" AND method = $%d", argNum)
		args = append(args, filter.Method)
	}
	query += " ORDER BY payment_date DESC, payment_ref DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]billing.PaymentSummary, 0)
	for rows.Next() {
		var p billing.PaymentSummary
		if err := rows.Scan(&p.ID, &p.PaymentRef, &p.Date, &p.Amount, &p.Method); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePayment stores an offline payment.
func (r *Repository) CreatePayment(ctx context.Context, customerID uuid.UUID, input billing.CreatePaymentInput) (uuid.UUID, error) {
	id := uuid.New()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payments (id, customer_id, payment_ref, payment_date, amount, method)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, customerID, input.PaymentRef, dateOnly(input.Date), input.Amount, input.Method,
	)
	if err != nil {
		return uuid.Nil, mapWriteError(err)
	}
	return id, nil
}

func dateOnly(t time.Time) string {
	return t.Format(time.DateOnly)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", billing.ErrDuplicate, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", billing.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
