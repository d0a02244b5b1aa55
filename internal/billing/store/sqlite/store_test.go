package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/billing/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return openTestStore(t) })
}

func TestNewIsIdempotentOnExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.db")
	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateCustomer(context.Background(), billing.Customer{CustomerNumber: "C-1", Name: "Acme"}))
	require.NoError(t, first.Close())

	second, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	id, err := second.ResolveCustomer(context.Background(), uuid.Nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)
}

func TestResolveCustomerNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT id FROM customers ORDER BY customer_number LIMIT 1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewWithDB(db).ResolveCustomer(context.Background(), uuid.Nil)

	var resolution *billing.ResolutionError
	require.ErrorAs(t, err, &resolution)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaymentsBuildsFilteredQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	customerID := uuid.New()
	paymentID := uuid.New()
	mock.ExpectQuery(`SELECT id, payment_ref, payment_date, amount, method FROM payments WHERE customer_id = \? AND payment_date >= \? AND payment_date <= \? AND method = \? ORDER BY payment_date DESC, payment_ref DESC`).
		WithArgs(customerID.String(), "2024-06-01", "2024-06-30", "Cash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payment_ref", "payment_date", "amount", "method"}).
			AddRow(paymentID.String(), "P-1", "2024-06-15", "12.34", "Cash"))

	from, to := day(2024, 6, 1), day(2024, 6, 30)
	payments, err := NewWithDB(db).ListPayments(context.Background(), customerID, billing.PaymentFilter{From: &from, To: &to, Method: "Cash"})
	require.NoError(t, err)

	require.Len(t, payments, 1)
	require.Equal(t, paymentID, payments[0].ID)
	require.Equal(t, day(2024, 6, 15), payments[0].Date)
	require.Equal(t, "12.34", payments[0].Amount.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoicesForPeriodPropagatesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	boom := errors.New("disk I/O error")
	mock.ExpectQuery("FROM invoices").WillReturnError(boom)

	_, err = NewWithDB(db).InvoicesForPeriod(context.Background(), uuid.New(), day(2024, 1, 1), day(2024, 1, 31))

	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInvoiceRollsBackOnLineFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	boom := errors.New("line insert failed")
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoices").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO invoice_items").WillReturnError(boom)
	mock.ExpectRollback()

	_, err = NewWithDB(db).CreateInvoice(context.Background(), uuid.New(), billing.CreateInvoiceInput{
		InvoiceNumber: "INV-1",
		IssuedDate:    day(2024, 1, 1),
		DueDate:       day(2024, 1, 31),
		Lines:         []billing.CreateInvoiceLineInput{{Description: "x"}},
	})

	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDateRejectsGarbage(t *testing.T) {
	_, err := parseDate("15/06/2024")
	require.Error(t, err)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
