package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/customer-portal/internal/app"
	"github.com/odyssey-erp/customer-portal/internal/billing"
)

var demoCustomers = []billing.Customer{
	{
		ID:             uuid.MustParse("6b1f0c6e-3f7d-4a55-9b1e-000000000001"),
		CustomerNumber: "CUST-0001",
		Name:           "Northwind Traders",
		CreditLimit:    decimal.RequireFromString("25000"),
		Billing:        billing.Address{Line1: "12 Harbour Rd", City: "Seattle", State: "WA", PostalCode: "98101", Country: "US"},
		Shipping:       billing.Address{Line1: "400 Dock St", Line2: "Bay 7", City: "Tacoma", State: "WA", PostalCode: "98402", Country: "US"},
	},
	{
		ID:             uuid.MustParse("6b1f0c6e-3f7d-4a55-9b1e-000000000002"),
		CustomerNumber: "CUST-0002",
		Name:           "Contoso Ltd",
		CreditLimit:    decimal.RequireFromString("10000"),
		Billing:        billing.Address{Line1: "1 Market St", City: "London", PostalCode: "EC1A 1BB", Country: "GB"},
		Shipping:       billing.Address{Line1: "1 Market St", City: "London", PostalCode: "EC1A 1BB", Country: "GB"},
	},
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	if cfg.StoreDriver == app.DriverMemory {
		logger.Warn("seeding the memory store has no lasting effect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, release, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer release()

	if err := seed(ctx, store, logger, time.Now().UTC()); err != nil {
		logger.Error("seed", slog.Any("error", err))
		release()
		os.Exit(1)
	}
	logger.Info("seed complete", slog.Int("customers", len(demoCustomers)))
}

func seed(ctx context.Context, store app.Store, logger *slog.Logger, now time.Time) error {
	invoices := billing.NewInvoiceService(store, billing.ServiceConfig{Logger: logger})
	payments := billing.NewPaymentService(store, billing.ServiceConfig{Logger: logger})
	monthStart, _ := billing.CurrentPeriod(now)

	for i, customer := range demoCustomers {
		if err := store.CreateCustomer(ctx, customer); err != nil && !errors.Is(err, billing.ErrDuplicate) {
			return fmt.Errorf("customer %s: %w", customer.CustomerNumber, err)
		}
		for m := 2; m >= 0; m-- {
			issued := monthStart.AddDate(0, -m, 4+i)
			status := billing.InvoicePaid
			if m == 0 {
				status = billing.InvoicePending
			} else if m == 1 {
				status = billing.InvoiceOverdue
			}
			input := billing.CreateInvoiceInput{
				InvoiceNumber:  fmt.Sprintf("INV-%s-%s", issued.Format("200601"), customer.CustomerNumber[5:]),
				IssuedDate:     issued,
				DueDate:        issued.AddDate(0, 0, 30),
				Status:         status,
				DiscountAmount: decimal.RequireFromString("25"),
				TaxAmount:      decimal.RequireFromString("42.50"),
				Lines: []billing.CreateInvoiceLineInput{
					{Description: "Platform subscription", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("750")},
					{Description: "Support hours", Quantity: decimal.NewFromInt(int64(3 + m)), UnitPrice: decimal.RequireFromString("85")},
				},
			}
			_, err := invoices.Create(ctx, customer.ID, input)
			if errors.Is(err, billing.ErrDuplicate) {
				logger.Info("invoice already seeded", slog.String("invoice", input.InvoiceNumber))
				continue
			}
			if err != nil {
				return fmt.Errorf("invoice %s: %w", input.InvoiceNumber, err)
			}
			if status != billing.InvoicePaid {
				continue
			}
			payment := billing.CreatePaymentInput{
				PaymentRef: fmt.Sprintf("PAY-%s-%s", issued.Format("200601"), customer.CustomerNumber[5:]),
				Date:       issued.AddDate(0, 0, 14),
				Amount:     input.Total(),
				Method:     "Bank Transfer",
			}
			if _, err := payments.Create(ctx, customer.ID, payment); err != nil {
				return fmt.Errorf("payment %s: %w", payment.PaymentRef, err)
			}
		}
	}
	return nil
}
