package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ServiceConfig carries the collaborators shared by the billing services.
type ServiceConfig struct {
	Cache     *Cache
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Publisher == nil {
		c.Publisher = NopPublisher{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// cached serves loader through the versioned cache, falling back to a
// direct load when the version cannot be read.
func cached[T any](ctx context.Context, cache *Cache, logger *slog.Logger, parts []string, loader func(context.Context) (T, error)) (T, error) {
	key, err := cache.BuildKey(ctx, parts...)
	if err != nil {
		logger.Warn("billing cache key", slog.Any("error", err))
		return loader(ctx)
	}
	return FetchJSON(ctx, cache, key, loader)
}

// invalidate bumps the cache and publishes event; failures are logged only.
func invalidate(ctx context.Context, cfg ServiceConfig, event Event) {
	if err := cfg.Cache.Bump(ctx); err != nil {
		cfg.Logger.Warn("billing cache bump", slog.Any("error", err))
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = cfg.Now().UTC()
	}
	if err := cfg.Publisher.Publish(ctx, event); err != nil {
		cfg.Logger.Warn("billing publish event",
			slog.String("type", event.Type),
			slog.String("customer_id", event.CustomerID.String()),
			slog.Any("error", err))
	}
}

// DashboardService serves the customer dashboard.
type DashboardService struct {
	invoices InvoiceRepository
	payments PaymentRepository
	cfg      ServiceConfig
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(invoices InvoiceRepository, payments PaymentRepository, cfg ServiceConfig) *DashboardService {
	return &DashboardService{invoices: invoices, payments: payments, cfg: cfg.withDefaults()}
}

// Summary returns the credit position for the customer.
func (s *DashboardService) Summary(ctx context.Context, customerID uuid.UUID) (DashboardSummary, error) {
	return cached(ctx, s.cfg.Cache, s.cfg.Logger, keyDashboard(customerID), func(ctx context.Context) (DashboardSummary, error) {
		return s.invoices.DashboardSummary(ctx, customerID)
	})
}

// RecentActivity returns up to limit invoice and payment events, newest first.
func (s *DashboardService) RecentActivity(ctx context.Context, customerID uuid.UUID, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		return []ActivityRecord{}, nil
	}
	return cached(ctx, s.cfg.Cache, s.cfg.Logger, keyActivity(customerID, limit), func(ctx context.Context) ([]ActivityRecord, error) {
		invoiceActivity, err := s.invoices.InvoiceActivity(ctx, customerID, limit)
		if err != nil {
			return nil, err
		}
		paymentActivity, err := s.payments.PaymentActivity(ctx, customerID, limit)
		if err != nil {
			return nil, err
		}
		return MergeActivity(invoiceActivity, paymentActivity, limit), nil
	})
}

// InvoiceService manages invoices.
type InvoiceService struct {
	repo      InvoiceRepository
	validator *validator.Validate
	cfg       ServiceConfig
}

// NewInvoiceService constructs an InvoiceService.
func NewInvoiceService(repo InvoiceRepository, cfg ServiceConfig) *InvoiceService {
	return &InvoiceService{repo: repo, validator: NewValidator(), cfg: cfg.withDefaults()}
}

// List returns one page of the customer's invoices.
func (s *InvoiceService) List(ctx context.Context, customerID uuid.UUID, filter InvoiceFilter, page, pageSize int) (InvoicePage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return InvoicePage{}, fmt.Errorf("%w: unknown invoice status %q", ErrInvalidInput, filter.Status)
	}
	if filter.MinAmount != nil && filter.MaxAmount != nil && filter.MinAmount.GreaterThan(*filter.MaxAmount) {
		return InvoicePage{}, fmt.Errorf("%w: min amount exceeds max amount", ErrInvalidInput)
	}
	page, pageSize = NormalizePage(page, pageSize)
	return s.repo.ListInvoices(ctx, customerID, filter, page, pageSize)
}

// Open returns pending and overdue invoices ordered by due date.
func (s *InvoiceService) Open(ctx context.Context, customerID uuid.UUID) ([]InvoiceSummary, error) {
	return s.repo.OpenInvoices(ctx, customerID)
}

// Detail returns a single invoice with its line items.
func (s *InvoiceService) Detail(ctx context.Context, invoiceID uuid.UUID) (InvoiceDetail, error) {
	if invoiceID == uuid.Nil {
		return InvoiceDetail{}, ErrNotFound
	}
	return s.repo.GetInvoice(ctx, invoiceID)
}

// Create validates and stores a new invoice with its lines.
func (s *InvoiceService) Create(ctx context.Context, customerID uuid.UUID, input CreateInvoiceInput) (uuid.UUID, error) {
	input.InvoiceNumber = strings.TrimSpace(input.InvoiceNumber)
	if input.Status == "" {
		input.Status = InvoicePending
	}
	if err := s.validator.Struct(input); err != nil {
		return uuid.Nil, validationError(err)
	}
	if input.Total().IsNegative() {
		return uuid.Nil, fmt.Errorf("%w: discount exceeds invoice amount", ErrInvalidInput)
	}
	resolved, err := s.repo.ResolveCustomer(ctx, customerID)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := s.repo.CreateInvoice(ctx, resolved, input)
	if err != nil {
		return uuid.Nil, err
	}
	invalidate(ctx, s.cfg, Event{
		Type:       EventInvoiceCreated,
		CustomerID: resolved,
		SubjectID:  id,
		Reference:  input.InvoiceNumber,
		Amount:     input.Total(),
	})
	return id, nil
}

// MarkPaidOffline flags an invoice as settled outside the portal.
func (s *InvoiceService) MarkPaidOffline(ctx context.Context, invoiceID uuid.UUID) error {
	detail, err := s.Detail(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := s.repo.MarkInvoicePaidOffline(ctx, invoiceID); err != nil {
		return err
	}
	invalidate(ctx, s.cfg, Event{
		Type:       EventInvoicePaidOffline,
		CustomerID: detail.CustomerID,
		SubjectID:  detail.ID,
		Reference:  detail.InvoiceNumber,
		Amount:     detail.TotalAmount,
	})
	return nil
}

// PaymentService manages payments.
type PaymentService struct {
	repo      PaymentRepository
	validator *validator.Validate
	cfg       ServiceConfig
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(repo PaymentRepository, cfg ServiceConfig) *PaymentService {
	return &PaymentService{repo: repo, validator: NewValidator(), cfg: cfg.withDefaults()}
}

// List returns payments matching filter, newest first.
func (s *PaymentService) List(ctx context.Context, customerID uuid.UUID, filter PaymentFilter) ([]PaymentSummary, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("%w: from is after to", ErrInvalidInput)
	}
	return s.repo.ListPayments(ctx, customerID, filter)
}

// Create records an offline payment.
func (s *PaymentService) Create(ctx context.Context, customerID uuid.UUID, input CreatePaymentInput) (uuid.UUID, error) {
	input.PaymentRef = strings.TrimSpace(input.PaymentRef)
	input.Method = strings.TrimSpace(input.Method)
	if err := s.validator.Struct(input); err != nil {
		return uuid.Nil, validationError(err)
	}
	resolved, err := s.repo.ResolveCustomer(ctx, customerID)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := s.repo.CreatePayment(ctx, resolved, input)
	if err != nil {
		return uuid.Nil, err
	}
	invalidate(ctx, s.cfg, Event{
		Type:       EventPaymentRecorded,
		CustomerID: resolved,
		SubjectID:  id,
		Reference:  input.PaymentRef,
		Amount:     input.Amount,
	})
	return id, nil
}
