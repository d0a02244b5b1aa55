package billinghttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/billing/export"
	"github.com/odyssey-erp/customer-portal/internal/platform/httpx"
	"github.com/odyssey-erp/customer-portal/internal/shared"
	"github.com/odyssey-erp/customer-portal/jobs"
)

// StatementExporter renders statements for download.
type StatementExporter interface {
	PDF(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]byte, error)
	CSV(ctx context.Context, w io.Writer, customerID uuid.UUID, from, to time.Time) error
}

// StatementEnqueuer schedules background statement renders.
type StatementEnqueuer interface {
	EnqueueStatementRender(ctx context.Context, payload jobs.StatementRenderPayload) (*asynq.TaskInfo, error)
}

// ExportObserver records the outcome of each statement download or enqueue.
type ExportObserver interface {
	ObserveExport(format string, err error)
}

// Config wires the handler's collaborators. Exporter and Enqueuer are
// optional; their routes answer 503 when unset.
type Config struct {
	Logger     *slog.Logger
	Dashboard  *billing.DashboardService
	Invoices   *billing.InvoiceService
	Payments   *billing.PaymentService
	Statements *billing.Assembler
	Exporter   StatementExporter
	Enqueuer   StatementEnqueuer

	// Idempotency dedupes create requests carrying an Idempotency-Key.
	Idempotency *shared.IdempotencyStore
	Metrics     ExportObserver

	// ExportsPerMinute bounds PDF, CSV and export requests per customer.
	ExportsPerMinute int
}

// Handler serves the customer billing API.
type Handler struct {
	logger     *slog.Logger
	dashboard  *billing.DashboardService
	invoices   *billing.InvoiceService
	payments   *billing.PaymentService
	statements *billing.Assembler
	exporter   StatementExporter
	enqueuer   StatementEnqueuer
	idempotent *shared.IdempotencyStore
	metrics    ExportObserver
	exportRate int
	csvPool    sync.Pool
	now        func() time.Time
}

// NewHandler constructs the billing HTTP handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rate := cfg.ExportsPerMinute
	if rate <= 0 {
		rate = 10
	}
	h := &Handler{
		logger:     logger,
		dashboard:  cfg.Dashboard,
		invoices:   cfg.Invoices,
		payments:   cfg.Payments,
		statements: cfg.Statements,
		exporter:   cfg.Exporter,
		enqueuer:   cfg.Enqueuer,
		idempotent: cfg.Idempotency,
		metrics:    cfg.Metrics,
		exportRate: rate,
		now:        time.Now,
	}
	if cfg.Statements != nil {
		h.now = cfg.Statements.Now
	}
	h.csvPool.New = func() interface{} { return new(bytes.Buffer) }
	return h
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dashboard.Summary(r.Context(), shared.CustomerFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r, "limit", billing.DefaultActivityLimit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	records, err := h.dashboard.RecentActivity(r.Context(), shared.CustomerFromContext(r.Context()), limit)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(records))
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	filter, page, size, err := h.invoiceFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.invoices.List(r.Context(), shared.CustomerFromContext(r.Context()), filter, page, size)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	result.Items = nonNil(result.Items)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleOpenInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.invoices.Open(r.Context(), shared.CustomerFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(invoices))
}

func (h *Handler) handleInvoiceDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	detail, err := h.invoices.Detail(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, validationError{field: "request body"})
		return
	}
	input, err := req.input()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	customerID := shared.CustomerFromContext(r.Context())
	release, ok := h.claim(w, r, "invoices:"+customerID.String())
	if !ok {
		return
	}
	id, err := h.invoices.Create(r.Context(), customerID, input)
	if err != nil {
		release()
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/invoices/"+id.String())
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.invoices.MarkPaidOffline(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	filter, err := paymentFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	payments, err := h.payments.List(r.Context(), shared.CustomerFromContext(r.Context()), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(payments))
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, validationError{field: "request body"})
		return
	}
	input, err := req.input()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	customerID := shared.CustomerFromContext(r.Context())
	release, ok := h.claim(w, r, "payments:"+customerID.String())
	if !ok {
		return
	}
	id, err := h.payments.Create(r.Context(), customerID, input)
	if err != nil {
		release()
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleCurrentStatement(w http.ResponseWriter, r *http.Request) {
	report, err := h.statements.CurrentReport(r.Context(), shared.CustomerFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	report.Entries = nonNil(report.Entries)
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.statementRange(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	report, err := h.statements.Assemble(r.Context(), shared.CustomerFromContext(r.Context()), from, to)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	report.Entries = nonNil(report.Entries)
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handlePDF(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "pdf export is not configured")
		return
	}
	from, to, err := h.statementRange(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	pdf, err := h.exporter.PDF(r.Context(), shared.CustomerFromContext(r.Context()), from, to)
	h.observeExport("pdf", err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", export.FileName))
	if _, err := w.Write(pdf); err != nil {
		h.logError("stream pdf", err)
	}
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "csv export is not configured")
		return
	}
	from, to, err := h.statementRange(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	buf := h.csvPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		buf.Reset()
		h.csvPool.Put(buf)
	}()

	err = h.exporter.CSV(r.Context(), buf, shared.CustomerFromContext(r.Context()), from, to)
	h.observeExport("csv", err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("statement-%s-%s.csv", from.Format(time.DateOnly), to.Format(time.DateOnly))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logError("stream csv", err)
	}
}

func (h *Handler) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background exports are not configured")
		return
	}
	var req exportRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			h.respondError(w, r, validationError{field: "request body"})
			return
		}
	}
	from, to := billing.CurrentPeriod(h.now().UTC())
	var err error
	if req.From != "" {
		if from, err = parseDate(req.From); err != nil {
			h.respondError(w, r, validationError{field: "from"})
			return
		}
	}
	if req.To != "" {
		if to, err = parseDate(req.To); err != nil {
			h.respondError(w, r, validationError{field: "to"})
			return
		}
	}
	if from.After(to) {
		h.respondError(w, r, validationError{field: "range: from is after to"})
		return
	}

	customerID := shared.CustomerFromContext(r.Context())
	info, err := h.enqueuer.EnqueueStatementRender(r.Context(), jobs.StatementRenderPayload{
		CustomerID: customerID,
		From:       from,
		To:         to,
	})
	h.observeExport("enqueue", err)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info("statement export enqueued",
		slog.String("task_id", info.ID),
		slog.String("customer_id", customerID.String()),
	)
	httpx.JSON(w, http.StatusAccepted, map[string]string{
		"task_id": info.ID,
		"queue":   info.Queue,
		"from":    from.Format(time.DateOnly),
		"to":      to.Format(time.DateOnly),
	})
}

func (h *Handler) observeExport(format string, err error) {
	if h.metrics != nil {
		h.metrics.ObserveExport(format, err)
	}
}

// claim reserves the request's idempotency key. ok is false when the key was
// already used and the response has been written. release undoes the claim.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request, module string) (release func(), ok bool) {
	release = func() {}
	key := strings.TrimSpace(r.Header.Get(shared.IdempotencyHeader))
	if key == "" || h.idempotent == nil {
		return release, true
	}
	err := h.idempotent.CheckAndInsert(r.Context(), key, module)
	switch {
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", "a request with this idempotency key was already processed")
		return nil, false
	case err != nil:
		h.logger.Warn("idempotency check skipped", slog.Any("error", err))
		return release, true
	}
	ctx := context.WithoutCancel(r.Context())
	return func() {
		if err := h.idempotent.Release(ctx, key, module); err != nil {
			h.logger.Warn("idempotency release", slog.Any("error", err))
		}
	}, true
}

// respondError maps billing failures onto problem documents.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var resolution *billing.ResolutionError
	switch {
	case errors.As(err, &resolution):
		httpx.Problem(w, http.StatusNotFound, "Customer Not Found", resolution.Error())
		return
	case errors.Is(err, billing.ErrNotFound):
		err = fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, billing.ErrInvalidInput):
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, billing.ErrDuplicate):
		err = fmt.Errorf("%w: %v", httpx.ErrDuplicate, err)
	case errors.Is(err, httpx.ErrValidation):
	default:
		h.logger.Error("billing request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err)
}

func (h *Handler) logError(msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
