package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	jobmetrics "github.com/odyssey-erp/customer-portal/internal/jobs"
	"github.com/odyssey-erp/customer-portal/jobs"
)

// JobConfig wires dependencies required by the worker job.
type JobConfig struct {
	Exporter   *Exporter
	StorageDir string
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Now        func() time.Time
}

// Job renders statements queued as jobs.TaskStatementRender and stores the PDF.
type Job struct {
	exporter   *Exporter
	storageDir string
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
	now        func() time.Time
}

// NewJob constructs a Job handler.
func NewJob(cfg JobConfig) *Job {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{exporter: cfg.Exporter, storageDir: cfg.StorageDir, logger: logger, metrics: cfg.Metrics, now: now}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil {
		return fmt.Errorf("statement job not configured")
	}
	return j.metrics.Track(jobs.TaskStatementRender).End(j.handle(ctx, task))
}

func (j *Job) handle(ctx context.Context, task *asynq.Task) error {
	if j.exporter == nil {
		return fmt.Errorf("statement job not configured")
	}
	var payload jobs.StatementRenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode statement payload: %v: %w", err, asynq.SkipRetry)
	}
	from, to := payload.From, payload.To
	if !payload.HasRange() {
		from, to = PreviousPeriod(j.now())
	}
	if from.After(to) {
		return fmt.Errorf("statement range %s..%s: %w", from.Format(time.DateOnly), to.Format(time.DateOnly), asynq.SkipRetry)
	}

	pdf, err := j.exporter.PDF(ctx, payload.CustomerID, from, to)
	if err != nil {
		if billing.IsResolutionError(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	path, err := j.save(payload.CustomerID, from, to, pdf)
	if err != nil {
		return err
	}
	j.metrics.AddBytes(jobs.TaskStatementRender, len(pdf))
	j.logger.Info("statement rendered",
		slog.String("customer_id", payload.CustomerID.String()),
		slog.String("file", path),
		slog.Int("bytes", len(pdf)))
	return nil
}

// StoredFileName names the stored PDF for a customer and range.
func StoredFileName(customerID uuid.UUID, from, to time.Time) string {
	customer := "default"
	if customerID != uuid.Nil {
		customer = customerID.String()
	}
	return fmt.Sprintf("statement-%s-%s-%s.pdf", customer, from.Format(time.DateOnly), to.Format(time.DateOnly))
}

func (j *Job) save(customerID uuid.UUID, from, to time.Time, pdf []byte) (string, error) {
	dir := j.storageDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "statements")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, StoredFileName(customerID, from, to))
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// PreviousPeriod returns the calendar month before the one containing now.
func PreviousPeriod(now time.Time) (time.Time, time.Time) {
	start, _ := billing.CurrentPeriod(now)
	return billing.CurrentPeriod(start.AddDate(0, 0, -1))
}
