package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/customer-portal/jobs"
)

// Enqueuer schedules statement renders.
type Enqueuer interface {
	EnqueueStatementRender(ctx context.Context, payload jobs.StatementRenderPayload) (*asynq.TaskInfo, error)
	Close() error
}

// Inspector reads queue state.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for statement jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		return nil, err
	}
	return NewJobsCLIWith(client, asynq.NewInspector(redisOpts)), nil
}

// NewJobsCLIWith builds the CLI from explicit collaborators.
func NewJobsCLIWith(client Enqueuer, inspector Inspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// StatementOptions defines the flags of the statement command.
type StatementOptions struct {
	Customer   string
	From       string
	To         string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatementResult is the JSON output of the statement command.
type StatementResult struct {
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
	Customer string `json:"customer"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// StatementCommand enqueues a statement render. Omitted dates leave the
// range to the worker, which renders the previous calendar month.
func (c *JobsCLI) StatementCommand(ctx context.Context, opts StatementOptions) int {
	opts.Stdout, opts.Stderr = outputs(opts.Stdout, opts.Stderr)
	if c == nil || c.client == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "statement: client not configured")
		return 1
	}
	payload, err := statementPayload(opts)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "statement: %v\n", err)
		return 1
	}
	info, err := c.client.EnqueueStatementRender(ctx, payload)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "statement: enqueue: %v\n", err)
		return 1
	}

	result := StatementResult{TaskID: info.ID, Queue: info.Queue, Customer: "default"}
	if payload.CustomerID != uuid.Nil {
		result.Customer = payload.CustomerID.String()
	}
	if payload.HasRange() {
		result.From = payload.From.Format(time.DateOnly)
		result.To = payload.To.Format(time.DateOnly)
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(result); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "statement: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	period := "previous month"
	if result.From != "" {
		period = result.From + " to " + result.To
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s on %s for customer %s (%s)\n", result.TaskID, result.Queue, result.Customer, period)
	return 0
}

func statementPayload(opts StatementOptions) (jobs.StatementRenderPayload, error) {
	var payload jobs.StatementRenderPayload
	if raw := strings.TrimSpace(opts.Customer); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return payload, fmt.Errorf("invalid customer %q", raw)
		}
		payload.CustomerID = id
	}
	from, to := strings.TrimSpace(opts.From), strings.TrimSpace(opts.To)
	if (from == "") != (to == "") {
		return payload, errors.New("--from and --to must be given together")
	}
	if from == "" {
		return payload, nil
	}
	var err error
	if payload.From, err = time.Parse(time.DateOnly, from); err != nil {
		return payload, fmt.Errorf("invalid from %q (expected YYYY-MM-DD)", from)
	}
	if payload.To, err = time.Parse(time.DateOnly, to); err != nil {
		return payload, fmt.Errorf("invalid to %q (expected YYYY-MM-DD)", to)
	}
	if payload.From.After(payload.To) {
		return payload, errors.New("--from is after --to")
	}
	return payload, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string   `json:"queue"`
	Pending   int      `json:"pending"`
	Active    int      `json:"active"`
	Scheduled int      `json:"scheduled"`
	Retry     int      `json:"retry"`
	Upcoming  []string `json:"upcoming,omitempty"`
}

// QueueOptions defines the flags of the queue command.
type QueueOptions struct {
	Scheduled  int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// QueueCommand prints default queue counters and the next scheduled tasks.
func (c *JobsCLI) QueueCommand(ctx context.Context, opts QueueOptions) int {
	opts.Stdout, opts.Stderr = outputs(opts.Stdout, opts.Stderr)
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "queue: %v\n", err)
		return 1
	}
	if opts.Scheduled > 0 {
		tasks, err := c.ListScheduled(ctx, opts.Scheduled)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "queue: list scheduled: %v\n", err)
			return 1
		}
		for _, task := range tasks {
			stats.Upcoming = append(stats.Upcoming, fmt.Sprintf("%s %s at %s", task.ID, task.Type, task.NextProcessAt.UTC().Format(time.RFC3339)))
		}
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "queue: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stdout, "queue %s: pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	for _, line := range stats.Upcoming {
		_, _ = fmt.Fprintf(opts.Stdout, "  %s\n", line)
	}
	return 0
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func outputs(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
