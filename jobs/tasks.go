package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatementRender renders a statement of account PDF to storage.
	TaskStatementRender = "statement:render"
)

// StatementRenderPayload identifies the statement to render. A nil customer
// means the default customer; zero dates mean the previous calendar month.
type StatementRenderPayload struct {
	CustomerID uuid.UUID `json:"customer_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

// HasRange reports whether both bounds are set.
func (p StatementRenderPayload) HasRange() bool {
	return !p.From.IsZero() && !p.To.IsZero()
}

// NewStatementRenderTask constructs an Asynq task.
func NewStatementRenderTask(payload StatementRenderPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatementRender, data, asynq.MaxRetry(5), asynq.Timeout(2*time.Minute)), nil
}
