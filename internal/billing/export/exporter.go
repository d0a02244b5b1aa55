package export

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/customer-portal/internal/billing"
)

// renderTimeout bounds a shared PDF render once it no longer follows the
// caller that started it.
const renderTimeout = 2 * time.Minute

// Exporter produces downloadable statements.
type Exporter struct {
	assembler *billing.Assembler
	renderer  *Renderer
	group     singleflight.Group
}

// NewExporter wires the statement assembler to the PDF renderer.
func NewExporter(assembler *billing.Assembler, renderer *Renderer) *Exporter {
	return &Exporter{assembler: assembler, renderer: renderer}
}

// PDF renders the statement for [from, to]. Concurrent calls for the same
// customer and range share one render. The render outlives any single
// caller; each caller still returns as soon as its own ctx is done.
func (e *Exporter) PDF(ctx context.Context, customerID uuid.UUID, from, to time.Time) ([]byte, error) {
	key := customerID.String() + ":" + from.Format(time.DateOnly) + ":" + to.Format(time.DateOnly)
	resultChan := e.group.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), renderTimeout)
		defer cancel()
		report, err := e.assembler.Assemble(ctx, customerID, from, to)
		if err != nil {
			return nil, err
		}
		return e.renderer.Render(ctx, Document{Customer: customerLabel(customerID), Report: report})
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// CSV writes the statement entries for [from, to] to w.
func (e *Exporter) CSV(ctx context.Context, w io.Writer, customerID uuid.UUID, from, to time.Time) error {
	entries, err := e.assembler.StatementEntries(ctx, customerID, from, to)
	if err != nil {
		return err
	}
	return WriteCSV(w, entries)
}

func customerLabel(customerID uuid.UUID) string {
	if customerID == uuid.Nil {
		return ""
	}
	return customerID.String()
}
