package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/internal/billing/store/memory"
	jobmetrics "github.com/odyssey-erp/customer-portal/internal/jobs"
	"github.com/odyssey-erp/customer-portal/jobs"
)

type fakePDFClient struct {
	mu       sync.Mutex
	calls    int32
	lastHTML string
	release  chan struct{}
	err      error
}

func (c *fakePDFClient) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	atomic.AddInt32(&c.calls, 1)
	c.mu.Lock()
	c.lastHTML = html
	c.mu.Unlock()
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return []byte("%PDF-1.7 statement"), nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func usd(t *testing.T) Formatter {
	t.Helper()
	f, err := NewFormatter("usd")
	require.NoError(t, err)
	return f
}

func seededStore(t *testing.T) (*memory.Store, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	customerID := uuid.New()
	require.NoError(t, store.CreateCustomer(ctx, billing.Customer{ID: customerID, CustomerNumber: "C-001", Name: "Acme", CreditLimit: amount("5000")}))
	_, err := store.CreateInvoice(ctx, customerID, billing.CreateInvoiceInput{
		InvoiceNumber: "INV-1", IssuedDate: date(2024, 6, 1), DueDate: date(2024, 7, 1),
		Lines: []billing.CreateInvoiceLineInput{{Description: "Plan", Quantity: amount("1"), UnitPrice: amount("1250")}},
	})
	require.NoError(t, err)
	_, err = store.CreatePayment(ctx, customerID, billing.CreatePaymentInput{PaymentRef: "PAY-1", Date: date(2024, 6, 15), Amount: amount("200"), Method: "Card"})
	require.NoError(t, err)
	return store, customerID
}

func newExporter(t *testing.T, store *memory.Store, client PDFClient) *Exporter {
	t.Helper()
	renderer, err := NewRenderer(client, usd(t), func() time.Time { return time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC) })
	require.NoError(t, err)
	return NewExporter(billing.NewAssembler(store, store, nil), renderer)
}

func TestFormatter(t *testing.T) {
	f := usd(t)

	require.Equal(t, "USD", f.Currency())
	require.Equal(t, "1,234.50", f.Amount(amount("1234.5")))
	require.Equal(t, "0.00", f.Amount(decimal.Zero))
	require.Equal(t, "", f.OptionalAmount(decimal.Zero))
	require.Equal(t, "2024-02-29", f.Date(date(2024, 2, 29)))

	_, err := NewFormatter("dollars")
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	entries := billing.Accumulate(billing.BuildEntries(
		[]billing.InvoiceSummary{{InvoiceNumber: "INV-1", IssuedDate: date(2024, 6, 1), TotalAmount: amount("500")}},
		[]billing.PaymentSummary{{PaymentRef: "PAY, 1", Method: "Cash", Date: date(2024, 6, 2), Amount: amount("120.5")}},
	))
	var buf bytes.Buffer

	require.NoError(t, WriteCSV(&buf, entries))

	require.Equal(t, "date,description,debit,credit,balance\r\n"+
		"2024-06-01,Invoice INV-1,500.00,0.00,500.00\r\n"+
		"2024-06-02,\"Payment PAY, 1 (Cash)\",0.00,120.50,379.50\r\n", buf.String())
}

func TestWriteCSVHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	require.Equal(t, "date,description,debit,credit,balance\r\n", buf.String())
}

func TestRendererHTML(t *testing.T) {
	store, customerID := seededStore(t)
	client := &fakePDFClient{}
	exporter := newExporter(t, store, client)

	pdf, err := exporter.PDF(context.Background(), customerID, date(2024, 6, 1), date(2024, 6, 30))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	html := client.lastHTML
	require.Contains(t, html, "Period 2024-06-01 to 2024-06-30")
	require.Contains(t, html, "Invoice INV-1")
	require.Contains(t, html, "Payment PAY-1 (Card)")
	require.Contains(t, html, "1,250.00")
	require.Contains(t, html, "Closing Balance: 1,050.00")
	require.Contains(t, html, "Generated on 2024-07-01 09:30")
}

func TestRendererEscapesDescriptions(t *testing.T) {
	renderer, err := NewRenderer(&fakePDFClient{}, usd(t), nil)
	require.NoError(t, err)

	html, err := renderer.HTML(Document{Report: billing.StatementReport{
		Entries: []billing.LedgerEntry{{Date: date(2024, 1, 1), Description: "Invoice <script>"}},
	}})
	require.NoError(t, err)

	require.NotContains(t, html, "<script>")
	require.Contains(t, html, "Invoice &lt;script&gt;")
}

func TestRendererEmptyStatement(t *testing.T) {
	renderer, err := NewRenderer(&fakePDFClient{}, usd(t), nil)
	require.NoError(t, err)

	html, err := renderer.HTML(Document{})
	require.NoError(t, err)
	require.Contains(t, html, "No activity in this period.")
	require.Contains(t, html, "Closing Balance: 0.00")
}

func TestNewRendererRequiresClient(t *testing.T) {
	_, err := NewRenderer(nil, usd(t), nil)
	require.Error(t, err)
}

func TestPDFSharesConcurrentRenders(t *testing.T) {
	store, customerID := seededStore(t)
	client := &fakePDFClient{release: make(chan struct{})}
	exporter := newExporter(t, store, client)

	var wg sync.WaitGroup
	results := make([][]byte, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pdf, err := exporter.PDF(context.Background(), customerID, date(2024, 6, 1), date(2024, 6, 30))
			assert.NoError(t, err)
			results[i] = pdf
		}(i)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&client.calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&client.calls))
	for _, pdf := range results {
		require.Equal(t, "%PDF-1.7 statement", string(pdf))
	}
}

func TestPDFSurvivesCancelledLeader(t *testing.T) {
	store, customerID := seededStore(t)
	client := &fakePDFClient{release: make(chan struct{})}
	exporter := newExporter(t, store, client)
	from, to := date(2024, 6, 1), date(2024, 6, 30)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := exporter.PDF(leaderCtx, customerID, from, to)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&client.calls) == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		pdf []byte
		err error
	}
	follower := make(chan result, 1)
	go func() {
		pdf, err := exporter.PDF(context.Background(), customerID, from, to)
		follower <- result{pdf, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(client.release)
	got := <-follower
	require.NoError(t, got.err)
	require.Equal(t, "%PDF-1.7 statement", string(got.pdf))
	require.Equal(t, int32(1), atomic.LoadInt32(&client.calls))
}

func TestCSVPropagatesResolutionError(t *testing.T) {
	exporter := newExporter(t, memory.New(), &fakePDFClient{})
	var buf bytes.Buffer

	err := exporter.CSV(context.Background(), &buf, uuid.Nil, date(2024, 1, 1), date(2024, 1, 31))

	require.True(t, billing.IsResolutionError(err))
	require.Zero(t, buf.Len())
}

func renderTask(t *testing.T, payload jobs.StatementRenderPayload) *asynq.Task {
	t.Helper()
	task, err := jobs.NewStatementRenderTask(payload)
	require.NoError(t, err)
	return task
}

func TestJobStoresRenderedStatement(t *testing.T) {
	store, customerID := seededStore(t)
	dir := t.TempDir()
	job := NewJob(JobConfig{
		Exporter:   newExporter(t, store, &fakePDFClient{}),
		StorageDir: dir,
		Metrics:    jobmetrics.NewMetrics(prometheus.NewRegistry()),
	})

	err := job.Handle(context.Background(), renderTask(t, jobs.StatementRenderPayload{CustomerID: customerID, From: date(2024, 6, 1), To: date(2024, 6, 30)}))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, StoredFileName(customerID, date(2024, 6, 1), date(2024, 6, 30))))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 statement", string(data))
}

func TestJobDefaultsToPreviousMonth(t *testing.T) {
	store, _ := seededStore(t)
	dir := t.TempDir()
	job := NewJob(JobConfig{
		Exporter:   newExporter(t, store, &fakePDFClient{}),
		StorageDir: dir,
		Now:        func() time.Time { return date(2024, 7, 1) },
	})

	require.NoError(t, job.Handle(context.Background(), renderTask(t, jobs.StatementRenderPayload{})))

	_, err := os.Stat(filepath.Join(dir, "statement-default-2024-06-01-2024-06-30.pdf"))
	require.NoError(t, err)
}

func TestJobSkipsRetryForBadInput(t *testing.T) {
	job := NewJob(JobConfig{Exporter: newExporter(t, memory.New(), &fakePDFClient{}), StorageDir: t.TempDir()})
	ctx := context.Background()

	err := job.Handle(ctx, asynq.NewTask(jobs.TaskStatementRender, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(ctx, renderTask(t, jobs.StatementRenderPayload{From: date(2024, 2, 1), To: date(2024, 1, 1)}))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(ctx, renderTask(t, jobs.StatementRenderPayload{From: date(2024, 1, 1), To: date(2024, 1, 31)}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.True(t, billing.IsResolutionError(err))
}

func TestJobRetriesRenderFailures(t *testing.T) {
	store, customerID := seededStore(t)
	boom := errors.New("gotenberg unavailable")
	job := NewJob(JobConfig{Exporter: newExporter(t, store, &fakePDFClient{err: boom}), StorageDir: t.TempDir()})

	err := job.Handle(context.Background(), renderTask(t, jobs.StatementRenderPayload{CustomerID: customerID, From: date(2024, 6, 1), To: date(2024, 6, 30)}))

	require.ErrorIs(t, err, boom)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestPreviousPeriod(t *testing.T) {
	from, to := PreviousPeriod(time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC))
	require.Equal(t, date(2024, 2, 1), from)
	require.Equal(t, date(2024, 2, 29), to)

	from, to = PreviousPeriod(date(2024, 1, 15))
	require.Equal(t, date(2023, 12, 1), from)
	require.Equal(t, date(2023, 12, 31), to)
}

func TestStoredFileName(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	name := StoredFileName(id, date(2024, 6, 1), date(2024, 6, 30))
	require.True(t, strings.HasPrefix(name, "statement-11111111-2222-3333-4444-555555555555-"))
	require.True(t, strings.HasSuffix(name, "2024-06-01-2024-06-30.pdf"))
}
