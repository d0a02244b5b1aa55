package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/odyssey-erp/customer-portal/internal/billing"
	"github.com/odyssey-erp/customer-portal/web"
)

// FileName is the download name of a rendered statement.
const FileName = "statement-of-account.pdf"

const generatedLayout = "2006-01-02 15:04"

// PDFClient exposes the subset of the report client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Document is a statement ready for rendering.
type Document struct {
	Customer string
	Report   billing.StatementReport
}

type statementRow struct {
	Date        string
	Description string
	Debit       string
	Credit      string
	Balance     string
}

type statementView struct {
	PeriodStart    string
	PeriodEnd      string
	Customer       string
	Currency       string
	Rows           []statementRow
	ClosingBalance string
	GeneratedAt    string
}

// Renderer turns statements into PDF via html/template and Gotenberg.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
	format Formatter
	now    func() time.Time
}

// NewRenderer parses the statement template and wires the PDF client.
func NewRenderer(client PDFClient, format Formatter, now func() time.Time) (*Renderer, error) {
	if client == nil {
		return nil, fmt.Errorf("statement renderer: pdf client required")
	}
	if now == nil {
		now = time.Now
	}
	tpl, err := template.ParseFS(web.Templates, "templates/reports/statement.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client, format: format, now: now}, nil
}

// HTML executes the template for doc.
func (r *Renderer) HTML(doc Document) (string, error) {
	if r == nil || r.tpl == nil {
		return "", fmt.Errorf("statement renderer not initialised")
	}
	stmt := doc.Report.Statement
	view := statementView{
		PeriodStart:    r.format.Date(stmt.PeriodStart),
		PeriodEnd:      r.format.Date(stmt.PeriodEnd),
		Customer:       doc.Customer,
		Currency:       r.format.Currency(),
		Rows:           make([]statementRow, 0, len(doc.Report.Entries)),
		ClosingBalance: r.format.Amount(stmt.ClosingBalance),
		GeneratedAt:    r.now().Format(generatedLayout),
	}
	for _, e := range doc.Report.Entries {
		view.Rows = append(view.Rows, statementRow{
			Date:        r.format.Date(e.Date),
			Description: e.Description,
			Debit:       r.format.OptionalAmount(e.Debit),
			Credit:      r.format.OptionalAmount(e.Credit),
			Balance:     r.format.Amount(e.Balance),
		})
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render executes the template and converts the HTML to PDF bytes.
func (r *Renderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	html, err := r.HTML(doc)
	if err != nil {
		return nil, err
	}
	return r.client.RenderHTML(ctx, html)
}
