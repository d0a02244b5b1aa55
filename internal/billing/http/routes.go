package billinghttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/odyssey-erp/customer-portal/internal/shared"
)

// MountRoutes registers the billing API onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.exportRate, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Group(func(r chi.Router) {
		r.Use(h.customerContext)

		r.Route("/api", func(r chi.Router) {
			r.Get("/dashboard/summary", h.handleSummary)
			r.Get("/dashboard/activity", h.handleActivity)

			r.Get("/invoices", h.handleListInvoices)
			r.Post("/invoices", h.handleCreateInvoice)
			r.Get("/invoices/open", h.handleOpenInvoices)
			r.Get("/invoices/{id}", h.handleInvoiceDetail)
			r.Post("/invoices/{id}/mark-paid", h.handleMarkPaid)

			r.Get("/payments", h.handleListPayments)
			r.Post("/payments", h.handleCreatePayment)

			r.Get("/statements", h.handleStatement)
			r.Get("/statements/current", h.handleCurrentStatement)
			r.Group(func(r chi.Router) {
				r.Use(limiter)
				r.Get("/statements/pdf", h.handlePDF)
				r.Get("/statements/csv", h.handleCSV)
				r.Post("/statements/exports", h.handleEnqueueExport)
			})
		})

		r.With(limiter).Get("/soa/pdf", h.handlePDF)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id := shared.CustomerFromContext(r.Context()); id != uuid.Nil {
		return "customer:" + id.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
