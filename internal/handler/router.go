package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/referral-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware реферального леджера.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	// Процессор подписывает исходные байты, поэтому вебхук идёт мимо gzip.
	r.Post("/payments/events", h.PaymentEvents)

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Route("/api/checkout", func(r chi.Router) {
			r.Use(custommiddleware.ServiceToken(h.opts.ServiceToken))

			r.Post("/validate", h.ValidateCode)
			r.Post("/redemptions", h.CreateRedemption)
		})

		r.Group(func(r chi.Router) {
			if len(h.opts.AllowedOrigins) > 0 {
				r.Use(cors.Handler(cors.Options{
					AllowedOrigins:   h.opts.AllowedOrigins,
					AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
					AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
					AllowCredentials: true,
					MaxAge:           300,
				}))
			}
			r.Use(h.authMiddleware.Middleware)

			r.Route("/api/member", func(r chi.Router) {
				r.Get("/referral", h.GetReferral)
				r.Get("/referral/qr", h.GetReferralQR)
				r.Post("/referral/notice/dismiss", h.DismissNotice)

				r.Get("/payouts", h.ListMemberPayouts)
				r.Post("/payouts", h.Withdraw)

				r.Post("/connect/onboarding", h.StartOnboarding)
				r.Get("/connect/dashboard", h.DashboardLink)
			})

			r.Route("/api/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireAdmin)

				r.Post("/codes/regenerate", h.RegenerateAllCodes)
				r.Post("/codes/{ownerID}/regenerate", h.RegenerateCode)
				r.Post("/notices/reset", h.ResetNotices)

				r.Post("/transfers", h.CreateTransfer)
				r.Post("/transfers/batch", h.CreateBatchTransfer)
				r.Post("/transfers/{transferRef}/cancel", h.CancelTransfer)
				r.Post("/payouts/manual", h.RecordManualPayout)
				r.Get("/payouts", h.ListPayouts)
				r.Get("/payouts/export", h.ExportPayouts)

				r.Get("/webhooks", h.ListWebhooks)
				r.Get("/balance", h.GetBalance)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
