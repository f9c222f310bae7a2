package api

import (
	"log/slog"
	"net/http"

	"docpay-service/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Logger(logger))

	r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", h.RequestPayment)
		r.Post("/payments/callback", h.PaymentCallback)

		r.Get("/submissions/{id}", h.GetSubmission)
		r.Get("/submissions/{id}/poll", h.PollSubmission)
		r.Get("/submissions/{id}/download", h.DownloadLink)
	})

	return r
}
