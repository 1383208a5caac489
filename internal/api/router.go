package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the HTTP surface. Extra middlewares run after request id
// assignment and panic recovery.
func Router(h *Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mws...)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("sms-mailing"))
	})
	r.Get("/v1/health", h.Health)

	r.Post("/send", h.Submit)
	r.Post("/send/", h.Submit)
	r.Get("/ws", h.StatusSocket)
	r.Get("/v1/mailings", h.ListMailings)
	r.Post("/smsc/callback", h.DeliveryCallback)

	r.Get("/v1/poller/status", h.PollerStatus)
	r.Post("/v1/poller/start", h.PollerStart)
	r.Post("/v1/poller/stop", h.PollerStop)

	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}
