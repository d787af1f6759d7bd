package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

type ServerOptions struct {
	// Limiter may be nil to disable rate limiting.
	Limiter *RateLimiter
	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Left off, the rate limit keys on the socket peer so clients cannot
	// pick their own bucket.
	TrustProxy bool
}

func NewServer(handler *Handler, opts ServerOptions) *Server {
	limiter := opts.Limiter
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/payments", handler.PaymentWebhook)

	r.Route("/orders/{orderNumber}", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Get("/", handler.GetOrder)
		r.Post("/payment", handler.StartPayment)
		if handler.Hub != nil {
			r.Get("/live", handler.LiveOrder)
		}
	})

	return &Server{Router: r}
}
