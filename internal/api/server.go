package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/testquill/hookd/internal/config"
	"github.com/testquill/hookd/internal/dispatch"
	"github.com/testquill/hookd/internal/metrics"
	"github.com/testquill/hookd/internal/realtime"
	"github.com/testquill/hookd/internal/storage"
)

type Server struct {
	cfg        config.ServerConfig
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
	plans      PlanChecker
	hub        *realtime.Hub
	router     *chi.Mux
	log        zerolog.Logger
	http       *http.Server
}

func NewServer(cfg config.ServerConfig, store storage.Storage, dispatcher *dispatch.Dispatcher, plans PlanChecker, hub *realtime.Hub, log zerolog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		plans:      plans,
		hub:        hub,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	whHandler := NewWebhookHandler(s.store, s.plans)
	dlvHandler := NewDeliveryHandler(s.store)
	evtHandler := NewEventHandler(s.dispatcher)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantMiddleware())

		// Webhook registration
		r.Post("/webhooks", whHandler.Create)
		r.Get("/webhooks", whHandler.List)
		r.Get("/webhooks/{id}", whHandler.Get)
		r.Put("/webhooks/{id}", whHandler.Update)
		r.Delete("/webhooks/{id}", whHandler.Delete)
		r.Patch("/webhooks/{id}/toggle", whHandler.Toggle)
		r.Post("/webhooks/{id}/rotate-secret", whHandler.RotateSecret)

		// Delivery history (read-only)
		r.Get("/webhooks/{id}/deliveries", dlvHandler.ListByWebhook)
		r.Get("/deliveries/{id}", dlvHandler.Get)

		// Event ingestion from domain services
		r.Post("/events", evtHandler.Emit)

		// Realtime delivery feed
		if s.hub != nil {
			r.Get("/events/ws", func(w http.ResponseWriter, r *http.Request) {
				s.hub.ServeHTTP(w, r, TenantFromContext(r.Context()))
			})
		}
	})

	return r
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
