package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/preorder/internal/handlers"
)

type Server struct {
	port       string
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(port string, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if port == "" {
		return nil, fmt.Errorf("port is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		port:     port,
		logger:   logger,
		handlers: h,
	}

	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Router builds the admin API routes. Everything except /health requires the
// admin bearer token.
func (s *Server) Router() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.MetricsContext)
	r.Use(h.SecurityHeaders)
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")

	api := r.NewRoute().Subrouter()
	api.Use(h.RequireAdminToken)
	api.Use(h.LimitBody)

	api.HandleFunc("/invoices", h.CreateInvoice).Methods("POST").Name("invoices.create")
	api.HandleFunc("/invoices/{invoice_id}", h.GetInvoice).Methods("GET").Name("invoices.get")

	api.HandleFunc("/orders/balance", h.PayWithBalance).Methods("POST").Name("orders.balance")
	api.HandleFunc("/orders/{invoice_id}/deliver", h.MarkDelivered).Methods("POST").Name("orders.deliver")

	api.HandleFunc("/queue", h.Queue).Methods("GET").Name("queue")
	api.HandleFunc("/queue/{user_id:[0-9]+}", h.QueuePosition).Methods("GET").Name("queue.position")

	api.HandleFunc("/recovery/scan", h.RecoveryScan).Methods("POST").Name("recovery.scan")
	api.HandleFunc("/pollers", h.Pollers).Methods("GET").Name("pollers")
	api.HandleFunc("/reconciliation", h.Reconciliation).Methods("GET").Name("reconciliation")

	api.HandleFunc("/sessions/otp", h.RequestOTP).Methods("POST").Name("sessions.otp")
	api.HandleFunc("/sessions/{user_id:[0-9]+}", h.PutSession).Methods("PUT").Name("sessions.put")
	api.HandleFunc("/sessions/{user_id:[0-9]+}", h.GetSession).Methods("GET").Name("sessions.get")
	api.HandleFunc("/sessions/{user_id:[0-9]+}", h.DeleteSession).Methods("DELETE").Name("sessions.delete")

	api.HandleFunc("/variants", h.Variants).Methods("GET").Name("variants")
	api.HandleFunc("/variants/refresh", h.RefreshVariants).Methods("POST").Name("variants.refresh")
	api.HandleFunc("/balance/{user_id:[0-9]+}", h.Balance).Methods("GET").Name("balance")

	return r
}
