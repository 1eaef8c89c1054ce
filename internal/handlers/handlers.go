package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/gitshopapp/preorder/internal/logging"
	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/sellpass"
	"github.com/gitshopapp/preorder/internal/services"
	"github.com/gitshopapp/preorder/internal/session"
)

const maxRequestBodyBytes = 64 << 10

type checkoutService interface {
	CreateCryptoInvoice(ctx context.Context, input services.CreateInvoiceInput) (*services.CreateInvoiceResult, error)
	PayWithBalance(ctx context.Context, input services.BalanceOrderInput) (*models.Order, error)
	Invoice(ctx context.Context, invoiceID string) (*models.Invoice, error)
	Variants(ctx context.Context) ([]sellpass.Variant, error)
	RefreshVariants(ctx context.Context) error
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

type deliveryQueue interface {
	Snapshot(ctx context.Context) ([]*models.Order, error)
	PositionOf(ctx context.Context, userID int64) (int, bool, error)
	MarkDelivered(ctx context.Context, invoiceID string) error
}

type recoveryService interface {
	Recover(ctx context.Context) (int, error)
	Unreconciled(ctx context.Context) ([]*models.Invoice, error)
}

type pollerRegistry interface {
	Active() []services.TaskInfo
}

type sessionService interface {
	Login(ctx context.Context, userID int64, email, token string) (*session.Session, error)
	Lookup(ctx context.Context, userID int64) (*session.Session, error)
	Logout(ctx context.Context, userID int64) error
}

type otpClient interface {
	RequestOTP(ctx context.Context, email, recaptcha string) error
	VerifyOTP(ctx context.Context, email, otp, recaptcha string) (string, error)
}

// Handlers serves the admin JSON API.
type Handlers struct {
	adminToken string
	checkout   checkoutService
	queue      deliveryQueue
	recovery   recoveryService
	pollers    pollerRegistry
	sessions   sessionService
	otp        otpClient
	ping       func(ctx context.Context) error
	logger     *slog.Logger
}

type Dependencies struct {
	AdminToken string
	Checkout   checkoutService
	Queue      deliveryQueue
	Recovery   recoveryService
	Pollers    pollerRegistry
	Sessions   sessionService
	// OTP is optional; without it sessions can only be set from a token.
	OTP    otpClient
	Ping   func(ctx context.Context) error
	Logger *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if strings.TrimSpace(deps.AdminToken) == "" {
		return nil, fmt.Errorf("handlers dependencies: admin token is required")
	}
	if deps.Checkout == nil {
		return nil, fmt.Errorf("handlers dependencies: checkout is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("handlers dependencies: queue is required")
	}
	if deps.Recovery == nil {
		return nil, fmt.Errorf("handlers dependencies: recovery is required")
	}
	if deps.Pollers == nil {
		return nil, fmt.Errorf("handlers dependencies: pollers is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("handlers dependencies: sessions is required")
	}

	return &Handlers{
		adminToken: deps.AdminToken,
		checkout:   deps.Checkout,
		queue:      deps.Queue,
		recovery:   deps.Recovery,
		pollers:    deps.Pollers,
		sessions:   deps.Sessions,
		otp:        deps.OTP,
		ping:       deps.Ping,
		logger:     logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			logger.Error("storage health check failed", "error", err)
			writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}

	writeJSON(w, logger, http.StatusOK, map[string]any{
		"status":         "healthy",
		"active_pollers": len(h.pollers.Active()),
	})
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusNotFound, errorResponse{Error: "not found"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Server-side failures are
// logged and answered without internal detail.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := h.loggerFromContext(r.Context())
	status := statusForError(err)

	message := err.Error()
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusBadGateway:
		logger.Error("request failed", "error", err)
		message = http.StatusText(status)
	case status == http.StatusBadGateway:
		logger.Warn("upstream request failed", "error", err)
	default:
		logger.Info("request rejected", "status", status, "error", err)
	}

	writeJSON(w, logger, status, errorResponse{Error: message})
}

func statusForError(err error) int {
	var transientErr *models.TransientGatewayError
	var apiErr *sellpass.APIError
	var balanceErr *models.FulfillmentBalanceError

	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, sellpass.ErrCustomerNotFound),
		errors.Is(err, sellpass.ErrVariantNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateInvoice),
		errors.Is(err, services.ErrRequestInProgress),
		errors.Is(err, services.ErrAlreadyAttempted),
		errors.Is(err, services.ErrInvoiceNotCompleted),
		errors.Is(err, models.ErrInvalidStatusTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.As(err, &balanceErr),
		errors.As(err, &transientErr),
		errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", services.ErrValidation, err)
	}
	return nil
}

func userIDFromPath(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["user_id"]
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: invalid user id %q", services.ErrValidation, raw)
	}
	return userID, nil
}
