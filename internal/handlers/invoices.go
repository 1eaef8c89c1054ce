package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/preorder/internal/services"
)

type createInvoiceRequest struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	VariantID     string `json:"variant_id"`
	Quantity      int    `json:"quantity"`
	PaymentMethod string `json:"payment_method"`
}

type balanceOrderRequest struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// CreateInvoice opens a gateway payment and starts polling it.
func (h *Handlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.checkout.CreateCryptoInvoice(r.Context(), services.CreateInvoiceInput{
		UserID:        req.UserID,
		Username:      strings.TrimSpace(req.Username),
		VariantID:     strings.TrimSpace(req.VariantID),
		Quantity:      req.Quantity,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusCreated, result)
}

func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.checkout.Invoice(r.Context(), mux.Vars(r)["invoice_id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, invoice)
}

// PayWithBalance charges the stored balance. The Idempotency-Key header makes
// retries return the original order.
func (h *Handlers) PayWithBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.checkout.PayWithBalance(r.Context(), services.BalanceOrderInput{
		UserID:         req.UserID,
		Username:       strings.TrimSpace(req.Username),
		VariantID:      strings.TrimSpace(req.VariantID),
		Quantity:       req.Quantity,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusCreated, order)
}

func (h *Handlers) Variants(w http.ResponseWriter, r *http.Request) {
	variants, err := h.checkout.Variants(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]any{"variants": variants})
}

func (h *Handlers) RefreshVariants(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.RefreshVariants(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Variants(w, r)
}

func (h *Handlers) Balance(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	balance, err := h.checkout.Balance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}
