package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/preorder/internal/models"
)

type queueResponse struct {
	Orders []*models.Order `json:"orders"`
	Count  int             `json:"count"`
}

type positionResponse struct {
	UserID   int64 `json:"user_id"`
	Queued   bool  `json:"queued"`
	Position int   `json:"position,omitempty"`
}

func (h *Handlers) Queue(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queue.Snapshot(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, queueResponse{Orders: orders, Count: len(orders)})
}

// QueuePosition reports the 1-based position of the user's earliest
// undelivered order.
func (h *Handlers) QueuePosition(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	position, ok, err := h.queue.PositionOf(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, positionResponse{UserID: userID, Queued: ok, Position: position})
}

func (h *Handlers) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	invoiceID := mux.Vars(r)["invoice_id"]
	if err := h.queue.MarkDelivered(r.Context(), invoiceID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("order marked delivered")
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]any{
		"invoice_id": invoiceID,
		"delivered":  true,
	})
}
