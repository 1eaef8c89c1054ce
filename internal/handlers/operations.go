package handlers

import (
	"net/http"

	"github.com/gitshopapp/preorder/internal/models"
	"github.com/gitshopapp/preorder/internal/services"
)

// RecoveryScan relaunches pollers for every invoice still awaiting payment.
// Invoices that already have a poller are skipped.
func (h *Handlers) RecoveryScan(w http.ResponseWriter, r *http.Request) {
	launched, err := h.recovery.Recover(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]int{"launched": launched})
}

func (h *Handlers) Pollers(w http.ResponseWriter, r *http.Request) {
	active := h.pollers.Active()
	if active == nil {
		active = []services.TaskInfo{}
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]any{
		"pollers": active,
		"count":   len(active),
	})
}

// Reconciliation lists paid invoices that never produced an order.
func (h *Handlers) Reconciliation(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.recovery.Unreconciled(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}
	writeJSON(w, h.loggerFromContext(r.Context()), http.StatusOK, map[string]any{
		"invoices": invoices,
		"count":    len(invoices),
	})
}
