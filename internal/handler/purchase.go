package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coverchain/policy-server-go/internal/audit"
	"github.com/coverchain/policy-server-go/internal/middleware"
)

type PurchaseHandler struct {
	purchases PurchaseService
	guards    Guards
}

func NewPurchaseHandler(purchases PurchaseService, guards Guards) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, guards: guards}
}

func (h *PurchaseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.guards.authenticated()...)

	r.Get("/{id}", h.Get)
	r.Post("/{id}/cancel", h.Cancel)

	return r
}

func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.purchases.Get(r.Context(), middleware.GetAccount(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (h *PurchaseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccount(r.Context())
	purchase, err := h.purchases.Cancel(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPurchaseCancel,
		ActorID:   caller.ID,
		AccountID: purchase.AccountID,
		Details:   map[string]interface{}{"purchaseId": purchase.ID},
	})
	writeJSON(w, http.StatusOK, purchase)
}
