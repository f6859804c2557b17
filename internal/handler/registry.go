package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coverchain/policy-server-go/internal/audit"
	"github.com/coverchain/policy-server-go/internal/middleware"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/registry"
	"github.com/coverchain/policy-server-go/internal/service"
)

type RegistryService interface {
	Status(ctx context.Context, address string) (*service.RegistryStatus, error)
	Stats(ctx context.Context) (*service.RegistryStats, error)
	PolicyDetails(ctx context.Context, rawID string) (*registry.PolicyDetails, error)
	PurchaseDetails(ctx context.Context, rawID string) (*registry.PurchaseDetails, error)
	Submissions(ctx context.Context, caller *model.Account, limit, offset int) ([]model.RegistrySubmission, error)
	SubmitAccountRegistration(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error)
	SubmitCompanyVerification(ctx context.Context, caller *model.Account, companyID string) (*model.RegistrySubmission, error)
	SubmitPolicy(ctx context.Context, caller *model.Account, policyID string) (*model.RegistrySubmission, error)
	SubmitPurchase(ctx context.Context, caller *model.Account, purchaseID string) (*model.RegistrySubmission, error)
	SubmitCancellation(ctx context.Context, caller *model.Account, purchaseID string) (*model.RegistrySubmission, error)
}

type RegistryHandler struct {
	registry RegistryService
	events   http.Handler
	guards   Guards
}

func NewRegistryHandler(registry RegistryService, events http.Handler, guards Guards) *RegistryHandler {
	return &RegistryHandler{registry: registry, events: events, guards: guards}
}

func (h *RegistryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.guards.optional()...)

		r.Get("/status/{address}", h.Status)
		r.Get("/stats", h.Stats)
		r.Get("/policies/{id}", h.Policy)
		r.Get("/purchases/{id}", h.Purchase)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.guards.authenticated()...)

		r.Get("/submissions", h.Submissions)
		r.Post("/accounts", h.SubmitAccount)
		r.Post("/companies/{id}/verify", h.SubmitCompanyVerification)
		r.Post("/policies/{id}", h.SubmitPolicy)
		r.Post("/purchases/{id}", h.SubmitPurchase)
		r.Post("/purchases/{id}/cancel", h.SubmitCancellation)
	})

	// EventSource cannot send headers; the auth middleware also reads ?token=.
	r.With(h.guards.Auth.Handler).Get("/events", h.events.ServeHTTP)

	return r
}

func (h *RegistryHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.Status(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *RegistryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RegistryHandler) Policy(w http.ResponseWriter, r *http.Request) {
	details, err := h.registry.PolicyDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *RegistryHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	details, err := h.registry.PurchaseDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *RegistryHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	page, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, err)
		return
	}

	subs, err := h.registry.Submissions(r.Context(), middleware.GetAccount(r.Context()), page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (h *RegistryHandler) SubmitAccount(w http.ResponseWriter, r *http.Request) {
	h.submitted(w, r, func(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
		return h.registry.SubmitAccountRegistration(ctx, caller)
	})
}

func (h *RegistryHandler) SubmitCompanyVerification(w http.ResponseWriter, r *http.Request) {
	h.submitted(w, r, func(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
		return h.registry.SubmitCompanyVerification(ctx, caller, chi.URLParam(r, "id"))
	})
}

func (h *RegistryHandler) SubmitPolicy(w http.ResponseWriter, r *http.Request) {
	h.submitted(w, r, func(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
		return h.registry.SubmitPolicy(ctx, caller, chi.URLParam(r, "id"))
	})
}

func (h *RegistryHandler) SubmitPurchase(w http.ResponseWriter, r *http.Request) {
	h.submitted(w, r, func(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
		return h.registry.SubmitPurchase(ctx, caller, chi.URLParam(r, "id"))
	})
}

func (h *RegistryHandler) SubmitCancellation(w http.ResponseWriter, r *http.Request) {
	h.submitted(w, r, func(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error) {
		return h.registry.SubmitCancellation(ctx, caller, chi.URLParam(r, "id"))
	})
}

// submitted runs a state-changing registry call. Submit endpoints take no
// body; any body sent must be an empty object.
func (h *RegistryHandler) submitted(
	w http.ResponseWriter,
	r *http.Request,
	submit func(ctx context.Context, caller *model.Account) (*model.RegistrySubmission, error),
) {
	if err := decodeOptional(r, nil, nil); err != nil {
		writeError(w, err)
		return
	}

	caller := middleware.GetAccount(r.Context())
	sub, err := submit(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventRegistrySubmit,
		ActorID: caller.ID,
		Details: map[string]interface{}{
			"submissionId": sub.ID,
			"kind":         string(sub.Kind),
			"subjectId":    sub.SubjectID,
			"txHash":       sub.TxHash,
		},
	})
	writeJSON(w, http.StatusCreated, sub)
}
