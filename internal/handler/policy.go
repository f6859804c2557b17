package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/coverchain/policy-server-go/internal/audit"
	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/middleware"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/service"
)

type CatalogService interface {
	Create(ctx context.Context, caller *model.Account, f service.PolicyFields) (*model.Policy, error)
	Update(ctx context.Context, caller *model.Account, id string, patch map[string]json.RawMessage) (*model.Policy, error)
	Get(ctx context.Context, id string) (*model.Policy, error)
	List(ctx context.Context, in service.ListPoliciesInput) (*service.PolicyPage, error)
	Delete(ctx context.Context, caller *model.Account, id string) error
}

type PurchaseService interface {
	ListOptions(ctx context.Context) ([]model.PolicyOption, error)
	Purchase(ctx context.Context, in service.PurchaseInput) (*service.PurchaseResult, error)
	Get(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error)
	Cancel(ctx context.Context, caller *model.Account, id string) (*model.Purchase, error)
}

type PolicyHandler struct {
	catalog   CatalogService
	purchases PurchaseService
	guards    Guards
}

func NewPolicyHandler(catalog CatalogService, purchases PurchaseService, guards Guards) *PolicyHandler {
	return &PolicyHandler{catalog: catalog, purchases: purchases, guards: guards}
}

func (h *PolicyHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(h.guards.optional()...)

		r.Get("/", h.List)
		r.Get("/options", h.Options)
		r.Get("/{id}", h.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.guards.authenticated()...)

		r.Post("/", h.Create)
		r.Patch("/{id}", h.Update)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/purchase", h.Purchase)
	})

	return r
}

func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var fields service.PolicyFields
	if _, err := decodeStrict(r, service.CreatePolicyFields, &fields); err != nil {
		writeError(w, err)
		return
	}

	caller := middleware.GetAccount(r.Context())
	policy, err := h.catalog.Create(r.Context(), caller, fields)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventPolicyCreate,
		ActorID: caller.ID,
		Details: map[string]interface{}{"policyId": policy.ID, "name": policy.Name},
	})
	writeJSON(w, http.StatusCreated, policy)
}

func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parseLimitOffset(r)
	if err != nil {
		writeError(w, err)
		return
	}
	active, err := queryBool(r, "active")
	if err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	in := service.ListPoliciesInput{
		Search: strings.TrimSpace(q.Get("search")),
		Sort:   q.Get("sort"),
		Active: active,
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if companyID := strings.TrimSpace(q.Get("companyId")); companyID != "" {
		in.CompanyID = &companyID
	}

	result, err := h.catalog.List(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PolicyHandler) Options(w http.ResponseWriter, r *http.Request) {
	options, err := h.purchases.ListOptions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": options})
}

func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeStrict(r, service.UpdatePolicyFields, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	caller := middleware.GetAccount(r.Context())
	policy, err := h.catalog.Update(r.Context(), caller, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}

	changed := make([]string, 0, len(patch))
	for k := range patch {
		changed = append(changed, k)
	}
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventPolicyUpdate,
		ActorID: caller.ID,
		Details: map[string]interface{}{"policyId": policy.ID, "fields": changed},
	})
	writeJSON(w, http.StatusOK, policy)
}

func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccount(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.catalog.Delete(r.Context(), caller, id); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventPolicyDelete,
		ActorID: caller.ID,
		Details: map[string]interface{}{"policyId": id},
	})
	w.WriteHeader(http.StatusNoContent)
}

// Purchase buys the policy for the account in the body, which defaults to
// the caller. Only administrators may buy on behalf of another account.
func (h *PolicyHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID      string `json:"accountId"`
		SelectedPeriod int    `json:"selectedPeriod"`
	}
	fields, err := decodeStrict(r, []string{"accountId", "selectedPeriod"}, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rawPresent(fields, "selectedPeriod") {
		writeError(w, apperrors.MissingFields([]string{"selectedPeriod"}))
		return
	}

	caller := middleware.GetAccount(r.Context())
	if req.AccountID == "" {
		req.AccountID = caller.ID
	}
	if req.AccountID != caller.ID && !caller.IsAdmin() {
		writeError(w, apperrors.Forbidden("Policies can only be purchased for your own account"))
		return
	}

	result, err := h.purchases.Purchase(r.Context(), service.PurchaseInput{
		AccountID:      req.AccountID,
		PolicyID:       chi.URLParam(r, "id"),
		SelectedPeriod: req.SelectedPeriod,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPurchaseCreate,
		ActorID:   caller.ID,
		AccountID: result.AccountID,
		Details: map[string]interface{}{
			"purchaseId":     result.PurchaseID,
			"policyId":       result.PolicyID,
			"selectedPeriod": result.SelectedPeriod,
		},
	})
	writeJSON(w, http.StatusCreated, result)
}
