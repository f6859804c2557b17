package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coverchain/policy-server-go/internal/audit"
	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/middleware"
	"github.com/coverchain/policy-server-go/internal/model"
	"github.com/coverchain/policy-server-go/internal/service"
)

// AdminBootstrapHeader carries the one-time secret that authorizes creating
// the first administrator.
const AdminBootstrapHeader = "X-Admin-Bootstrap"

type AccountService interface {
	Register(ctx context.Context, caller *model.Account, in service.RegisterInput) (*model.Account, error)
	Authenticate(ctx context.Context, email, password string, category model.AccountCategory) (*service.LoginResult, error)
	Logout(ctx context.Context, account *model.Account) error
	Verify(ctx context.Context, caller *model.Account, accountID string) (*model.Account, error)
	List(ctx context.Context, caller *model.Account, page, limit int) (*service.AccountPage, error)
	SetWallet(ctx context.Context, caller *model.Account, address *string) (*model.Account, error)
}

type AccountPurchaseLister interface {
	ListForAccount(ctx context.Context, caller *model.Account, accountID string) ([]model.Purchase, error)
}

type AccountHandler struct {
	accounts  AccountService
	purchases AccountPurchaseLister
	guards    Guards
}

func NewAccountHandler(accounts AccountService, purchases AccountPurchaseLister, guards Guards) *AccountHandler {
	return &AccountHandler{accounts: accounts, purchases: purchases, guards: guards}
}

func (h *AccountHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(h.guards.optional()...).Post("/", h.Register)
	r.With(h.guards.login()...).Post("/session", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.guards.authenticated()...)

		r.Delete("/session", h.Logout)
		r.Get("/", h.List)
		r.Get("/me", h.Me)
		r.Patch("/me", h.UpdateMe)
		r.Post("/{id}/verify", h.Verify)
		r.Get("/{id}/purchases", h.Purchases)
	})

	return r
}

var registerFields = []string{
	"name", "email", "password", "role", "category",
	"walletAddress", "companyCode", "website", "contactPhone",
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string                `json:"name"`
		Email         string                `json:"email"`
		Password      string                `json:"password"`
		Role          model.AccountRole     `json:"role"`
		Category      model.AccountCategory `json:"category"`
		WalletAddress *string               `json:"walletAddress"`
		CompanyCode   *string               `json:"companyCode"`
		Website       *string               `json:"website"`
		ContactPhone  *string               `json:"contactPhone"`
	}
	if _, err := decodeStrict(r, registerFields, &req); err != nil {
		writeError(w, err)
		return
	}

	caller := middleware.GetAccount(r.Context())
	account, err := h.accounts.Register(r.Context(), caller, service.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		Role:            req.Role,
		Category:        req.Category,
		WalletAddress:   req.WalletAddress,
		CompanyCode:     req.CompanyCode,
		Website:         req.Website,
		ContactPhone:    req.ContactPhone,
		BootstrapSecret: r.Header.Get(AdminBootstrapHeader),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	event := audit.Event{
		Type:      audit.EventAccountRegister,
		AccountID: account.ID,
		Details:   map[string]interface{}{"category": string(account.Category), "role": string(account.Role)},
	}
	if caller != nil {
		event.ActorID = caller.ID
	}
	audit.LogFromRequest(r, event)

	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string                `json:"email"`
		Password string                `json:"password"`
		Category model.AccountCategory `json:"category"`
	}
	if _, err := decodeStrict(r, []string{"email", "password", "category"}, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password, req.Category)
	if err != nil {
		code := apperrors.GetCode(err)
		if code == apperrors.ErrCodeUnauthorized || code == apperrors.ErrCodeNotFound {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventLoginFailure,
				Details: map[string]interface{}{"reason": string(code)},
			})
		}
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLoginSuccess, AccountID: result.Account.ID})
	writeJSON(w, http.StatusOK, result)
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if err := h.accounts.Logout(r.Context(), account); err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventLogout, AccountID: account.ID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", service.DefaultPageLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.accounts.List(r.Context(), middleware.GetAccount(r.Context()), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.GetAccount(r.Context()))
}

// UpdateMe links a wallet address; an explicit null unlinks it.
func (h *AccountHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress *string `json:"walletAddress"`
	}
	fields, err := decodeStrict(r, []string{"walletAddress"}, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if !rawPresent(fields, "walletAddress") {
		writeError(w, apperrors.MissingFields([]string{"walletAddress"}))
		return
	}

	account, err := h.accounts.SetWallet(r.Context(), middleware.GetAccount(r.Context()), req.WalletAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) Verify(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetAccount(r.Context())
	id := chi.URLParam(r, "id")

	account, err := h.accounts.Verify(r.Context(), caller, id)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventCompanyVerify, ActorID: caller.ID, AccountID: id})
	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) Purchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := h.purchases.ListForAccount(r.Context(), middleware.GetAccount(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": purchases})
}

// rawPresent reports whether key was supplied, including as null.
func rawPresent(fields map[string]json.RawMessage, key string) bool {
	_, ok := fields[key]
	return ok
}
