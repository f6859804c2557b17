package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/coverchain/policy-server-go/internal/audit"
	apperrors "github.com/coverchain/policy-server-go/internal/errors"
	"github.com/coverchain/policy-server-go/internal/httputil"
	"github.com/coverchain/policy-server-go/internal/model"
)

type contextKey string

const AccountContextKey contextKey = "account"

func GetAccount(ctx context.Context) *model.Account {
	if account, ok := ctx.Value(AccountContextKey).(*model.Account); ok {
		return account
	}
	return nil
}

// WithAccount stores the authenticated account in ctx.
func WithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, AccountContextKey, account)
}

// TokenValidator resolves a bearer token to an account, or nil when the token
// is unknown or expired.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Account, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handler rejects requests without a valid session token.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		account, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: session lookup failed")
			httputil.WriteError(w, apperrors.Database(err))
			return
		}

		if account == nil {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventAuthFailure})
			httputil.WriteError(w, apperrors.InvalidToken("Invalid or expired token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// Optional attaches the account when a valid token is present and otherwise
// lets the request through anonymously.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		account, err := m.validator.ValidateToken(r.Context(), token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: optional session lookup failed")
		}
		if account != nil {
			r = r.WithContext(WithAccount(r.Context(), account))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after Handler.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetAccount(r.Context()).IsAdmin() {
			httputil.WriteError(w, apperrors.Forbidden("Administrator access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractToken reads the bearer token. The query parameter exists for
// EventSource clients, which cannot set headers.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
