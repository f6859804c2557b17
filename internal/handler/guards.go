package handler

import (
	"net/http"

	"github.com/coverchain/policy-server-go/internal/middleware"
)

// Guards bundles the middleware every route group is built from.
type Guards struct {
	Auth *middleware.AuthMiddleware
	// RateLimit runs after authentication so callers are keyed by account.
	RateLimit func(http.Handler) http.Handler
	Login     func(http.Handler) http.Handler
	// Timeout bounds ordinary requests; the event stream is exempt.
	Timeout func(http.Handler) http.Handler
}

func (g Guards) authenticated() []func(http.Handler) http.Handler {
	return g.chain(g.Auth.Handler)
}

func (g Guards) optional() []func(http.Handler) http.Handler {
	return g.chain(g.Auth.Optional)
}

func (g Guards) chain(auth func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{auth}
	if g.Timeout != nil {
		chain = append(chain, g.Timeout)
	}
	if g.RateLimit != nil {
		chain = append(chain, g.RateLimit)
	}
	return chain
}

func (g Guards) login() []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if g.Timeout != nil {
		chain = append(chain, g.Timeout)
	}
	if g.Login != nil {
		chain = append(chain, g.Login)
	}
	return chain
}
