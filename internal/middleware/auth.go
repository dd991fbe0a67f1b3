// Package middleware contains HTTP middleware for the Quill API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/quill/internal/auth"
	"github.com/DukeRupert/quill/internal/handler"
)

// =============================================================================
// Auth Middleware Configuration
// =============================================================================

// TokenVerifier validates a bearer token and returns the user it names.
type TokenVerifier interface {
	Verify(token string) (*auth.User, error)
}

// AuthMiddleware establishes the caller's identity from a bearer token.
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *slog.Logger

	// devUserID, when set, is used for requests without a token.
	// Only enabled in development.
	devUserID string
}

// NewAuthMiddleware creates a new AuthMiddleware instance. A non-empty
// devUserID authenticates token-less requests as that user.
func NewAuthMiddleware(verifier TokenVerifier, logger *slog.Logger, devUserID string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		logger:    logger,
		devUserID: devUserID,
	}
}

// =============================================================================
// WithUser Middleware
// =============================================================================

// WithUser attempts to load the user from the Authorization header and
// always continues to the next handler. Invalid tokens are ignored here;
// RequireUser rejects the request later.
func (m *AuthMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if m.devUserID != "" {
				noteUser(w, m.devUserID)
				r = r.WithContext(auth.SetUser(r.Context(), &auth.User{ID: m.devUserID}))
			}
			next.ServeHTTP(w, r)
			return
		}

		if m.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Info("rejected bearer token", "error", err, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		noteUser(w, user.ID)
		next.ServeHTTP(w, r.WithContext(auth.SetUser(r.Context(), user)))
	})
}

// noteUser records the user on the logging wrapper, if present.
func noteUser(w http.ResponseWriter, userID string) {
	if rw, ok := w.(*responseWriter); ok {
		rw.userID = userID
	}
}

// =============================================================================
// RequireUser Middleware
// =============================================================================

// RequireUser rejects requests without an authenticated user with 401.
// It must run after WithUser.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetUser(r.Context()) == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="quill"`)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(loggingMw.Handler, authMw.WithUser, authMw.RequireUser)
//	mux.Handle("GET /api/posts", stack(listHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var (
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).WithUser
	_ func(http.Handler) http.Handler = (&AuthMiddleware{}).RequireUser
)
