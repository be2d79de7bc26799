package handlers

import (
	"errors"
	"net/http"

	"github.com/bizadmin/apiserver/internal/auth"
	"github.com/bizadmin/apiserver/internal/services"
	"github.com/sirupsen/logrus"
)

// SessionMiddleware resolves the session token of a request to a user.
type SessionMiddleware struct {
	authService *services.AuthService
	cookie      auth.SessionCookie
	log         logrus.FieldLogger
}

func NewSessionMiddleware(authService *services.AuthService, cookie auth.SessionCookie, log logrus.FieldLogger) *SessionMiddleware {
	return &SessionMiddleware{
		authService: authService,
		cookie:      cookie,
		log:         log,
	}
}

// RequireAuth rejects requests without a valid session and attaches the
// freshly loaded user to the request context.
func (m *SessionMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.token(r)
		if err != nil {
			writeServiceError(w, r, m.log, err, "Server error during authentication")
			return
		}

		user, err := m.authService.Authenticate(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, m.log, err, "Server error during authentication")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the session user when the request carries a valid
// token and otherwise continues anonymously.
func (m *SessionMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := m.token(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.authService.Authenticate(r.Context(), token)
		if err != nil {
			if isAuthFailure(err) {
				next.ServeHTTP(w, r)
				return
			}
			writeServiceError(w, r, m.log, err, "Server error during authentication")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// token reads the session cookie, falling back to a bearer header for
// non-browser clients.
func (m *SessionMiddleware) token(r *http.Request) (string, error) {
	if token, err := m.cookie.Read(r); err == nil {
		return token, nil
	}
	return bearerToken(r)
}

func isAuthFailure(err error) bool {
	return errors.Is(err, auth.ErrNoToken) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenInvalid) ||
		errors.Is(err, services.ErrSessionUserGone)
}
