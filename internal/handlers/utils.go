package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bizadmin/apiserver/internal/auth"
	"github.com/bizadmin/apiserver/internal/services"
	"github.com/bizadmin/apiserver/types"
	"github.com/sirupsen/logrus"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100

	maxBodyBytes = 1 << 20
)

type contextKey string

const contextUserKey contextKey = "user"

// Response is the envelope shared by every endpoint.
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// UserFromContext returns the user attached by RequireAuth or OptionalAuth.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

// writeServiceError maps the service error taxonomy onto HTTP. Anything it
// does not recognise is logged and reported as fallback with status 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error, fallback string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Message: "Validation failed",
			Errors:  verr.Problems,
		})
	case errors.Is(err, services.ErrConflict):
		writeError(w, http.StatusBadRequest, "User already exists with this email")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, auth.ErrNoToken):
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "Token expired. Please login again.")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "Invalid token.")
	case errors.Is(err, services.ErrSessionUserGone):
		writeError(w, http.StatusUnauthorized, "Invalid token. User not found.")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "Admin access required")
	case errors.Is(err, services.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	default:
		requestLogger(log, r).WithError(err).Error(fallback)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func requestLogger(log logrus.FieldLogger, r *http.Request) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
}

// parsePagination reads page and limit, falling back to the defaults for
// missing, malformed or non-positive values.
func parsePagination(r *http.Request) (page, limit int) {
	page = queryInt(r, "page", defaultPage)
	limit = queryInt(r, "limit", defaultLimit)
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", auth.ErrNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", auth.ErrTokenInvalid
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", auth.ErrNoToken
	}
	return token, nil
}
