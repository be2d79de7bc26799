package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bizadmin/apiserver/internal/auth"
	"github.com/bizadmin/apiserver/internal/services"
	"github.com/bizadmin/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// AuthHandler serves the session lifecycle and user administration routes.
type AuthHandler struct {
	authService *services.AuthService
	userService *services.UserService
	cookie      auth.SessionCookie
	log         logrus.FieldLogger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(
	authService *services.AuthService,
	userService *services.UserService,
	cookie auth.SessionCookie,
	log logrus.FieldLogger,
) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
		cookie:      cookie,
		log:         log,
	}
}

// RouteOptions tunes access to the auth routes.
type RouteOptions struct {
	// UsersRequireAdmin puts the user listing and lookup behind an admin
	// session. They are public otherwise.
	UsersRequireAdmin bool
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler, session *SessionMiddleware, opts RouteOptions) {
	r.With(session.OptionalAuth).Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/refresh", handler.Refresh)
	r.Get("/verify", handler.Verify)
	r.Post("/logout", handler.Logout)

	r.Group(func(r chi.Router) {
		if opts.UsersRequireAdmin {
			r.Use(session.RequireAuth, RequireAdmin)
		}
		r.Get("/users", handler.ListUsers)
		r.Get("/users/{userID}", handler.GetUser)
	})

	r.Group(func(r chi.Router) {
		r.Use(session.RequireAuth)
		r.Get("/me", handler.Me)
		r.Put("/password", handler.ChangePassword)

		r.With(RequireAdmin).Delete("/users/{userID}", handler.DeleteUser)
	})
}

// Register creates an account. Admin callers may assign a role.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var actor *types.User
	if user, ok := UserFromContext(r.Context()); ok {
		actor = &user
	}

	result, err := h.authService.Register(r.Context(), services.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Role:            types.Role(strings.ToLower(strings.TrimSpace(req.Role))),
	}, actor)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Server error during registration")
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{
		Success:   true,
		Message:   "User registered successfully",
		User:      result.User,
		EmailSent: result.EmailSent,
	})
}

// Login verifies credentials, sets the session cookie and echoes the token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, strings.Join(verr.Problems, "; "))
			return
		}
		writeServiceError(w, r, h.log, err, "Server error during login")
		return
	}

	h.cookie.Set(w, session.Token, h.authService.TokenTTL())
	h.log.WithField("user_id", session.User.ID).Info("user logged in")

	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Message: "Login successful",
		Token:   session.Token,
		User:    newSessionUser(session.User),
	})
}

// Refresh re-verifies the cookie token and replaces it with a short-lived one.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.cookie.Read(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh token required")
		return
	}

	session, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionUserGone):
			writeError(w, http.StatusUnauthorized, "User not found")
		case isAuthFailure(err):
			writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		default:
			writeServiceError(w, r, h.log, err, "Server error during token refresh")
		}
		return
	}

	h.cookie.Set(w, session.Token, h.authService.RefreshTTL())
	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Token:   session.Token,
		User:    newSessionUser(session.User),
	})
}

// Verify only checks that a session cookie is present.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cookie.Read(r); err != nil {
		writeError(w, http.StatusUnauthorized, "No token found")
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Token exists"})
}

// Logout clears the session cookie. It always succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.cookie.Clear(w)
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Logged out successfully"})
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{Success: true, User: user})
}

// ChangePassword replaces the caller's password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.authService.ChangePassword(r.Context(), user.ID, services.ChangePasswordInput{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Current password is incorrect")
			return
		}
		writeServiceError(w, r, h.log, err, "Server error during password change")
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: "Password updated successfully"})
}

// ListUsers returns a page of users, newest first.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)

	result, err := h.userService.List(r.Context(), page, limit)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Unable to fetch users")
		return
	}

	users := make([]UserSummary, 0, len(result.Users))
	for _, u := range result.Users {
		users = append(users, newUserSummary(u))
	}

	writeJSON(w, http.StatusOK, UserListResponse{
		Success: true,
		Users:   users,
		Pagination: Pagination{
			CurrentPage: result.Page,
			TotalPages:  result.TotalPages,
			TotalUsers:  result.Total,
			Limit:       result.Limit,
		},
	})
}

// GetUser returns one user's directory entry.
func (h *AuthHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err, "Unable to fetch user")
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Success: true, User: newUserSummary(user)})
}

// DeleteUser removes an account. Admin only.
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
		return
	}

	id, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.userService.Delete(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, h.log, err, "Unable to delete user")
		return
	}

	h.log.WithFields(logrus.Fields{"user_id": id, "actor_id": actor.ID}).Info("user deleted")
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "User deleted successfully"})
}

type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Role            string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type RegisterResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	User      types.User `json:"user"`
	EmailSent *bool      `json:"emailSent,omitempty"`
}

// SessionUser is the identity echoed back by login and refresh.
type SessionUser struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newSessionUser(u types.User) SessionUser {
	return SessionUser{ID: u.ID, Name: u.Name, Email: u.Email}
}

type SessionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Token   string      `json:"token"`
	User    SessionUser `json:"user"`
}

type MeResponse struct {
	Success bool       `json:"success"`
	User    types.User `json:"user"`
}

type UserSummary struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      types.Role `json:"role"`
	CreatedAt time.Time  `json:"createdAt"`
}

func newUserSummary(u types.User) UserSummary {
	return UserSummary{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type UserResponse struct {
	Success bool        `json:"success"`
	User    UserSummary `json:"user"`
}

type Pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalUsers  int `json:"totalUsers"`
	Limit       int `json:"limit"`
}

type UserListResponse struct {
	Success    bool          `json:"success"`
	Users      []UserSummary `json:"users"`
	Pagination Pagination    `json:"pagination"`
}

func parseUserID(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "userID"))
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid user id")
	}
	return id, nil
}
