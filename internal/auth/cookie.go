package auth

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookie moves the session token between client and server in an
// http-only cookie.
type SessionCookie struct {
	Name   string
	Secure bool
}

func NewSessionCookie(name string, secure bool) SessionCookie {
	if strings.TrimSpace(name) == "" {
		name = "auth_token"
	}
	return SessionCookie{Name: name, Secure: secure}
}

// Read returns the token carried by the request, or ErrNoToken.
func (c SessionCookie) Read(r *http.Request) (string, error) {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return "", ErrNoToken
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", ErrNoToken
	}
	return value, nil
}

// Set writes the token with the given lifetime.
func (c SessionCookie) Set(w http.ResponseWriter, token string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge),
	})
}

// Clear instructs the client to drop the cookie.
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
