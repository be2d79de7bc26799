package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCookie_SetAndRead(t *testing.T) {
	c := NewSessionCookie("auth_token", true)
	rec := httptest.NewRecorder()

	c.Set(rec, "tok", 24*time.Hour)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	got := cookies[0]
	assert.Equal(t, "auth_token", got.Name)
	assert.Equal(t, "tok", got.Value)
	assert.Equal(t, "/", got.Path)
	assert.True(t, got.HttpOnly)
	assert.True(t, got.Secure)
	assert.Equal(t, http.SameSiteLaxMode, got.SameSite)
	assert.Equal(t, 86400, got.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(got)
	token, err := c.Read(req)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
}

func TestSessionCookie_ReadMissing(t *testing.T) {
	c := NewSessionCookie("", false)
	assert.Equal(t, "auth_token", c.Name)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := c.Read(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.AddCookie(&http.Cookie{Name: "auth_token", Value: ""})
	_, err = c.Read(req)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestSessionCookie_Clear(t *testing.T) {
	c := NewSessionCookie("auth_token", false)
	rec := httptest.NewRecorder()

	c.Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "auth_token", cookies[0].Name)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}
