//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bizadmin/apiserver/config"
	"github.com/bizadmin/apiserver/internal/db"
	"github.com/bizadmin/apiserver/internal/logging"
	"github.com/bizadmin/apiserver/internal/server"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	setTestEnv()

	if err := dockerCompose(ctx, root, "up", "-d", "postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestSessionLifecycle(t *testing.T) {
	client := newClient(t)
	email := fmt.Sprintf("ann_%d@example.com", time.Now().UnixNano())

	status, body := postJSON(t, client, "/auth/register", map[string]string{
		"name":            "Ann",
		"email":           email,
		"password":        "secret1",
		"confirmPassword": "secret1",
	})
	if status != http.StatusCreated {
		t.Fatalf("register status %d: %s", status, body)
	}

	status, body = postJSON(t, client, "/auth/register", map[string]string{
		"name":            "Ann Again",
		"email":           strings.ToUpper(email),
		"password":        "secret1",
		"confirmPassword": "secret1",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate register status %d: %s", status, body)
	}

	status, body = postJSON(t, client, "/auth/login", map[string]string{"email": email, "password": "secret1"})
	if status != http.StatusOK {
		t.Fatalf("login status %d: %s", status, body)
	}
	if !hasSessionCookie(t, client) {
		t.Fatalf("expected session cookie after login")
	}

	if status, body := get(t, client, "/auth/verify"); status != http.StatusOK {
		t.Fatalf("verify status %d: %s", status, body)
	}
	if status, body := get(t, client, "/auth/me"); status != http.StatusOK {
		t.Fatalf("me status %d: %s", status, body)
	}
	if status, body := postJSON(t, client, "/auth/refresh", nil); status != http.StatusOK {
		t.Fatalf("refresh status %d: %s", status, body)
	}

	for range 2 {
		if status, body := postJSON(t, client, "/auth/logout", nil); status != http.StatusOK {
			t.Fatalf("logout status %d: %s", status, body)
		}
	}
	if hasSessionCookie(t, client) {
		t.Fatalf("expected session cookie to be cleared")
	}
	if status, _ := get(t, client, "/auth/verify"); status != http.StatusUnauthorized {
		t.Fatalf("verify after logout status %d", status)
	}
}

func TestUserDirectoryAndAdminDelete(t *testing.T) {
	suffix := time.Now().UnixNano()
	adminEmail := fmt.Sprintf("admin_%d@example.com", suffix)
	memberEmail := fmt.Sprintf("member_%d@example.com", suffix)

	admin := newClient(t)
	member := newClient(t)

	for _, email := range []string{adminEmail, memberEmail} {
		status, body := postJSON(t, admin, "/auth/register", map[string]string{
			"name":            "User",
			"email":           email,
			"password":        "secret1",
			"confirmPassword": "secret1",
		})
		if status != http.StatusCreated {
			t.Fatalf("register %s status %d: %s", email, status, body)
		}
	}
	if err := promoteUserToAdmin(adminEmail); err != nil {
		t.Fatalf("promote user: %v", err)
	}

	login(t, admin, adminEmail)
	login(t, member, memberEmail)

	status, body := get(t, member, "/auth/users?page=1&limit=100")
	if status != http.StatusOK {
		t.Fatalf("listing status %d: %s", status, body)
	}
	var listing struct {
		Users []struct {
			ID    int    `json:"id"`
			Email string `json:"email"`
		} `json:"users"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	memberID := 0
	for _, u := range listing.Users {
		if u.Email == memberEmail {
			memberID = u.ID
		}
	}
	if memberID == 0 {
		t.Fatalf("member %s missing from listing", memberEmail)
	}

	if status, _ := do(t, member, http.MethodDelete, fmt.Sprintf("/auth/users/%d", memberID), nil); status != http.StatusForbidden {
		t.Fatalf("member delete status %d", status)
	}

	status, body = do(t, admin, http.MethodDelete, fmt.Sprintf("/auth/users/%d", memberID), nil)
	if status != http.StatusOK {
		t.Fatalf("delete status %d: %s", status, body)
	}

	status, body = get(t, member, "/auth/me")
	if status != http.StatusUnauthorized || !strings.Contains(string(body), "User not found") {
		t.Fatalf("deleted member session: status %d: %s", status, body)
	}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func login(t *testing.T, client *http.Client, email string) {
	t.Helper()
	status, body := postJSON(t, client, "/auth/login", map[string]string{"email": email, "password": "secret1"})
	if status != http.StatusOK {
		t.Fatalf("login %s status %d: %s", email, status, body)
	}
}

func hasSessionCookie(t *testing.T, client *http.Client) bool {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == "auth_token" && c.Value != "" {
			return true
		}
	}
	return false
}

func get(t *testing.T, client *http.Client, path string) (int, []byte) {
	t.Helper()
	return do(t, client, http.MethodGet, path, nil)
}

func postJSON(t *testing.T, client *http.Client, path string, payload any) (int, []byte) {
	t.Helper()
	return do(t, client, http.MethodPost, path, payload)
}

func do(t *testing.T, client *http.Client, method, path string, payload any) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, bytes.TrimSpace(data)
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, "UPDATE users SET role = 'admin', updated_at = NOW() WHERE email = $1", email)
	return err
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsURL := "file://" + filepath.Join(root, "internal", "db", "migrations")

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func setTestEnv() {
	_ = os.Setenv("ENV", "test")
	_ = os.Setenv("JWT_SECRET", "e2e-secret-0123456789abcdef0123456789")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "bizadmin")
	_ = os.Setenv("DB_PASSWORD", "bizadmin")
	_ = os.Setenv("DB_NAME", "bizadmin")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("BCRYPT_COST", "4")
	_ = os.Setenv("LOG_LEVEL", "warn")
}

func startServer() (*server.Server, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	srv, err := server.New(context.Background(), cfg, logging.New(cfg.Log))
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
