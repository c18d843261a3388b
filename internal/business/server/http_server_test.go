package server

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/session"
	"github.com/yogamat/auth-session/internal/session/memory"
)

func testDependencies(t *testing.T, cfg *config.Config) (*session.Manager, *session.CookieCodec) {
	t.Helper()

	client, err := session.NewClientConfig(&cfg.OAuth)
	require.NoError(t, err)

	cookies, err := session.NewCookieCodec(cfg.Session.Cookie,
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("0123456789abcdef"),
	)
	require.NoError(t, err)

	return session.NewManager(client, memory.NewStore()), cookies
}

func TestStartHTTPServer_ContextCancellation(t *testing.T) {
	tests := []struct {
		name    string
		address func(t *testing.T) string
	}{
		{
			name:    "TCP listener",
			address: func(*testing.T) string { return "localhost:0" },
		},
		{
			name: "Unix socket listener",
			address: func(t *testing.T) string {
				return "unix://" + filepath.Join(t.TempDir(), "api.sock")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())

			cfg := testConfig("https://auth.example.com")
			cfg.HTTP.Address = tt.address(t)
			manager, cookies := testDependencies(t, cfg)

			errChan := make(chan error, 1)
			go func() {
				errChan <- StartHTTPServer(ctx, cfg, manager, cookies)
			}()

			// Give the server a moment to start
			time.Sleep(100 * time.Millisecond)

			cancel()

			select {
			case err := <-errChan:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Server did not shut down within timeout")
			}
		})
	}
}

func TestStartHTTPServer_ListenFailure(t *testing.T) {
	cfg := testConfig("https://auth.example.com")
	cfg.HTTP.Address = "invalid-network://somewhere"
	manager, cookies := testDependencies(t, cfg)

	err := StartHTTPServer(t.Context(), cfg, manager, cookies)
	assert.Error(t, err)
}

func TestCreateHTTPServer(t *testing.T) {
	cfg := testConfig("https://auth.example.com")
	cfg.HTTP.Address = "localhost:8080"
	manager, cookies := testDependencies(t, cfg)

	server := createHTTPServer(t.Context(), cfg, manager, cookies)
	require.NotNil(t, server)
	assert.Equal(t, "localhost:8080", server.Addr)
	require.NotNil(t, server.Handler)

	tests := []struct {
		method  string
		path    string
		pattern string
	}{
		{method: http.MethodGet, path: "/login", pattern: "GET /login"},
		{method: http.MethodGet, path: "/login-uri", pattern: "GET /login-uri"},
		{method: http.MethodGet, path: "/oauth-redirect", pattern: "GET /oauth-redirect"},
		{method: http.MethodPost, path: "/logout", pattern: "POST /logout"},
		{method: http.MethodGet, path: "/session", pattern: "GET /session"},
	}

	mux, ok := server.Handler.(*http.ServeMux)
	require.True(t, ok)

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), tt.method, tt.path, nil)
			require.NoError(t, err)

			_, pattern := mux.Handler(req)
			assert.Equal(t, tt.pattern, pattern)
		})
	}
}
