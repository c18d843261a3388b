package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/session"
)

// createHTTPServer creates the public API http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, manager *session.Manager, cookies *session.CookieCodec) *http.Server {
	api := newAPIServer(cfg, manager, cookies)
	limiter := newLoginLimiter(cfg.RateLimit)

	route := func(operation string, h http.Handler) http.Handler {
		return newTraceMiddleware(cfg, operation)(h)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /login", route("login", limiter.middleware(http.HandlerFunc(api.Login))))
	mux.Handle("GET /login-uri", route("loginURI", limiter.middleware(http.HandlerFunc(api.LoginURI))))
	mux.Handle("GET /oauth-redirect", route("callback", http.HandlerFunc(api.Callback)))
	mux.Handle("POST /logout", route("logout", http.HandlerFunc(api.Logout)))
	mux.Handle("GET /session", route("session", http.HandlerFunc(api.Session)))

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: mux,
	}
}

// StartHTTPServer starts the HTTP server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, manager *session.Manager, cookies *session.CookieCodec) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, manager, cookies)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
