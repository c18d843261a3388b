package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/business/server"
	"github.com/yogamat/auth-session/internal/config"
	"github.com/yogamat/auth-session/internal/session"
	"github.com/yogamat/auth-session/internal/session/memory"
	sessionsql "github.com/yogamat/auth-session/internal/session/sql"
	sessionvalkey "github.com/yogamat/auth-session/internal/session/valkey"
)

const minCSRFSecretLength = 32

// Main starts the public API server
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// errChan is used to capture the first error and shutdown the servers.
	errChan := make(chan error, 1)

	// wg is used to wait for all servers to shutdown.
	var wg sync.WaitGroup

	// start public HTTP REST API server
	wg.Go(func() {
		errChan <- publicMain(ctx, cfg)
	})

	// wait for any error to initiate the shutdown
	if err := <-errChan; err != nil {
		slogctx.Error(ctx, "Shutting down servers", "error", err)
	}
	cancel()

	wg.Wait()

	return nil
}

// publicMain starts the HTTP REST public API server.
func publicMain(ctx context.Context, cfg *config.Config) error {
	manager, cookies, closeFn, err := initSessionManager(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the session manager: %w", err)
	}

	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, manager, cookies)
}

func initSessionManager(ctx context.Context, cfg *config.Config) (_ *session.Manager, _ *session.CookieCodec, closeFn func(), _ error) {
	csrfSecret, err := commoncfg.LoadValueFromSourceRef(cfg.Session.CSRFSecret)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading csrf token from source ref: %w", err)
	}

	if len(csrfSecret) < minCSRFSecretLength {
		return nil, nil, nil, errors.New("CSRF secret must be at least 32 bytes")
	}

	cookies, err := newCookieCodec(cfg.Session)
	if err != nil {
		return nil, nil, nil, err
	}

	client, err := session.NewClientConfig(&cfg.OAuth)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading oauth client: %w", err)
	}

	httpClient, err := loadHTTPClient(cfg.OAuth)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading http client: %w", err)
	}

	opts := []session.ManagerOption{
		session.WithHTTPClient(httpClient),
		session.WithCSRFSecret(csrfSecret),
	}

	if cfg.Audit.Endpoint != "" {
		auditLogger, err := otlpaudit.NewLogger(&cfg.Audit)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating audit logger: %w", err)
		}

		opts = append(opts, session.WithAuditLogger(auditLogger))
	}

	store, closeFn, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	slogctx.Info(ctx, "Session store ready", "backend", cfg.Session.Backend)

	return session.NewManager(client, store, opts...), cookies, closeFn, nil
}

func newCookieCodec(cfg config.Session) (*session.CookieCodec, error) {
	hashKey, err := commoncfg.LoadValueFromSourceRef(cfg.CookieHashKey)
	if err != nil {
		return nil, fmt.Errorf("loading cookie hash key from source ref: %w", err)
	}

	blockKey, err := commoncfg.LoadValueFromSourceRef(cfg.CookieBlockKey)
	if err != nil {
		return nil, fmt.Errorf("loading cookie block key from source ref: %w", err)
	}

	template := cfg.Cookie
	if template.MaxAge == 0 {
		template.MaxAge = int(cfg.Duration.Seconds())
	}

	cookies, err := session.NewCookieCodec(template, hashKey, blockKey)
	if err != nil {
		return nil, fmt.Errorf("creating cookie codec: %w", err)
	}

	return cookies, nil
}

// newStore opens the session backend selected in the config.
func newStore(ctx context.Context, cfg *config.Config) (_ session.Store, closeFn func(), _ error) {
	ttl := cfg.Session.Duration
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}

	switch cfg.Session.Backend {
	case config.SessionBackendMemory, "":
		return memory.NewStore(memory.WithTTL(ttl)), func() {}, nil
	case config.SessionBackendValKey:
		client, err := valkeyClientFromConfig(cfg.ValKey)
		if err != nil {
			return nil, nil, err
		}

		return sessionvalkey.NewStore(client, cfg.ValKey.Prefix, sessionvalkey.WithTTL(ttl)), client.Close, nil
	case config.SessionBackendPostgres:
		pool, err := newPostgresPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}

		return sessionsql.NewStore(pool, sessionsql.WithTTL(ttl)), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func valkeyClientFromConfig(cfg config.ValKey) (valkey.Client, error) {
	opts, err := config.MakeValKeyOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("making valkey options from config: %w", err)
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return client, nil
}

// newPostgresPool opens a pgx pool traced with OpenTelemetry.
func newPostgresPool(ctx context.Context, cfg config.Database) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(cfg)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}

	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("recording pgxpool stats: %w", err)
	}

	return pool, nil
}

// loadHTTPClient builds the client for the token and revocation endpoints.
func loadHTTPClient(cfg config.OAuthClient) (*http.Client, error) {
	client := &http.Client{Timeout: cfg.RequestTimeout}

	if cfg.MTLS == nil {
		return client, nil
	}

	tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.MTLS)
	if err != nil {
		return nil, fmt.Errorf("loading mTLS config: %w", err)
	}

	client.Transport = &http.Transport{
		TLSClientConfig: tlsConfig,
	}

	return client, nil
}
