package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/config"
	sessionsql "github.com/yogamat/auth-session/internal/session/sql"
)

// expiredSessionPurger is implemented by backends that do not expire
// sessions on their own.
type expiredSessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// HousekeeperMain starts the house keeping jobs
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	if cfg.Session.Backend != config.SessionBackendPostgres {
		slogctx.Info(ctx, "Session backend expires sessions on its own; nothing to do", "backend", cfg.Session.Backend)
		return nil
	}

	pool, err := newPostgresPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialise the session store: %w", err)
	}
	defer pool.Close()

	store := sessionsql.NewStore(pool)

	return runHousekeeping(ctx, store, cfg.Housekeeper.TriggerInterval)
}

// runHousekeeping purges expired sessions on every tick until ctx is done.
func runHousekeeping(ctx context.Context, purger expiredSessionPurger, interval time.Duration) error {
	c := time.Tick(interval)
	for {
		deleted, err := purger.DeleteExpired(ctx)
		if err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		} else {
			slogctx.Info(ctx, "Purged expired sessions", "count", deleted)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
