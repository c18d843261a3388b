package business

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/XSAM/otelsql"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	// Register pgx driver
	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/yogamat/auth-session/internal/config"
	migrations "github.com/yogamat/auth-session/sql"
)

// MigrateMain applies the migrations of the postgres session backend.
func MigrateMain(ctx context.Context, cfg *config.Config) error {
	const driver = "pgx"
	dbSystemName := semconv.DBSystemNamePostgreSQL

	migrationsFS, err := migrationSource(cfg.Migrate)
	if err != nil {
		return err
	}

	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return fmt.Errorf("making connection string from config: %w", err)
	}

	db, err := otelsql.Open(driver, connStr, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return oops.In("main").Wrapf(err, "opening DB connection")
	}
	defer db.Close()

	reg, err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystemName))
	if err != nil {
		return fmt.Errorf("registering db stats metrics: %w", err)
	}

	defer func() {
		err = reg.Unregister()
		if err != nil {
			slogctx.Error(ctx, "failed to unregister db stats metrics", "error", err)
		}
	}()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrationsFS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		slogctx.Info(ctx, "Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}

	if len(results) == 0 {
		slogctx.Info(ctx, "Database schema is up to date")
	}

	return nil
}

// migrationSource returns the embedded migrations unless the config points
// to a directory with file://.
func migrationSource(cfg config.Migrate) (fs.FS, error) {
	if cfg.Source == "" {
		return migrations.FS, nil
	}

	dir, ok := strings.CutPrefix(cfg.Source, "file://")
	if !ok {
		return nil, fmt.Errorf("unsupported migration source %q", cfg.Source)
	}

	return os.DirFS(dir), nil
}
