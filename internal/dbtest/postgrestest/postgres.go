package postgrestest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"

	slogctx "github.com/veqryn/slog-context"

	migrations "github.com/yogamat/auth-session/sql"
)

const (
	DBHost     = "localhost"
	DBUser     = "postgres"
	DBPassword = "secret"
	DBName     = "auth_session"
	DBSSLMode  = "disable"
)

// Start initialises a migrated database instance and returns a connection pool, database port, and termination function.
//
// Database credentials are available as exported constants.
func Start(ctx context.Context) (*pgxpool.Pool, nat.Port, func(ctx context.Context)) {
	pgContainer, err := postgres.Run(
		ctx,
		"postgres:17-alpine",
		postgres.WithDatabase(DBName),
		postgres.WithUsername(DBUser),
		postgres.WithPassword(DBPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		slogctx.Error(ctx, "Failed to start PostgreSQL", slog.String("error", err.Error()))
		panic(err)
	}

	port, err := pgContainer.MappedPort(ctx, nat.Port("5432"))
	if err != nil {
		slogctx.Error(ctx, "Failed to get mapped port for the PostgreSQL container", slog.String("error", err.Error()))
		panic(err)
	}

	migrateDB(ctx, port)
	dbPool := makeDBConn(ctx, port)

	terminate := func(ctx context.Context) {
		dbPool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate PostgreSQL container", slog.String("error", err.Error()))
			panic(err)
		}
	}

	return dbPool, port, terminate
}

// ConnStr returns the keyword/value connection string of the database.
func ConnStr(port nat.Port) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s", DBHost, DBUser, DBPassword, DBName, port.Port(), DBSSLMode)
}

func makeDBConn(ctx context.Context, port nat.Port) *pgxpool.Pool {
	pool, err := pgxpool.New(ctx, ConnStr(port))
	if err != nil {
		panic(err)
	}

	return pool
}

func migrateDB(ctx context.Context, port nat.Port) {
	db, err := sql.Open("pgx", ConnStr(port))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		panic(err)
	}

	if _, err := provider.Up(ctx); err != nil {
		panic(err)
	}
}
