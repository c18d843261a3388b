// Package sessionsql keeps sessions in the login_sessions table of postgres.
// Each session field is a nullable column named after the field.
package sessionsql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yogamat/auth-session/internal/serviceerr"
	"github.com/yogamat/auth-session/internal/session"
)

const expiresAtExpr = `now() + make_interval(secs => $1::double precision)`

type Store struct {
	db  *pgxpool.Pool
	ttl time.Duration
}

var _ session.Store = (*Store)(nil)

type Option func(*Store)

// WithTTL overrides session.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func NewStore(db *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		db:  db,
		ttl: session.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Create(ctx context.Context) (session.Handle, error) {
	h, err := session.NewHandle()
	if err != nil {
		return "", err
	}

	if _, err := s.db.Exec(ctx,
		`INSERT INTO login_sessions (handle, created_at, expires_at) VALUES ($2, now(), `+expiresAtExpr+`);`,
		s.ttl.Seconds(), string(h),
	); err != nil {
		return "", unavailable("inserting session", err)
	}

	return h, nil
}

func (s *Store) Get(ctx context.Context, h session.Handle, field session.Field) (string, bool, error) {
	col, err := column(field)
	if err != nil {
		return "", false, err
	}

	var v *string
	err = s.db.QueryRow(ctx,
		`SELECT `+col+` FROM login_sessions WHERE handle = $1 AND expires_at > now();`,
		string(h),
	).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, serviceerr.ErrSessionNotFound
		}

		return "", false, unavailable("selecting session field", err)
	}

	if v == nil {
		return "", false, nil
	}

	return *v, true, nil
}

func (s *Store) Set(ctx context.Context, h session.Handle, values session.Values) error {
	args := []any{s.ttl.Seconds(), string(h)}
	assignments := make([]string, 0, len(values))
	for f, v := range values {
		col, err := column(f)
		if err != nil {
			return err
		}

		args = append(args, v)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	return s.update(ctx, assignments, args)
}

func (s *Store) Clear(ctx context.Context, h session.Handle, fields ...session.Field) error {
	assignments, err := nullAssignments(fields)
	if err != nil {
		return err
	}

	return s.update(ctx, assignments, []any{s.ttl.Seconds(), string(h)})
}

func (s *Store) update(ctx context.Context, assignments []string, args []any) error {
	assignments = append(assignments, "expires_at = "+expiresAtExpr)

	ct, err := s.db.Exec(ctx,
		`UPDATE login_sessions SET `+strings.Join(assignments, ", ")+` WHERE handle = $2 AND expires_at > now();`,
		args...,
	)
	if err != nil {
		return unavailable("updating session", err)
	}

	if ct.RowsAffected() == 0 {
		return serviceerr.ErrSessionNotFound
	}

	return nil
}

// Take locks the row, clears the fields and returns their previous values in
// one statement. A concurrent Take waits for the lock and then observes the
// cleared row.
func (s *Store) Take(ctx context.Context, h session.Handle, fields ...session.Field) (session.Values, error) {
	if len(fields) == 0 {
		if _, err := s.Load(ctx, h); err != nil {
			return nil, err
		}

		return session.Values{}, nil
	}

	cols := make([]string, 0, len(fields))
	returning := make([]string, 0, len(fields))
	for _, f := range fields {
		col, err := column(f)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		returning = append(returning, "old."+col)
	}

	assignments, err := nullAssignments(fields)
	if err != nil {
		return nil, err
	}
	assignments = append(assignments, "expires_at = "+expiresAtExpr)

	query := `UPDATE login_sessions s SET ` + strings.Join(assignments, ", ") + `
		FROM (SELECT handle, ` + strings.Join(cols, ", ") + ` FROM login_sessions
			WHERE handle = $2 AND expires_at > now() FOR UPDATE) old
		WHERE s.handle = old.handle
		RETURNING ` + strings.Join(returning, ", ") + `;`

	values := make([]*string, len(fields))
	dest := make([]any, len(fields))
	for i := range values {
		dest[i] = &values[i]
	}

	if err := s.db.QueryRow(ctx, query, s.ttl.Seconds(), string(h)).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serviceerr.ErrSessionNotFound
		}

		return nil, unavailable("taking session fields", err)
	}

	taken := session.Values{}
	for i, f := range fields {
		if values[i] != nil {
			taken[f] = *values[i]
		}
	}

	return taken, nil
}

func (s *Store) Load(ctx context.Context, h session.Handle) (session.Record, error) {
	var (
		stateValue, codeVerifier, identity *string
		rec                                = session.Record{Handle: h, Values: session.Values{}}
	)

	err := s.db.QueryRow(ctx,
		`SELECT state_value, code_verifier, identity, created_at, expires_at
			FROM login_sessions WHERE handle = $1 AND expires_at > now();`,
		string(h),
	).Scan(&stateValue, &codeVerifier, &identity, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Record{}, serviceerr.ErrSessionNotFound
		}

		return session.Record{}, unavailable("selecting session", err)
	}

	for f, v := range map[session.Field]*string{
		session.FieldStateValue:   stateValue,
		session.FieldCodeVerifier: codeVerifier,
		session.FieldIdentity:     identity,
	} {
		if v != nil {
			rec.Values[f] = *v
		}
	}

	return rec, nil
}

func (s *Store) Destroy(ctx context.Context, h session.Handle) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM login_sessions WHERE handle = $1;`, string(h)); err != nil {
		return unavailable("deleting session", err)
	}

	return nil
}

// DeleteExpired purges the sessions past their expiry and returns how many
// rows were removed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	ct, err := s.db.Exec(ctx, `DELETE FROM login_sessions WHERE expires_at <= now();`)
	if err != nil {
		return 0, unavailable("deleting expired sessions", err)
	}

	return ct.RowsAffected(), nil
}

func column(f session.Field) (string, error) {
	if !session.IsKnownField(f) {
		return "", fmt.Errorf("unknown session field %q", f)
	}

	return pgx.Identifier{string(f)}.Sanitize(), nil
}

func nullAssignments(fields []session.Field) ([]string, error) {
	assignments := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		col, err := column(f)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, col+" = NULL")
	}

	return assignments, nil
}

func unavailable(op string, err error) error {
	return errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("%s: %w", op, err))
}
