// Package sessionvalkey keeps sessions in valkey, one hash per session.
// Multi-field operations run as Lua scripts so that they are atomic.
package sessionvalkey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yogamat/auth-session/internal/serviceerr"
	"github.com/yogamat/auth-session/internal/session"
)

const (
	objectTypeSession = "session"

	createdAtField = "_created_at"
	expiresAtField = "_expires_at"
)

// ARGV[1] created at, ARGV[2] expires at, ARGV[3] ttl in milliseconds.
var createScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], '` + createdAtField + `', ARGV[1], '` + expiresAtField + `', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// ARGV[1] expires at, ARGV[2] ttl in milliseconds, then field/value pairs.
var setScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call('HSET', KEYS[1], '` + expiresAtField + `', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// ARGV[1] expires at, ARGV[2] ttl in milliseconds, then field names.
var clearScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
for i = 3, #ARGV do
  redis.call('HDEL', KEYS[1], ARGV[i])
end
redis.call('HSET', KEYS[1], '` + expiresAtField + `', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// Same arguments as clearScript. Returns the removed field/value pairs, or
// nil when the session does not exist.
var takeScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
local taken = {}
for i = 3, #ARGV do
  local v = redis.call('HGET', KEYS[1], ARGV[i])
  if v then
    table.insert(taken, ARGV[i])
    table.insert(taken, v)
    redis.call('HDEL', KEYS[1], ARGV[i])
  end
end
redis.call('HSET', KEYS[1], '` + expiresAtField + `', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return taken
`)

type Store struct {
	valkey valkey.Client
	prefix string
	ttl    time.Duration
}

var _ session.Store = (*Store)(nil)

type Option func(*Store)

// WithTTL overrides session.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func NewStore(valkeyClient valkey.Client, prefix string, opts ...Option) *Store {
	s := &Store{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
		ttl:    session.DefaultTTL,
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

	now := time.Now()
	created, err := createScript.Exec(ctx, s.valkey, []string{s.key(h)}, []string{
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(s.ttl).UnixMilli(), 10),
		s.ttlArg(),
	}).AsInt64()
	if err != nil {
		return "", errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("executing create script: %w", err))
	}

	if created != 1 {
		return "", errors.Join(serviceerr.ErrStoreUnavailable, errors.New("session handle collision"))
	}

	return h, nil
}

func (s *Store) Get(ctx context.Context, h session.Handle, field session.Field) (string, bool, error) {
	if !session.IsKnownField(field) {
		return "", false, fmt.Errorf("unknown session field %q", field)
	}

	msgs, err := s.valkey.Do(ctx, s.valkey.B().Hmget().Key(s.key(h)).Field(createdAtField, string(field)).Build()).ToArray()
	if err != nil {
		return "", false, errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("executing hmget command: %w", err))
	}

	if len(msgs) != 2 {
		return "", false, errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("unexpected hmget reply of length %d", len(msgs)))
	}

	if msgs[0].IsNil() {
		return "", false, serviceerr.ErrSessionNotFound
	}

	if msgs[1].IsNil() {
		return "", false, nil
	}

	v, err := msgs[1].ToString()
	if err != nil {
		return "", false, errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("reading field value: %w", err))
	}

	return v, true, nil
}

func (s *Store) Set(ctx context.Context, h session.Handle, values session.Values) error {
	args := s.writeArgs(len(values) * 2)
	for f, v := range values {
		if !session.IsKnownField(f) {
			return fmt.Errorf("unknown session field %q", f)
		}
		args = append(args, string(f), v)
	}

	return s.execWrite(ctx, setScript, h, args)
}

func (s *Store) Clear(ctx context.Context, h session.Handle, fields ...session.Field) error {
	args, err := s.fieldArgs(fields)
	if err != nil {
		return err
	}

	return s.execWrite(ctx, clearScript, h, args)
}

func (s *Store) Take(ctx context.Context, h session.Handle, fields ...session.Field) (session.Values, error) {
	args, err := s.fieldArgs(fields)
	if err != nil {
		return nil, err
	}

	pairs, err := takeScript.Exec(ctx, s.valkey, []string{s.key(h)}, args).AsStrSlice()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, serviceerr.ErrSessionNotFound
		}

		return nil, errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("executing take script: %w", err))
	}

	taken := make(session.Values, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		taken[session.Field(pairs[i])] = pairs[i+1]
	}

	return taken, nil
}

func (s *Store) Load(ctx context.Context, h session.Handle) (session.Record, error) {
	fields, err := s.valkey.Do(ctx, s.valkey.B().Hgetall().Key(s.key(h)).Build()).AsStrMap()
	if err != nil {
		return session.Record{}, errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("executing hgetall command: %w", err))
	}

	if len(fields) == 0 {
		return session.Record{}, serviceerr.ErrSessionNotFound
	}

	rec := session.Record{
		Handle: h,
		Values: session.Values{},
	}
	for name, value := range fields {
		switch name {
		case createdAtField:
			rec.CreatedAt, err = parseMillis(value)
		case expiresAtField:
			rec.ExpiresAt, err = parseMillis(value)
		default:
			rec.Values[session.Field(name)] = value
		}
		if err != nil {
			return session.Record{}, errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("decoding %s: %w", name, err))
		}
	}

	return rec, nil
}

func (s *Store) Destroy(ctx context.Context, h session.Handle) error {
	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(s.key(h)).Build()).Error(); err != nil {
		return errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("executing del command: %w", err))
	}

	return nil
}

func (s *Store) execWrite(ctx context.Context, script *valkey.Lua, h session.Handle, args []string) error {
	ok, err := script.Exec(ctx, s.valkey, []string{s.key(h)}, args).AsInt64()
	if err != nil {
		return errors.Join(serviceerr.ErrStoreUnavailable, fmt.Errorf("executing script: %w", err))
	}

	if ok != 1 {
		return serviceerr.ErrSessionNotFound
	}

	return nil
}

// writeArgs returns the leading arguments shared by all write scripts.
func (s *Store) writeArgs(extra int) []string {
	args := make([]string, 0, 2+extra)
	return append(args,
		strconv.FormatInt(time.Now().Add(s.ttl).UnixMilli(), 10),
		s.ttlArg(),
	)
}

func (s *Store) fieldArgs(fields []session.Field) ([]string, error) {
	args := s.writeArgs(len(fields))
	for _, f := range fields {
		if !session.IsKnownField(f) {
			return nil, fmt.Errorf("unknown session field %q", f)
		}
		args = append(args, string(f))
	}

	return args, nil
}

func (s *Store) ttlArg() string {
	return strconv.FormatInt(s.ttl.Milliseconds(), 10)
}

func (s *Store) key(h session.Handle) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectTypeSession, h)
}

func parseMillis(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms), nil
}
