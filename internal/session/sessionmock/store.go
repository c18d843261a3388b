// Package sessionmock wraps a session.Store with injectable failures and
// call counters.
package sessionmock

import (
	"context"
	"sync"

	"github.com/yogamat/auth-session/internal/session"
	"github.com/yogamat/auth-session/internal/session/memory"
)

type Op string

const (
	OpCreate  Op = "create"
	OpGet     Op = "get"
	OpSet     Op = "set"
	OpClear   Op = "clear"
	OpTake    Op = "take"
	OpLoad    Op = "load"
	OpDestroy Op = "destroy"
)

type Store struct {
	next session.Store

	mu     sync.Mutex
	errs   map[Op]error
	calls  map[Op]int
	onTake func()
}

var _ session.Store = (*Store)(nil)

type Option func(*Store)

// WithError makes every call of op fail with err.
func WithError(op Op, err error) Option {
	return func(s *Store) {
		s.errs[op] = err
	}
}

// WithBackend replaces the in-memory store the calls are forwarded to.
func WithBackend(next session.Store) Option {
	return func(s *Store) {
		s.next = next
	}
}

// WithTakeHook runs f after a successful Take.
func WithTakeHook(f func()) Option {
	return func(s *Store) {
		s.onTake = f
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		next:  memory.NewStore(),
		errs:  map[Op]error{},
		calls: map[Op]int{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SetError changes the failure of op; a nil err removes it.
func (s *Store) SetError(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// Calls returns how often op was invoked, failed calls included.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// Mutations sums the calls of all writing operations.
func (s *Store) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[OpCreate] + s.calls[OpSet] + s.calls[OpClear] + s.calls[OpTake] + s.calls[OpDestroy]
}

func (s *Store) record(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++

	return s.errs[op]
}

func (s *Store) Create(ctx context.Context) (session.Handle, error) {
	if err := s.record(OpCreate); err != nil {
		return "", err
	}

	return s.next.Create(ctx)
}

func (s *Store) Get(ctx context.Context, h session.Handle, field session.Field) (string, bool, error) {
	if err := s.record(OpGet); err != nil {
		return "", false, err
	}

	return s.next.Get(ctx, h, field)
}

func (s *Store) Set(ctx context.Context, h session.Handle, values session.Values) error {
	if err := s.record(OpSet); err != nil {
		return err
	}

	return s.next.Set(ctx, h, values)
}

func (s *Store) Clear(ctx context.Context, h session.Handle, fields ...session.Field) error {
	if err := s.record(OpClear); err != nil {
		return err
	}

	return s.next.Clear(ctx, h, fields...)
}

func (s *Store) Take(ctx context.Context, h session.Handle, fields ...session.Field) (session.Values, error) {
	if err := s.record(OpTake); err != nil {
		return nil, err
	}

	values, err := s.next.Take(ctx, h, fields...)
	if err == nil && s.onTake != nil {
		s.onTake()
	}

	return values, err
}

func (s *Store) Load(ctx context.Context, h session.Handle) (session.Record, error) {
	if err := s.record(OpLoad); err != nil {
		return session.Record{}, err
	}

	return s.next.Load(ctx, h)
}

func (s *Store) Destroy(ctx context.Context, h session.Handle) error {
	if err := s.record(OpDestroy); err != nil {
		return err
	}

	return s.next.Destroy(ctx, h)
}
