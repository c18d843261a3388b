// Package memory keeps sessions in the memory of the process. Sessions are
// lost on restart and are not shared between replicas.
package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"maps"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/yogamat/auth-session/internal/serviceerr"
	"github.com/yogamat/auth-session/internal/session"
)

const lockStripes = 64

type entry struct {
	values    session.Values
	createdAt time.Time
	expiresAt time.Time
}

type Store struct {
	cache *cache.Cache
	ttl   time.Duration
	locks [lockStripes]sync.Mutex
}

var _ session.Store = (*Store)(nil)

type Option func(*Store)

// WithTTL overrides session.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{ttl: session.DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}

	s.cache = cache.New(s.ttl, s.ttl/2)

	return s
}

// lock serializes the read-modify-write operations on one handle. Distinct
// handles rarely share a stripe.
func (s *Store) lock(h session.Handle) func() {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(h))
	mu := &s.locks[hash.Sum32()%lockStripes]
	mu.Lock()

	return mu.Unlock
}

func (s *Store) Create(_ context.Context) (session.Handle, error) {
	h, err := session.NewHandle()
	if err != nil {
		return "", err
	}

	now := time.Now()
	e := entry{
		values:    session.Values{},
		createdAt: now,
		expiresAt: now.Add(s.ttl),
	}
	if err := s.cache.Add(string(h), e, s.ttl); err != nil {
		return "", errors.Join(serviceerr.ErrStoreUnavailable, err)
	}

	return h, nil
}

func (s *Store) Get(_ context.Context, h session.Handle, field session.Field) (string, bool, error) {
	e, err := s.load(h)
	if err != nil {
		return "", false, err
	}

	v, ok := e.values[field]

	return v, ok, nil
}

func (s *Store) Set(_ context.Context, h session.Handle, values session.Values) error {
	unlock := s.lock(h)
	defer unlock()

	e, err := s.load(h)
	if err != nil {
		return err
	}

	maps.Copy(e.values, values)
	s.store(h, e)

	return nil
}

func (s *Store) Clear(_ context.Context, h session.Handle, fields ...session.Field) error {
	unlock := s.lock(h)
	defer unlock()

	e, err := s.load(h)
	if err != nil {
		return err
	}

	for _, f := range fields {
		delete(e.values, f)
	}
	s.store(h, e)

	return nil
}

func (s *Store) Take(_ context.Context, h session.Handle, fields ...session.Field) (session.Values, error) {
	unlock := s.lock(h)
	defer unlock()

	e, err := s.load(h)
	if err != nil {
		return nil, err
	}

	taken := session.Values{}
	for _, f := range fields {
		if v, ok := e.values[f]; ok {
			taken[f] = v
			delete(e.values, f)
		}
	}
	s.store(h, e)

	return taken, nil
}

func (s *Store) Load(_ context.Context, h session.Handle) (session.Record, error) {
	e, err := s.load(h)
	if err != nil {
		return session.Record{}, err
	}

	return session.Record{
		Handle:    h,
		Values:    e.values,
		CreatedAt: e.createdAt,
		ExpiresAt: e.expiresAt,
	}, nil
}

func (s *Store) Destroy(_ context.Context, h session.Handle) error {
	unlock := s.lock(h)
	defer unlock()

	s.cache.Delete(string(h))

	return nil
}

// load returns a copy of the entry so that callers never share the cached map.
func (s *Store) load(h session.Handle) (entry, error) {
	item, ok := s.cache.Get(string(h))
	if !ok {
		return entry{}, serviceerr.ErrSessionNotFound
	}

	e, ok := item.(entry)
	if !ok || !time.Now().Before(e.expiresAt) {
		return entry{}, serviceerr.ErrSessionNotFound
	}

	e.values = maps.Clone(e.values)
	if e.values == nil {
		e.values = session.Values{}
	}

	return e, nil
}

func (s *Store) store(h session.Handle, e entry) {
	e.expiresAt = time.Now().Add(s.ttl)
	s.cache.Set(string(h), e, s.ttl)
}
