// Package storetest holds the behaviour every session.Store backend must
// show. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yogamat/auth-session/internal/serviceerr"
	"github.com/yogamat/auth-session/internal/session"
)

const unknownHandle session.Handle = "c2Vzc2lvbi10aGF0LWRvZXMtbm90LWV4aXN0LWF0LWFsbA"

// Run exercises the store contract against s.
func Run(t *testing.T, s session.Store) {
	t.Helper()

	t.Run("Create starts an empty session", func(t *testing.T) {
		ctx := t.Context()
		before := time.Now().Add(-time.Second)

		h, err := s.Create(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(h), 43)

		rec, err := s.Load(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, h, rec.Handle)
		assert.Empty(t, rec.Values)
		assert.True(t, rec.CreatedAt.After(before), "created at %v", rec.CreatedAt)
		assert.True(t, rec.ExpiresAt.After(time.Now()), "expires at %v", rec.ExpiresAt)
	})

	t.Run("Create returns distinct handles", func(t *testing.T) {
		seen := map[session.Handle]bool{}
		for range 50 {
			h, err := s.Create(t.Context())
			require.NoError(t, err)
			require.False(t, seen[h], "duplicate handle")
			seen[h] = true
		}
	})

	t.Run("Set writes all fields as a unit", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		err := s.Set(ctx, h, session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
		})
		require.NoError(t, err)

		rec, err := s.Load(ctx, h)
		require.NoError(t, err)
		if diff := cmp.Diff(session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
		}, rec.Values); diff != "" {
			t.Errorf("values mismatch (-want +got):\n%s", diff)
		}

		v, ok, err := s.Get(ctx, h, session.FieldCodeVerifier)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "V1", v)
	})

	t.Run("Set overwrites and keeps other fields", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		require.NoError(t, s.Set(ctx, h, session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
		}))
		require.NoError(t, s.Set(ctx, h, session.Values{session.FieldStateValue: "S2"}))

		rec, err := s.Load(ctx, h)
		require.NoError(t, err)
		if diff := cmp.Diff(session.Values{
			session.FieldStateValue:   "S2",
			session.FieldCodeVerifier: "V1",
		}, rec.Values); diff != "" {
			t.Errorf("values mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Get of an unset field", func(t *testing.T) {
		h := create(t, s)

		v, ok, err := s.Get(t.Context(), h, session.FieldIdentity)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("Clear removes only the given fields", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		require.NoError(t, s.Set(ctx, h, session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
			session.FieldIdentity:     `{"sub":"me"}`,
		}))
		require.NoError(t, s.Clear(ctx, h, session.FieldStateValue, session.FieldCodeVerifier))

		rec, err := s.Load(ctx, h)
		require.NoError(t, err)
		if diff := cmp.Diff(session.Values{session.FieldIdentity: `{"sub":"me"}`}, rec.Values); diff != "" {
			t.Errorf("values mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Take reads and removes", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		require.NoError(t, s.Set(ctx, h, session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
		}))

		taken, err := s.Take(ctx, h, session.FieldStateValue, session.FieldCodeVerifier, session.FieldIdentity)
		require.NoError(t, err)
		if diff := cmp.Diff(session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
		}, taken); diff != "" {
			t.Errorf("taken mismatch (-want +got):\n%s", diff)
		}

		again, err := s.Take(ctx, h, session.FieldStateValue, session.FieldCodeVerifier)
		require.NoError(t, err)
		assert.Empty(t, again)

		rec, err := s.Load(ctx, h)
		require.NoError(t, err)
		assert.Empty(t, rec.Values)
	})

	t.Run("Take hands a pair out at most once under concurrency", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		require.NoError(t, s.Set(ctx, h, session.Values{
			session.FieldStateValue:   "S1",
			session.FieldCodeVerifier: "V1",
		}))

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for range workers {
			wg.Go(func() {
				taken, err := s.Take(ctx, h, session.FieldStateValue, session.FieldCodeVerifier)
				if !assert.NoError(t, err) {
					return
				}
				if len(taken) == 0 {
					return
				}

				assert.Len(t, taken, 2)
				mu.Lock()
				winners++
				mu.Unlock()
			})
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	})

	t.Run("Sessions are isolated", func(t *testing.T) {
		ctx := t.Context()
		one, two := create(t, s), create(t, s)

		require.NoError(t, s.Set(ctx, one, session.Values{session.FieldStateValue: "one"}))
		require.NoError(t, s.Destroy(ctx, two))

		v, ok, err := s.Get(ctx, one, session.FieldStateValue)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "one", v)
	})

	t.Run("Writes move the expiry", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		first, err := s.Load(ctx, h)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, s.Set(ctx, h, session.Values{session.FieldStateValue: "S1"}))

		second, err := s.Load(ctx, h)
		require.NoError(t, err)
		assert.True(t, second.ExpiresAt.After(first.ExpiresAt), "expiry did not move: %v -> %v", first.ExpiresAt, second.ExpiresAt)
		assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	})

	t.Run("Destroy removes the session", func(t *testing.T) {
		ctx := t.Context()
		h := create(t, s)

		require.NoError(t, s.Destroy(ctx, h))
		_, _, err := s.Get(ctx, h, session.FieldStateValue)
		require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

		require.NoError(t, s.Destroy(ctx, h), "destroy is idempotent")
	})

	t.Run("Unknown handle", func(t *testing.T) {
		ctx := t.Context()

		_, _, err := s.Get(ctx, unknownHandle, session.FieldStateValue)
		require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

		err = s.Set(ctx, unknownHandle, session.Values{session.FieldStateValue: "S1"})
		require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

		err = s.Clear(ctx, unknownHandle, session.FieldStateValue)
		require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

		_, err = s.Take(ctx, unknownHandle, session.FieldStateValue)
		require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

		_, err = s.Load(ctx, unknownHandle)
		require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

		require.NoError(t, s.Destroy(ctx, unknownHandle))
	})
}

// RunExpiry checks that a session is gone once ttl elapsed without a write.
// s must be configured with ttl.
func RunExpiry(t *testing.T, s session.Store, ttl time.Duration) {
	t.Helper()

	ctx := context.Background()
	h, err := s.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, h, session.Values{session.FieldStateValue: "S1"}))

	time.Sleep(ttl + ttl/2)

	_, _, err = s.Get(ctx, h, session.FieldStateValue)
	require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)

	_, err = s.Load(ctx, h)
	require.ErrorIs(t, err, serviceerr.ErrSessionNotFound)
}

func create(t *testing.T, s session.Store) session.Handle {
	t.Helper()

	h, err := s.Create(t.Context())
	require.NoError(t, err)

	return h
}
