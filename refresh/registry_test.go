package refresh_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-auth/csrf"
	autherrors "github.com/jrsteele09/go-session-auth/internal/errors"
	"github.com/jrsteele09/go-session-auth/refresh"
	"github.com/jrsteele09/go-session-auth/refresh/memstore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	mu      sync.Mutex
	reasons map[string]int
}

func (r *countingRecorder) RevocationRecorded(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reasons == nil {
		r.reasons = map[string]int{}
	}
	r.reasons[reason]++
}

func (r *countingRecorder) count(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reasons[reason]
}

type testFixture struct {
	clock    *fakeClock
	store    *memstore.Store
	binder   *csrf.Binder
	metrics  *countingRecorder
	registry *refresh.Registry
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := memstore.NewWithClock(clock.Now)
	binder, err := csrf.New("test-secret")
	require.NoError(t, err)
	metrics := &countingRecorder{}

	return &testFixture{
		clock:   clock,
		store:   store,
		binder:  binder,
		metrics: metrics,
		registry: refresh.NewRegistry(store, binder, refresh.Options{
			SessionTTL:   time.Hour,
			BlacklistTTL: 2 * time.Hour,
			Metrics:      metrics,
			Now:          clock.Now,
		}),
	}
}

func (f *testFixture) register(t *testing.T, refreshID, previousHash string, version int64) refresh.Registration {
	t.Helper()
	reg, err := f.registry.Register(context.Background(), refresh.RegisterParams{
		RefreshID:    refreshID,
		UserID:       "user-1",
		Role:         refresh.RoleUser,
		SessionID:    "session-1",
		Version:      version,
		PreviousHash: previousHash,
	})
	require.NoError(t, err)
	return reg
}

func TestRegisterReturnsHashAndCSRF(t *testing.T) {
	f := setupTestFixture(t)

	reg := f.register(t, "R1", "", 0)
	require.Equal(t, refresh.HashRefreshID("R1"), reg.Hash)
	require.Equal(t, f.binder.Token("R1"), reg.CSRFToken)
	require.Equal(t, f.clock.Now().Unix(), reg.Record.IssuedAt)
	require.Equal(t, f.clock.Now().Add(time.Hour).Unix(), reg.Record.ExpiresAt)

	record, err := f.registry.Validate(context.Background(), reg.Hash)
	require.NoError(t, err)
	require.Equal(t, "session-1", record.SessionID)
	require.Zero(t, f.metrics.count(refresh.ReasonRotation))
}

func TestRotationRevokesPrevious(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	first := f.register(t, "R1", "", 0)
	revoked, err := f.registry.IsRevoked(ctx, first.Hash)
	require.NoError(t, err)
	require.False(t, revoked)

	second := f.register(t, "R2", first.Hash, 1)

	revoked, err = f.registry.IsRevoked(ctx, first.Hash)
	require.NoError(t, err)
	require.True(t, revoked)

	_, err = f.registry.Validate(ctx, first.Hash)
	require.ErrorIs(t, err, autherrors.ErrTokenRevoked)

	record, err := f.registry.Validate(ctx, second.Hash)
	require.NoError(t, err)
	require.Equal(t, int64(1), record.Version)
	require.Equal(t, 1, f.metrics.count(refresh.ReasonRotation))
}

func TestRevokeIsIdempotentAndExpires(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	reg := f.register(t, "R1", "", 0)

	require.NoError(t, f.registry.Revoke(ctx, reg.Hash, 0))
	require.NoError(t, f.registry.Revoke(ctx, reg.Hash, 0))

	revoked, err := f.registry.IsRevoked(ctx, reg.Hash)
	require.NoError(t, err)
	require.True(t, revoked)

	f.clock.Advance(2*time.Hour - time.Second)
	revoked, err = f.registry.IsRevoked(ctx, reg.Hash)
	require.NoError(t, err)
	require.True(t, revoked)

	f.clock.Advance(time.Second)
	revoked, err = f.registry.IsRevoked(ctx, reg.Hash)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	// Store TTL outlives the record so the registry check is the one that fires.
	reg, err := f.registry.Register(ctx, refresh.RegisterParams{
		RefreshID: "R1",
		UserID:    "user-1",
		Role:      refresh.RoleUser,
		SessionID: "session-1",
		ExpiresAt: f.clock.Now().Add(time.Minute),
		TTL:       time.Hour,
	})
	require.NoError(t, err)

	f.clock.Advance(time.Minute - time.Second)
	_, err = f.registry.Validate(ctx, reg.Hash)
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	_, err = f.registry.Validate(ctx, reg.Hash)
	require.ErrorIs(t, err, autherrors.ErrRefreshTokenExpired)

	// Expired records are revoked proactively.
	revoked, err := f.registry.IsRevoked(ctx, reg.Hash)
	require.NoError(t, err)
	require.True(t, revoked)
	require.Equal(t, 1, f.metrics.count(refresh.ReasonExpired))
}

func TestValidateMissing(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.registry.Validate(context.Background(), refresh.HashRefreshID("unknown"))
	require.ErrorIs(t, err, autherrors.ErrSessionNotFound)
}

func TestRegisterRejectsGuestsAndEmptyCredentials(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	_, err := f.registry.Register(ctx, refresh.RegisterParams{RefreshID: "R1", UserID: "guest:1", Role: refresh.RoleGuest})
	require.ErrorIs(t, err, autherrors.ErrGuestSession)

	_, err = f.registry.Register(ctx, refresh.RegisterParams{UserID: "user-1", Role: refresh.RoleUser})
	require.ErrorIs(t, err, autherrors.ErrInvalidRefreshToken)
}

// failingStore fails revocations so rotation errors can be observed.
type failingStore struct {
	refresh.Store
}

func (failingStore) Revoke(context.Context, string, time.Duration) error {
	return errors.New("backend down")
}

func TestRotationFailsWhenPreviousCannotBeRevoked(t *testing.T) {
	f := setupTestFixture(t)
	registry := refresh.NewRegistry(failingStore{Store: f.store}, f.binder, refresh.Options{})

	_, err := registry.Register(context.Background(), refresh.RegisterParams{
		RefreshID:    "R2",
		UserID:       "user-1",
		Role:         refresh.RoleUser,
		PreviousHash: refresh.HashRefreshID("R1"),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend down")
}

func TestConcurrentRotationsOfDistinctSessions(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	const sessions = 20
	var wg sync.WaitGroup
	hashes := make([][2]string, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			first, err := f.registry.Register(ctx, refresh.RegisterParams{
				RefreshID: "first-" + string(rune('a'+i)), UserID: "u", Role: refresh.RoleUser,
			})
			if err != nil {
				return
			}
			second, err := f.registry.Register(ctx, refresh.RegisterParams{
				RefreshID: "second-" + string(rune('a'+i)), UserID: "u", Role: refresh.RoleUser, PreviousHash: first.Hash, Version: 1,
			})
			if err != nil {
				return
			}
			hashes[i] = [2]string{first.Hash, second.Hash}
		}(i)
	}
	wg.Wait()

	for _, pair := range hashes {
		_, err := f.registry.Validate(ctx, pair[0])
		require.ErrorIs(t, err, autherrors.ErrTokenRevoked)
		_, err = f.registry.Validate(ctx, pair[1])
		require.NoError(t, err)
	}
}

func TestNegativeTTLFallsBackWithWarning(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = original })

	f := setupTestFixture(t)
	reg, err := f.registry.Register(context.Background(), refresh.RegisterParams{
		RefreshID: "R1",
		UserID:    "user-1",
		Role:      refresh.RoleUser,
		SessionID: "session-1",
		TTL:       -5 * time.Minute,
	})
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Add(time.Hour).Unix(), reg.Record.ExpiresAt)
	require.Contains(t, buf.String(), `"event":"ttl_fallback"`)
	require.Contains(t, buf.String(), `"ttl_kind":"session"`)

	buf.Reset()
	f.register(t, "R2", "", 0)
	require.NotContains(t, buf.String(), "ttl_fallback")

	require.NoError(t, f.registry.Revoke(context.Background(), reg.Hash, -time.Second))
	require.Contains(t, buf.String(), `"ttl_kind":"blacklist"`)
	revoked, err := f.registry.IsRevoked(context.Background(), reg.Hash)
	require.NoError(t, err)
	require.True(t, revoked)
}
