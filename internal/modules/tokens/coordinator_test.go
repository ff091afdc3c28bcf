package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintrack/kis-broker/internal/config"
)

// fakeStore is an in-memory Store with the same claim semantics as the
// sqlite repository.
type fakeStore struct {
	mu       sync.Mutex
	tokens   map[config.Environment]CachedToken
	claims   map[config.Environment]time.Time
	getErr   error
	saveErr  error
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens: make(map[config.Environment]CachedToken),
		claims: make(map[config.Environment]time.Time),
	}
}

func (s *fakeStore) Get(env config.Environment) (*CachedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	tok, ok := s.tokens[env]
	if !ok {
		return nil, nil
	}
	copied := tok
	return &copied, nil
}

func (s *fakeStore) SaveToken(env config.Environment, tok CachedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tokens[env] = tok
	delete(s.claims, env)
	return nil
}

func (s *fakeStore) TryClaimRefresh(env config.Environment, instanceID string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	if existing, ok := s.claims[env]; ok && !existing.Before(staleBefore) {
		return false, nil
	}
	s.claims[env] = now
	return true, nil
}

func (s *fakeStore) hasClaim(env config.Environment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.claims[env]
	return ok
}

// fakeIssuer counts upstream issuance calls.
type fakeIssuer struct {
	mu    sync.Mutex
	calls int
	token CachedToken
	err   error
}

func (f *fakeIssuer) IssueToken(ctx context.Context, env config.Environment) (CachedToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return CachedToken{}, f.err
	}
	return f.token, nil
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testCoordinator(store Store, issuer Issuer) *Coordinator {
	return NewCoordinator(NewMemoryCache(), store, issuer, CoordinatorConfig{
		ClaimStaleness:  time.Minute,
		PollInterval:    5 * time.Millisecond,
		MaxPollAttempts: 3,
	}, zerolog.Nop())
}

func freshToken(value string) CachedToken {
	return CachedToken{Token: value, ExpiresAt: time.Now().Add(23 * time.Hour)}
}

func TestTokenMemoryFastPath(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("T1")}
	coord := testCoordinator(store, issuer)

	coord.memory.Set(config.EnvLive, freshToken("CACHED"))

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "CACHED", tok)
	assert.Equal(t, 0, issuer.callCount())
}

func TestTokenDurableHitPopulatesMemory(t *testing.T) {
	store := newFakeStore()
	store.tokens[config.EnvLive] = freshToken("DURABLE")
	issuer := &fakeIssuer{token: freshToken("T1")}
	coord := testCoordinator(store, issuer)

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "DURABLE", tok)
	assert.Equal(t, 0, issuer.callCount())

	// Second call must come from memory even if the store goes away.
	store.getErr = errors.New("store down")
	tok, err = coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "DURABLE", tok)
}

func TestTokenRefreshPersistsAndReleasesClaim(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("NEW")}
	coord := testCoordinator(store, issuer)

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "NEW", tok)
	assert.Equal(t, 1, issuer.callCount())

	// Saved durably and claim released by the upsert.
	saved, err := store.Get(config.EnvLive)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "NEW", saved.Token)
	assert.False(t, store.hasClaim(config.EnvLive))
}

func TestTokenExpiredMemoryEntryTriggersRefresh(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("NEW")}
	coord := testCoordinator(store, issuer)

	coord.memory.Set(config.EnvLive, CachedToken{Token: "STALE", ExpiresAt: time.Now().Add(time.Second)})

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "NEW", tok)
	assert.Equal(t, 1, issuer.callCount())
}

func TestTokenPollPicksUpOtherRefreshersResult(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("MINE")}
	coord := testCoordinator(store, issuer)

	// Another instance holds a fresh claim.
	now := time.Now()
	claimed, err := store.TryClaimRefresh(config.EnvLive, "other", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	// It finishes its refresh while we are polling.
	go func() {
		time.Sleep(8 * time.Millisecond)
		_ = store.SaveToken(config.EnvLive, freshToken("THEIRS"))
	}()

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "THEIRS", tok)
	assert.Equal(t, 0, issuer.callCount())
}

func TestTokenFallbackAfterPollBudgetExhausted(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("FALLBACK")}
	coord := testCoordinator(store, issuer)

	// A claimant that never finishes.
	now := time.Now()
	claimed, err := store.TryClaimRefresh(config.EnvLive, "stuck", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "FALLBACK", tok)
	assert.Equal(t, 1, issuer.callCount())

	// The stuck claim is left to age out, not cleared.
	assert.True(t, store.hasClaim(config.EnvLive))
}

func TestTokenUpstreamFailureLeavesClaim(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{err: errors.New("KIS token failed: 500")}
	coord := testCoordinator(store, issuer)

	_, err := coord.Token(context.Background(), config.EnvLive)
	require.Error(t, err)

	// The failed refresher's claim stays put and self-heals via staleness.
	assert.True(t, store.hasClaim(config.EnvLive))
}

func TestTokenEnvironmentsAreIsolated(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("LIVE-TOKEN")}
	coord := testCoordinator(store, issuer)

	tok, err := coord.Token(context.Background(), config.EnvLive)
	require.NoError(t, err)
	assert.Equal(t, "LIVE-TOKEN", tok)

	// Paper has no token; it must not see live's.
	saved, err := store.Get(config.EnvPaper)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestTokenConcurrentCallersShareOneRefresh(t *testing.T) {
	store := newFakeStore()
	issuer := &fakeIssuer{token: freshToken("SHARED")}
	coord := testCoordinator(store, issuer)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.Token(context.Background(), config.EnvLive)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "SHARED", results[i])
	}

	// Singleflight collapses in-process concurrency onto one protocol run.
	assert.Equal(t, 1, issuer.callCount())
}
