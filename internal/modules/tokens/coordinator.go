package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fintrack/kis-broker/internal/config"
)

// Store is the durable tier consumed by the coordinator.
type Store interface {
	Get(env config.Environment) (*CachedToken, error)
	SaveToken(env config.Environment, tok CachedToken) error
	TryClaimRefresh(env config.Environment, instanceID string, now, staleBefore time.Time) (bool, error)
}

// Issuer performs the actual upstream token-acquisition call.
type Issuer interface {
	IssueToken(ctx context.Context, env config.Environment) (CachedToken, error)
}

// CoordinatorConfig carries the protocol tunables. Zero values fall back to
// the defaults below.
type CoordinatorConfig struct {
	// ClaimStaleness is how old a refresh claim may be before other callers
	// treat its holder as dead and take over.
	ClaimStaleness time.Duration
	// PollInterval is the sleep between durable-cache re-reads while another
	// instance refreshes.
	PollInterval time.Duration
	// MaxPollAttempts bounds the poll loop; past it the caller falls back to
	// a direct upstream call.
	MaxPollAttempts int
}

const (
	defaultClaimStaleness  = 60 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 10
)

// Coordinator hands out valid bearer tokens while keeping upstream issuance
// to at most one in-flight call system-wide per environment. The mutual
// exclusion is a soft lock: a timestamp claim in the shared kis_tokens row,
// taken with a single conditional update and released by the post-refresh
// upsert. Losers poll the durable tier until the winner's token appears.
//
// The store cannot block-and-notify, so bounded polling is the substitute; the
// bound means a wedged claimant delays callers, never deadlocks them.
type Coordinator struct {
	memory *MemoryCache
	store  Store
	issuer Issuer
	log    zerolog.Logger

	// instanceID identifies this process on claims it takes, for tracing
	// which instance was mid-refresh when something went wrong.
	instanceID string

	claimStaleness  time.Duration
	pollInterval    time.Duration
	maxPollAttempts int

	group singleflight.Group
}

// NewCoordinator creates a refresh coordinator
func NewCoordinator(memory *MemoryCache, store Store, issuer Issuer, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	if cfg.ClaimStaleness <= 0 {
		cfg.ClaimStaleness = defaultClaimStaleness
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}

	return &Coordinator{
		memory:          memory,
		store:           store,
		issuer:          issuer,
		log:             log.With().Str("component", "token_coordinator").Logger(),
		instanceID:      uuid.New().String(),
		claimStaleness:  cfg.ClaimStaleness,
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
	}
}

// Token returns a valid bearer token for the environment, refreshing through
// the claim protocol when no cached tier has one.
func (c *Coordinator) Token(ctx context.Context, env config.Environment) (string, error) {
	// Fast path: this process already holds a valid token.
	if tok, ok := c.memory.Get(env); ok && tok.ValidAt(time.Now()) {
		return tok.Token, nil
	}

	// Concurrent callers within this process share one protocol run per
	// environment, mirroring the single in-flight fetch the serverless
	// original kept per isolate.
	v, err, _ := c.group.Do(env.String(), func() (interface{}, error) {
		tok, err := c.acquire(ctx, env)
		if err != nil {
			return nil, err
		}
		return tok.Token, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// acquire walks the tiers: durable cache, then claim-and-refresh, then poll,
// then direct fallback.
func (c *Coordinator) acquire(ctx context.Context, env config.Environment) (CachedToken, error) {
	// Re-check memory inside the singleflight: a previous caller may have
	// populated it while we queued.
	if tok, ok := c.memory.Get(env); ok && tok.ValidAt(time.Now()) {
		return tok, nil
	}

	// Durable tier: another instance may have refreshed already.
	if tok, err := c.storeGetValid(env); err != nil {
		return CachedToken{}, err
	} else if tok != nil {
		c.memory.Set(env, *tok)
		return *tok, nil
	}

	// No valid token anywhere. Try to become the one refresher.
	now := time.Now()
	claimed, err := c.store.TryClaimRefresh(env, c.instanceID, now, now.Add(-c.claimStaleness))
	if err != nil {
		return CachedToken{}, err
	}

	if claimed {
		return c.refresh(ctx, env)
	}

	// Someone else is refreshing. Poll the durable tier until their token
	// lands or the attempt budget runs out.
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return CachedToken{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		tok, err := c.storeGetValid(env)
		if err != nil {
			return CachedToken{}, err
		}
		if tok != nil {
			c.memory.Set(env, *tok)
			c.log.Debug().
				Str("env", env.String()).
				Int("attempt", attempt).
				Msg("Picked up token refreshed by another instance")
			return *tok, nil
		}
	}

	// The claimant looks stuck or dead. Issue directly rather than wait
	// forever; the claim is left alone and ages out on its own. This accepts
	// a small chance of a second concurrent issuance.
	c.log.Warn().
		Str("env", env.String()).
		Int("attempts", c.maxPollAttempts).
		Msg("Poll budget exhausted waiting for refresher, issuing token directly")

	tok, err := c.issuer.IssueToken(ctx, env)
	if err != nil {
		return CachedToken{}, fmt.Errorf("fallback token issuance failed: %w", err)
	}

	c.memory.Set(env, tok)
	return tok, nil
}

// refresh runs the winner's side of the protocol: upstream call, durable
// write (which releases the claim), memory write. On upstream failure the
// claim is deliberately not cleared; it expires via the staleness window, so
// a crash here self-heals without a transactional primitive.
func (c *Coordinator) refresh(ctx context.Context, env config.Environment) (CachedToken, error) {
	tok, err := c.issuer.IssueToken(ctx, env)
	if err != nil {
		c.log.Error().Err(err).
			Str("env", env.String()).
			Msg("Upstream token issuance failed, leaving claim to expire")
		return CachedToken{}, err
	}

	if err := c.store.SaveToken(env, tok); err != nil {
		// The token itself is good; callers of this instance can still use
		// it even though other instances will have to refresh on their own.
		c.log.Error().Err(err).
			Str("env", env.String()).
			Msg("Failed to persist refreshed token")
	}

	c.memory.Set(env, tok)
	return tok, nil
}

// storeGetValid reads the durable tier and filters by the validity rule.
func (c *Coordinator) storeGetValid(env config.Environment) (*CachedToken, error) {
	tok, err := c.store.Get(env)
	if err != nil {
		return nil, fmt.Errorf("durable token read failed: %w", err)
	}
	if tok == nil || !tok.ValidAt(time.Now()) {
		return nil, nil
	}
	return tok, nil
}
