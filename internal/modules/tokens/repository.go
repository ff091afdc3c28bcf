package tokens

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintrack/kis-broker/internal/config"
)

// Repository is the durable token tier: one kis_tokens row per environment,
// shared by every broker instance pointed at the same store. Timestamps are
// stored as unix milliseconds so the claim comparison is a plain integer
// compare inside the database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new token repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "tokens").Logger(),
	}
}

// Get returns the stored token for an environment, or nil when the row is
// absent or holds no token.
func (r *Repository) Get(env config.Environment) (*CachedToken, error) {
	query := `
		SELECT token, expires_at
		FROM kis_tokens
		WHERE environment = ?
	`

	var token sql.NullString
	var expiresAt sql.NullInt64

	err := r.db.QueryRow(query, env.String()).Scan(&token, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token row: %w", err)
	}

	if !token.Valid || token.String == "" || !expiresAt.Valid {
		return nil, nil
	}

	return &CachedToken{
		Token:     token.String,
		ExpiresAt: time.UnixMilli(expiresAt.Int64),
	}, nil
}

// SaveToken upserts the token for an environment and releases the refresh
// claim in the same statement, so a completed refresh is visible to pollers
// atomically.
func (r *Repository) SaveToken(env config.Environment, tok CachedToken) error {
	query := `
		INSERT INTO kis_tokens (environment, token, expires_at, refresh_claim_started_at, claimed_by)
		VALUES (?, ?, ?, NULL, NULL)
		ON CONFLICT(environment) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at,
			refresh_claim_started_at = NULL,
			claimed_by = NULL
	`

	if _, err := r.db.Exec(query, env.String(), tok.Token, tok.ExpiresAt.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	return nil
}

// EnsureRow seeds the per-environment row so the claim update has something
// to match. Idempotent; called from migration-time wiring.
func (r *Repository) EnsureRow(env config.Environment) error {
	if _, err := r.db.Exec(`INSERT OR IGNORE INTO kis_tokens (environment) VALUES (?)`, env.String()); err != nil {
		return fmt.Errorf("failed to seed token row: %w", err)
	}
	return nil
}

// TryClaimRefresh attempts to mark a refresh as in progress. The decision is
// a single conditional UPDATE, so under concurrent callers exactly one sees
// rows-affected == 1. A claim older than staleBefore counts as abandoned and
// may be taken over.
func (r *Repository) TryClaimRefresh(env config.Environment, instanceID string, now, staleBefore time.Time) (bool, error) {
	if err := r.EnsureRow(env); err != nil {
		return false, err
	}

	query := `
		UPDATE kis_tokens
		SET refresh_claim_started_at = ?, claimed_by = ?
		WHERE environment = ?
		  AND (refresh_claim_started_at IS NULL OR refresh_claim_started_at < ?)
	`

	result, err := r.db.Exec(query, now.UnixMilli(), instanceID, env.String(), staleBefore.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to claim refresh: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}

	return affected == 1, nil
}

// ClearStaleClaims releases claims older than staleBefore across all
// environments. This is the self-healing path for a claimant that crashed
// mid-refresh; until it runs (or another caller's claim takeover fires), the
// stale claim simply ages out.
func (r *Repository) ClearStaleClaims(staleBefore time.Time) (int64, error) {
	query := `
		UPDATE kis_tokens
		SET refresh_claim_started_at = NULL, claimed_by = NULL
		WHERE refresh_claim_started_at IS NOT NULL
		  AND refresh_claim_started_at < ?
	`

	result, err := r.db.Exec(query, staleBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to clear stale claims: %w", err)
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read clear result: %w", err)
	}

	if cleared > 0 {
		r.log.Warn().Int64("cleared", cleared).Msg("Released stale refresh claims")
	}

	return cleared, nil
}

// DeleteExpired removes token rows whose token expired before the cutoff.
// Rows are reseeded on the next claim, so this is purely hygiene.
func (r *Repository) DeleteExpired(before time.Time) (int64, error) {
	query := `
		DELETE FROM kis_tokens
		WHERE expires_at IS NOT NULL AND expires_at < ?
		  AND refresh_claim_started_at IS NULL
	`

	result, err := r.db.Exec(query, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}

	return deleted, nil
}
