package tokens

import (
	"time"

	"github.com/rs/zerolog"
)

// MaintenanceJob periodically releases refresh claims whose holders died
// mid-refresh and prunes long-expired token rows. Without it a crashed
// claimant only self-heals when the next caller's takeover fires.
type MaintenanceJob struct {
	repo           *Repository
	claimStaleness time.Duration
	log            zerolog.Logger
}

// NewMaintenanceJob creates a token cache maintenance job
func NewMaintenanceJob(repo *Repository, claimStaleness time.Duration, log zerolog.Logger) *MaintenanceJob {
	if claimStaleness <= 0 {
		claimStaleness = defaultClaimStaleness
	}
	return &MaintenanceJob{
		repo:           repo,
		claimStaleness: claimStaleness,
		log:            log.With().Str("job", "token_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "token_maintenance"
}

// Run executes one maintenance pass
func (j *MaintenanceJob) Run() error {
	now := time.Now()

	cleared, err := j.repo.ClearStaleClaims(now.Add(-j.claimStaleness))
	if err != nil {
		return err
	}

	// Tokens expired for over a day are never coming back.
	deleted, err := j.repo.DeleteExpired(now.Add(-24 * time.Hour))
	if err != nil {
		return err
	}

	if cleared > 0 || deleted > 0 {
		j.log.Info().
			Int64("claims_cleared", cleared).
			Int64("rows_deleted", deleted).
			Msg("Token cache maintenance completed")
	}

	return nil
}
