package tokens

import "database/sql"

// TokensSchema is the durable token cache: one row per environment.
// refresh_claim_started_at doubles as the soft refresh lock; timestamps are
// unix milliseconds so the claim condition compares integers in-database.
const TokensSchema = `
CREATE TABLE IF NOT EXISTS kis_tokens (
    environment TEXT PRIMARY KEY,
    token TEXT,
    expires_at INTEGER,
    refresh_claim_started_at INTEGER,
    claimed_by TEXT
);
`

// InitSchema ensures the kis_tokens table exists
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(TokensSchema)
	return err
}
