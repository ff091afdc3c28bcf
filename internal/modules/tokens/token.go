package tokens

import "time"

// SafetyBuffer is the margin a token must have left before its expiry to be
// considered usable. KIS tokens live just under 24h; a token inside this
// window could expire mid-request, so it is treated as already dead.
const SafetyBuffer = 60 * time.Second

// CachedToken is a bearer token with its absolute expiry. It exists in two
// tiers: per-process memory and the shared kis_tokens row.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token is still usable at the given instant,
// leaving SafetyBuffer of headroom.
func (t CachedToken) ValidAt(now time.Time) bool {
	return t.Token != "" && now.Add(SafetyBuffer).Before(t.ExpiresAt)
}
