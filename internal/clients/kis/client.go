package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fintrack/kis-broker/internal/config"
	"github.com/fintrack/kis-broker/internal/modules/tokens"
)

const (
	tokenPath = "/oauth2/tokenP"
	quotePath = "/uapi/domestic-stock/v1/quotations/inquire-price"

	// FID_COND_MRKT_DIV_CODE for the KRX cash market.
	marketDivisionCode = "J"

	// Transaction id for the inquire-price call; KIS uses a V-prefixed id
	// on the paper-trading host.
	trIDLive  = "FHKST01010100"
	trIDPaper = "VHKST01010100"

	// Lifetime assumed when the token response omits an explicit expiry.
	// KIS tokens last 24h; stay comfortably under that.
	defaultTokenLifetime = 23 * time.Hour

	expiryLayout = "2006-01-02 15:04:05"
)

// Client talks to the KIS Open API: token issuance and domestic stock quotes.
type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	log        zerolog.Logger

	// KIS rejects more than one token issuance per minute per app key.
	// These limiters keep a single warm process from ever tripping that;
	// cross-process discipline is the refresh coordinator's job.
	issueLimiters map[config.Environment]*rate.Limiter
}

// NewClient creates a new KIS client
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "kis").Logger(),
		issueLimiters: map[config.Environment]*rate.Limiter{
			config.EnvLive:  rate.NewLimiter(rate.Every(time.Minute), 1),
			config.EnvPaper: rate.NewLimiter(rate.Every(time.Minute), 1),
		},
	}
}

// IssueToken performs one client-credentials call against the token endpoint
// and returns the parsed token with its absolute expiry (safety buffer already
// subtracted).
func (c *Client) IssueToken(ctx context.Context, env config.Environment) (tokens.CachedToken, error) {
	creds, err := c.cfg.CredentialsFor(env)
	if err != nil {
		return tokens.CachedToken{}, err
	}

	if limiter := c.issueLimiters[env]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return tokens.CachedToken{}, fmt.Errorf("token issuance rate limit wait: %w", err)
		}
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     creds.AppKey,
		"appsecret":  creds.AppSecret,
	})
	if err != nil {
		return tokens.CachedToken{}, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return tokens.CachedToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokens.CachedToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokens.CachedToken{}, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokens.CachedToken{}, &TokenError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return tokens.CachedToken{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return tokens.CachedToken{}, &MalformedResponseError{Field: "access_token"}
	}

	now := time.Now()
	expiresAt := now.Add(defaultTokenLifetime - tokens.SafetyBuffer)
	if parsed.AccessTokenTokenExpired != "" {
		if t, perr := time.ParseInLocation(expiryLayout, parsed.AccessTokenTokenExpired, time.Local); perr == nil {
			expiresAt = t.Add(-tokens.SafetyBuffer)
		} else {
			c.log.Warn().
				Str("env", env.String()).
				Str("expired", parsed.AccessTokenTokenExpired).
				Msg("Unparseable token expiry, using default lifetime")
		}
	}

	c.log.Info().
		Str("env", env.String()).
		Time("expires_at", expiresAt).
		Msg("Issued new KIS access token")

	return tokens.CachedToken{Token: parsed.AccessToken, ExpiresAt: expiresAt}, nil
}

// FetchPrice fetches the current price for a six-digit symbol. Every
// non-price outcome folds to (nil, nil) so one bad symbol can never fail a
// batch: non-success status, business-level rt_cd, and a missing, empty,
// non-numeric, negative or non-finite stck_prpr all count as unavailable.
// The error return is reserved for request construction failures.
func (c *Client) FetchPrice(ctx context.Context, env config.Environment, token, symbol string) (*float64, error) {
	creds, err := c.cfg.CredentialsFor(env)
	if err != nil {
		return nil, err
	}

	trID := trIDLive
	if env == config.EnvPaper {
		trID = trIDPaper
	}

	params := url.Values{}
	params.Set("FID_COND_MRKT_DIV_CODE", marketDivisionCode)
	params.Set("FID_INPUT_ISCD", symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.BaseURL+quotePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create quote request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("appkey", creds.AppKey)
	req.Header.Set("appsecret", creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote request failed")
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to read quote response")
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("symbol", symbol).
			Msg("Quote request returned non-success status")
		return nil, nil
	}

	var parsed priceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to parse quote response")
		return nil, nil
	}

	if parsed.RtCd != "0" {
		msg := parsed.RtCd
		if parsed.Output != nil && parsed.Output.Msg1 != "" {
			msg = parsed.Output.Msg1
		}
		c.log.Debug().Str("symbol", symbol).Str("kis_error", msg).Msg("KIS reported quote error")
		return nil, nil
	}

	if parsed.Output == nil || parsed.Output.StckPrpr == "" {
		c.log.Debug().Str("symbol", symbol).Msg("Quote response missing stck_prpr")
		return nil, nil
	}

	price, err := strconv.ParseFloat(parsed.Output.StckPrpr, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		c.log.Debug().Str("symbol", symbol).Str("stck_prpr", parsed.Output.StckPrpr).Msg("Invalid price value")
		return nil, nil
	}

	return &price, nil
}
