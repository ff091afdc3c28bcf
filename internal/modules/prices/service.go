package prices

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/fintrack/kis-broker/internal/clients/kis"
	"github.com/fintrack/kis-broker/internal/config"
)

// ErrUnavailable is returned in single mode when KIS has no usable price for
// the symbol. Batch mode never returns it; unavailable symbols map to nil.
var ErrUnavailable = errors.New("price unavailable")

// TokenSource hands out valid bearer tokens (the refresh coordinator).
type TokenSource interface {
	Token(ctx context.Context, env config.Environment) (string, error)
}

// QuoteClient fetches one symbol's price with a bearer token.
type QuoteClient interface {
	FetchPrice(ctx context.Context, env config.Environment, token, symbol string) (*float64, error)
}

// Service resolves prices for normalized symbols. One token is obtained per
// call and reused across the whole batch; symbols are fetched sequentially so
// a batch stays within KIS's per-second request courtesy limits.
type Service struct {
	tokens TokenSource
	quotes QuoteClient
	log    zerolog.Logger
}

// NewService creates a new price service
func NewService(tokens TokenSource, quotes QuoteClient, log zerolog.Logger) *Service {
	return &Service{
		tokens: tokens,
		quotes: quotes,
		log:    log.With().Str("service", "prices").Logger(),
	}
}

// GetPrice fetches the price for a single raw symbol.
func (s *Service) GetPrice(ctx context.Context, env config.Environment, rawSymbol string) (float64, error) {
	token, err := s.tokens.Token(ctx, env)
	if err != nil {
		return 0, err
	}

	symbol := kis.NormalizeSymbol(rawSymbol)
	price, err := s.quotes.FetchPrice(ctx, env, token, symbol)
	if err != nil {
		return 0, err
	}
	if price == nil {
		return 0, ErrUnavailable
	}

	return *price, nil
}

// GetPrices fetches prices for a batch of raw symbols. The returned map is
// keyed by normalized six-digit symbol; unavailable symbols are present with
// a nil value. The only error is a token-level failure, which dooms the whole
// batch since no fetch can proceed without one.
func (s *Service) GetPrices(ctx context.Context, env config.Environment, rawSymbols []string) (map[string]*float64, error) {
	token, err := s.tokens.Token(ctx, env)
	if err != nil {
		return nil, err
	}

	results := make(map[string]*float64, len(rawSymbols))
	for _, raw := range rawSymbols {
		symbol := kis.NormalizeSymbol(raw)
		if _, done := results[symbol]; done {
			continue
		}

		price, err := s.quotes.FetchPrice(ctx, env, token, symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed, marking unavailable")
			results[symbol] = nil
			continue
		}
		results[symbol] = price
	}

	return results, nil
}
