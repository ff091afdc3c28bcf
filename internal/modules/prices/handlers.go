package prices

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fintrack/kis-broker/internal/config"
)

// Handler handles quote HTTP requests
type Handler struct {
	service *Service
	cfg     *config.Config
	log     zerolog.Logger
}

// NewHandler creates a new quote handler
func NewHandler(service *Service, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		cfg:     cfg,
		log:     log.With().Str("handler", "prices").Logger(),
	}
}

// HandleQuote handles POST /api/quote - single or batch price lookup.
//
// Batch mode wins when both symbol and symbols are present. Symbol-level
// failures degrade to null entries; only token-level failures fail the
// request, as a gateway error.
func (h *Handler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	var body QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid JSON body"})
		return
	}

	env := config.EnvLive
	if body.Demo {
		env = config.EnvPaper
	}

	symbols := make([]string, 0, len(body.Symbols))
	for _, s := range body.Symbols {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			symbols = append(symbols, trimmed)
		}
	}
	single := strings.TrimSpace(body.Symbol)

	if len(symbols) == 0 && single == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "symbol is required"})
		return
	}

	// Fail fast on deployment misconfiguration before any network call.
	if _, err := h.cfg.CredentialsFor(env); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	if len(symbols) > 0 {
		result, err := h.service.GetPrices(r.Context(), env, symbols)
		if err != nil {
			h.log.Error().Err(err).Str("env", env.String()).Msg("Batch quote failed")
			writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, BatchQuoteResponse{Prices: result})
		return
	}

	price, err := h.service.GetPrice(r.Context(), env, single)
	if err != nil {
		h.log.Error().Err(err).Str("env", env.String()).Str("symbol", single).Msg("Quote failed")
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SingleQuoteResponse{Price: price})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
