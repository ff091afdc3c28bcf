package prices

// QuoteRequest is the inbound body: a single symbol or a batch, plus the
// demo flag selecting the paper-trading environment.
type QuoteRequest struct {
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
	Demo    bool     `json:"demo,omitempty"`
}

// SingleQuoteResponse is the success body in single mode.
type SingleQuoteResponse struct {
	Price float64 `json:"price"`
}

// BatchQuoteResponse maps six-digit symbols to prices; unavailable symbols
// carry null so one bad ticker never hides the rest of a portfolio.
type BatchQuoteResponse struct {
	Prices map[string]*float64 `json:"prices"`
}

// ErrorResponse is the error body shape shared by every failure path.
type ErrorResponse struct {
	Error string `json:"error"`
}
