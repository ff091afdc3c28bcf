package kis

// tokenResponse is the body of POST /oauth2/tokenP.
// access_token_token_expired is "2006-01-02 15:04:05" in exchange-local time
// and is optional; absent means we fall back to a conservative lifetime.
type tokenResponse struct {
	AccessToken             string `json:"access_token"`
	AccessTokenTokenExpired string `json:"access_token_token_expired"`
}

// priceOutput is the nested payload of the inquire-price response.
type priceOutput struct {
	StckPrpr string `json:"stck_prpr"` // current price, numeric string
	MsgCd    string `json:"msg_cd"`
	Msg1     string `json:"msg1"`
}

// priceResponse is the body of GET /uapi/domestic-stock/v1/quotations/inquire-price.
// rt_cd "0" means success; anything else is a business-level error.
type priceResponse struct {
	RtCd   string       `json:"rt_cd"`
	Output *priceOutput `json:"output"`
}
