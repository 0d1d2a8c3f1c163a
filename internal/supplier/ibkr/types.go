package ibkr

// searchResult is one entry of iserver/secdef/search.
type searchResult struct {
	ConID       string    `json:"conid"` // IBKR returns this as a string
	Symbol      string    `json:"symbol"`
	Description string    `json:"description"`
	Sections    []section `json:"sections"`
}

// section is a security section (IND, OPT, ...) of a search result.
type section struct {
	SecType  string `json:"secType"`
	Months   string `json:"months"` // semicolon separated, e.g. "MAR26;APR26"
	Exchange string `json:"exchange"`
}

// strikesResponse lists the strikes of one option month.
type strikesResponse struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

// contractInfo is one entry of iserver/secdef/info.
type contractInfo struct {
	ConID        int     `json:"conid"`
	Symbol       string  `json:"symbol"`
	Strike       float64 `json:"strike"`
	Right        string  `json:"right"`
	MaturityDate string  `json:"maturityDate"` // YYYYMMDD
	TradingClass string  `json:"tradingClass"`
}

// Snapshot field ids.
const (
	fieldLast         = "31"
	fieldBid          = "84"
	fieldAsk          = "86"
	fieldVolume       = "87"
	fieldVolumeRaw    = "87_raw"
	fieldDelta        = "7308"
	fieldOpenInterest = "7638"
)

var snapshotFields = fieldLast + "," + fieldBid + "," + fieldAsk + "," + fieldVolume + "," + fieldDelta + "," + fieldOpenInterest
