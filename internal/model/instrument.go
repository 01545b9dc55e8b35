package model

// Instrument describes the traded contract. PointValue converts a one-point
// price move into account currency (e.g. 50 for an e-mini index future),
// used when sizing orders from a risk fraction.
type Instrument struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	TickSize    float64 `json:"tick_size"`
	PointValue  float64 `json:"point_value"`
	Currency    string  `json:"currency"`
}
