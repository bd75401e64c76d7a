package market

import (
	"encoding/json"
	"time"
)

// MetalSnapshot is the canonical, source-agnostic view of one metal quote.
// Produced fresh on every fetch cycle and never mutated afterwards.
type MetalSnapshot struct {
	Name             string    `json:"name"`
	CurrentPrice     float64   `json:"current_price"`
	OpenPrice        float64   `json:"open_price"`
	HighPrice        float64   `json:"high_price"`
	LowPrice         float64   `json:"low_price"`
	ChangePercentStr string    `json:"change_percent_str"`
	ChangePercent    float64   `json:"change_percent"`
	UpdateTime       string    `json:"update_time"`
	Source           string    `json:"source,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// FundSnapshot is the canonical view of one fund NAV estimate. A failed
// fetch is carried inline via Err so one bad fund never aborts the batch.
type FundSnapshot struct {
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	NetValue       float64   `json:"net_value"`
	EstimatedValue float64   `json:"estimated_value"`
	ChangePercent  float64   `json:"change_percent"`
	UpdateTime     string    `json:"update_time"`
	Timestamp      time.Time `json:"timestamp"`
	Err            string    `json:"-"`
}

// Failed reports whether the snapshot carries a fetch error instead of data.
func (s FundSnapshot) Failed() bool {
	return s.Err != ""
}

// MarshalJSON collapses failed snapshots to the {error, code} wire shape.
func (s FundSnapshot) MarshalJSON() ([]byte, error) {
	if s.Failed() {
		return json.Marshal(struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}{Error: s.Err, Code: s.Code})
	}

	type plain FundSnapshot
	return json.Marshal(plain(s))
}
