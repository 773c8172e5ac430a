package types

import "time"

// Bar is a single OHLC price observation for a fixed time interval.
// Bars are immutable once recorded.
type Bar struct {
	Symbol string    `json:"symbol" yaml:"symbol"`
	Time   time.Time `json:"time" yaml:"time"`
	Open   float64   `json:"open" yaml:"open"`
	High   float64   `json:"high" yaml:"high"`
	Low    float64   `json:"low" yaml:"low"`
	Close  float64   `json:"close" yaml:"close"`
	Volume float64   `json:"volume" yaml:"volume"`
}

// Equal reports whether two bars carry identical fields.
// Used for idempotent ingestion of duplicate deliveries.
func (b Bar) Equal(other Bar) bool {
	return b.Symbol == other.Symbol &&
		b.Time.Equal(other.Time) &&
		b.Open == other.Open &&
		b.High == other.High &&
		b.Low == other.Low &&
		b.Close == other.Close &&
		b.Volume == other.Volume
}

// IsValid reports whether the bar is internally consistent:
// non-zero timestamp, high >= low, and open/close within [low, high].
func (b Bar) IsValid() bool {
	if b.Time.IsZero() || b.Symbol == "" {
		return false
	}

	if b.High < b.Low {
		return false
	}

	if b.Open < b.Low || b.Open > b.High {
		return false
	}

	if b.Close < b.Low || b.Close > b.High {
		return false
	}

	return b.Volume >= 0
}
