package features

import "time"

// RawObservation is a single reported data point for one entity: the
// cumulative confirmed count as of a given date. Cumulative counts are
// non-decreasing in principle, but raw feeds do contain downward
// corrections; the engine clamps those rather than rejecting them.
type RawObservation struct {
	EntityID            string    `json:"entity_id"`
	Date                time.Time `json:"date"`
	CumulativeConfirmed float64   `json:"cumulative_confirmed"`
}

// EntitySeries is one entity's observations sorted ascending by date.
// It is built once by the ingestion layer and treated as immutable here.
type EntitySeries struct {
	EntityID     string
	Observations []RawObservation
}

// FeatureRow is the engineered feature vector for one entity on one date.
// All numeric fields are in stabilized log space (clamp-then-log1p of the
// daily delta), not raw counts.
type FeatureRow struct {
	Date           time.Time `json:"date"`
	EntityID       string    `json:"entity_id"`
	DailyConfirmed float64   `json:"daily_confirmed"`
	Lag3           float64   `json:"lag3"`
	Lag7           float64   `json:"lag7"`
	RollingAvg3    float64   `json:"rolling_avg3"`
	RollingAvg7    float64   `json:"rolling_avg7"`
}

// EdgePolicy controls how lag and rolling features behave at the start of
// a series, where fewer than k prior values exist.
type EdgePolicy int

const (
	// ShortWindow computes rolling averages over whatever history is
	// available; lags without history are zero. This matches the
	// historical behavior of the pipeline and is the default.
	ShortWindow EdgePolicy = iota
	// ZeroFill zeroes any rolling average with fewer than k values in
	// its window, in addition to zeroing short lags.
	ZeroFill
	// Drop removes warm-up rows that lack full history for every
	// feature, so the output is shorter than the input.
	Drop
)

// String returns the policy name for logs and stored run configs.
func (p EdgePolicy) String() string {
	switch p {
	case ShortWindow:
		return "short_window"
	case ZeroFill:
		return "zero_fill"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}
