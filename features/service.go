package features

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSeries indicates an entity series that cannot be featurized:
// it is empty, or its dates are not strictly increasing.
var ErrInvalidSeries = errors.New("invalid entity series")

// Lag and rolling horizons, in positions within the entity's sorted
// series (not calendar days: if the feed has gaps, a lag of 3 means
// "three reports ago").
const (
	lagShort  = 3
	lagLong   = 7
	rollShort = 3
	rollLong  = 7
)

// warmup is the number of leading rows that lack full history for at
// least one feature. Lag7 is the last feature to fill in.
const warmup = lagLong

// Engine derives FeatureRows from entity series. It is stateless apart
// from its edge policy and safe for concurrent use.
type Engine struct {
	policy EdgePolicy
}

// NewEngine creates a feature engine with the given edge policy.
func NewEngine(policy EdgePolicy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's configured edge policy.
func (e *Engine) Policy() EdgePolicy {
	return e.policy
}

// Derive computes the feature sequence for one entity series.
//
// The daily delta is cumulative[i] - cumulative[i-1], with the first
// position treated as 0. Every delta is then stabilized: non-positive
// values (including downward corrections in the raw data) are clamped to
// 1 before log1p. Large negative corrections are therefore
// indistinguishable from "no change" after this step; that is a known,
// deliberate loss.
//
// Under ShortWindow and ZeroFill the output has exactly one row per
// input observation. Under Drop the first warm-up rows are removed.
func (e *Engine) Derive(series EntitySeries) ([]FeatureRow, error) {
	n := len(series.Observations)
	if n == 0 {
		return nil, fmt.Errorf("%w: entity %q has no observations", ErrInvalidSeries, series.EntityID)
	}
	for i := 1; i < n; i++ {
		if !series.Observations[i].Date.After(series.Observations[i-1].Date) {
			return nil, fmt.Errorf("%w: entity %q dates not strictly increasing at position %d",
				ErrInvalidSeries, series.EntityID, i)
		}
	}

	stabilized := make([]float64, n)
	for i := 0; i < n; i++ {
		delta := 0.0
		if i > 0 {
			delta = series.Observations[i].CumulativeConfirmed - series.Observations[i-1].CumulativeConfirmed
		}
		stabilized[i] = stabilize(delta)
	}

	rows := make([]FeatureRow, n)
	for i := 0; i < n; i++ {
		rows[i] = FeatureRow{
			Date:           series.Observations[i].Date,
			EntityID:       series.EntityID,
			DailyConfirmed: stabilized[i],
			Lag3:           lagAt(stabilized, i, lagShort),
			Lag7:           lagAt(stabilized, i, lagLong),
			RollingAvg3:    e.rollingAt(stabilized, i, rollShort),
			RollingAvg7:    e.rollingAt(stabilized, i, rollLong),
		}
	}

	if e.policy == Drop {
		if n <= warmup {
			return nil, fmt.Errorf("%w: entity %q has %d observations, all within the %d-row warm-up",
				ErrInvalidSeries, series.EntityID, n, warmup)
		}
		rows = rows[warmup:]
	}
	return rows, nil
}

// stabilize clamps a non-positive daily delta to 1 and applies log1p.
// The result is always finite and >= log1p(1) for clamped inputs.
func stabilize(delta float64) float64 {
	if delta <= 0 {
		delta = 1
	}
	return math.Log1p(delta)
}

// lagAt returns the stabilized value k positions back, or 0 when the
// series does not reach that far.
func lagAt(values []float64, i, k int) float64 {
	if i < k {
		return 0
	}
	return values[i-k]
}

// rollingAt returns the trailing mean of up to k stabilized values ending
// at position i, subject to the engine's edge policy.
func (e *Engine) rollingAt(values []float64, i, k int) float64 {
	if e.policy == ZeroFill && i < k-1 {
		return 0
	}
	start := i - k + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for j := start; j <= i; j++ {
		sum += values[j]
	}
	return sum / float64(i-start+1)
}
