package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

// makeSeries builds an EntitySeries with one observation per day and the
// given cumulative counts.
func makeSeries(entityID string, cumulative []float64) EntitySeries {
	obs := make([]RawObservation, len(cumulative))
	for i, c := range cumulative {
		obs[i] = RawObservation{EntityID: entityID, Date: day(i), CumulativeConfirmed: c}
	}
	return EntitySeries{EntityID: entityID, Observations: obs}
}

func TestDeriveLengthPreservation(t *testing.T) {
	engine := NewEngine(ShortWindow)

	for _, n := range []int{1, 3, 7, 20} {
		cumulative := make([]float64, n)
		for i := range cumulative {
			cumulative[i] = float64(10 * (i + 1))
		}
		rows, err := engine.Derive(makeSeries("US", cumulative))
		require.NoError(t, err)
		assert.Len(t, rows, n, "output rows must match input length for n=%d", n)
	}
}

func TestDeriveDailyDeltaAndStabilization(t *testing.T) {
	engine := NewEngine(ShortWindow)

	// Deltas: first undefined (0), then +5, -3 (correction), +0.
	rows, err := engine.Derive(makeSeries("US", []float64{10, 15, 12, 12}))
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// First delta is 0, clamped to 1 before log1p.
	assert.InDelta(t, math.Log1p(1), rows[0].DailyConfirmed, 1e-12)
	assert.InDelta(t, math.Log1p(5), rows[1].DailyConfirmed, 1e-12)
	// Negative corrections are clamped to 1, same as a zero delta.
	assert.InDelta(t, math.Log1p(1), rows[2].DailyConfirmed, 1e-12)
	assert.InDelta(t, math.Log1p(1), rows[3].DailyConfirmed, 1e-12)
}

func TestStabilizationAlwaysFinite(t *testing.T) {
	engine := NewEngine(ShortWindow)

	rows, err := engine.Derive(makeSeries("US", []float64{1e9, 0, 1e9, 1e9 + 1, 1e9 + 1}))
	require.NoError(t, err)
	for i, row := range rows {
		for _, v := range []float64{row.DailyConfirmed, row.Lag3, row.Lag7, row.RollingAvg3, row.RollingAvg7} {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "row %d has non-finite value", i)
			assert.GreaterOrEqual(t, v, 0.0, "row %d has negative stabilized value", i)
		}
	}
}

func TestDeriveLagWarmupZeros(t *testing.T) {
	engine := NewEngine(ShortWindow)

	cumulative := make([]float64, 10)
	for i := range cumulative {
		cumulative[i] = float64(100 * (i + 1))
	}
	rows, err := engine.Derive(makeSeries("US", cumulative))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Zero(t, rows[i].Lag3, "lag3 must be zero at position %d", i)
	}
	for i := 0; i < 7; i++ {
		assert.Zero(t, rows[i].Lag7, "lag7 must be zero at position %d", i)
	}
	// Once history exists, lags are positional copies of the stabilized series.
	assert.Equal(t, rows[0].DailyConfirmed, rows[3].Lag3)
	assert.Equal(t, rows[2].DailyConfirmed, rows[5].Lag3)
	assert.Equal(t, rows[1].DailyConfirmed, rows[8].Lag7)
}

func TestDeriveRollingAverages(t *testing.T) {
	engine := NewEngine(ShortWindow)

	rows, err := engine.Derive(makeSeries("US", []float64{10, 15, 25, 40}))
	require.NoError(t, err)

	s := make([]float64, 4)
	for i, row := range rows {
		s[i] = row.DailyConfirmed
	}
	// ShortWindow: mean over available history only.
	assert.InDelta(t, s[0], rows[0].RollingAvg3, 1e-12)
	assert.InDelta(t, (s[0]+s[1])/2, rows[1].RollingAvg3, 1e-12)
	assert.InDelta(t, (s[0]+s[1]+s[2])/3, rows[2].RollingAvg3, 1e-12)
	assert.InDelta(t, (s[1]+s[2]+s[3])/3, rows[3].RollingAvg3, 1e-12)
	assert.InDelta(t, (s[0]+s[1]+s[2]+s[3])/4, rows[3].RollingAvg7, 1e-12)
}

func TestDeriveEdgePolicies(t *testing.T) {
	cumulative := make([]float64, 12)
	for i := range cumulative {
		cumulative[i] = float64(7 * (i + 1))
	}
	series := makeSeries("US", cumulative)

	t.Run("ZeroFill", func(t *testing.T) {
		rows, err := NewEngine(ZeroFill).Derive(series)
		require.NoError(t, err)
		require.Len(t, rows, 12)
		for i := 0; i < 2; i++ {
			assert.Zero(t, rows[i].RollingAvg3, "rolling3 must be zero-filled at %d", i)
		}
		for i := 0; i < 6; i++ {
			assert.Zero(t, rows[i].RollingAvg7, "rolling7 must be zero-filled at %d", i)
		}
		assert.NotZero(t, rows[2].RollingAvg3)
		assert.NotZero(t, rows[6].RollingAvg7)
	})

	t.Run("Drop", func(t *testing.T) {
		rows, err := NewEngine(Drop).Derive(series)
		require.NoError(t, err)
		assert.Len(t, rows, 12-7)
		// Every surviving row has full history for every feature.
		for i, row := range rows {
			assert.NotZero(t, row.Lag7, "dropped-policy row %d should have a real lag7", i)
		}
	})

	t.Run("DropShorterThanWarmup", func(t *testing.T) {
		_, err := NewEngine(Drop).Derive(makeSeries("US", []float64{1, 2, 3}))
		assert.ErrorIs(t, err, ErrInvalidSeries)
	})
}

func TestDeriveInvalidSeries(t *testing.T) {
	engine := NewEngine(ShortWindow)

	t.Run("Empty", func(t *testing.T) {
		_, err := engine.Derive(EntitySeries{EntityID: "US"})
		assert.ErrorIs(t, err, ErrInvalidSeries)
	})

	t.Run("DuplicateDate", func(t *testing.T) {
		series := makeSeries("US", []float64{1, 2, 3})
		series.Observations[2].Date = series.Observations[1].Date
		_, err := engine.Derive(series)
		assert.ErrorIs(t, err, ErrInvalidSeries)
	})

	t.Run("OutOfOrder", func(t *testing.T) {
		series := makeSeries("US", []float64{1, 2, 3})
		series.Observations[0].Date = day(5)
		_, err := engine.Derive(series)
		assert.ErrorIs(t, err, ErrInvalidSeries)
	})
}
