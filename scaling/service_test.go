package scaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"example.com/epiforecast/windowing"
)

// makeSamples builds n well-shaped samples whose values are spread
// deterministically so every feature column has a non-degenerate range.
func makeSamples(n int, offset float64) []windowing.WindowSample {
	samples := make([]windowing.WindowSample, n)
	for i := 0; i < n; i++ {
		m := mat.NewDense(windowing.WindowSize, windowing.FeatureCount, nil)
		for t := 0; t < windowing.WindowSize; t++ {
			for j := 0; j < windowing.FeatureCount; j++ {
				m.Set(t, j, offset+float64(i)+float64(t)*0.5+float64(j)*0.1)
			}
		}
		samples[i] = windowing.WindowSample{Features: m, Target: offset + float64(i)*2}
	}
	return samples
}

func TestFitTransformRangesAndOutput(t *testing.T) {
	scaler := NewScaler(windowing.WindowSize)
	train := makeSamples(8, 10)

	fitted, scaled, err := scaler.FitTransform(train)
	require.NoError(t, err)
	require.Len(t, scaled, len(train))

	// Training output lands in [0,1] per feature column and target.
	for _, sample := range scaled {
		for tstep := 0; tstep < windowing.WindowSize; tstep++ {
			for j := 0; j < windowing.FeatureCount; j++ {
				v := sample.Features.At(tstep, j)
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
		}
		assert.GreaterOrEqual(t, sample.Target, 0.0)
		assert.LessOrEqual(t, sample.Target, 1.0)
	}

	// Inputs are not mutated.
	assert.Equal(t, 10.0+0.0, train[0].Features.At(0, 0))

	lo, hi := fitted.TargetRange()
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 24.0, hi)
}

func TestTransformUsesStoredStatisticsOnly(t *testing.T) {
	scaler := NewScaler(windowing.WindowSize)
	train := makeSamples(8, 10)

	fitted, _, err := scaler.FitTransform(train)
	require.NoError(t, err)

	// Test data far outside the training range extrapolates beyond
	// [0,1] instead of being refit.
	test := makeSamples(2, 1000)
	scaled, err := fitted.Transform(test)
	require.NoError(t, err)
	assert.Greater(t, scaled[0].Target, 1.0)
	assert.Greater(t, scaled[0].Features.At(0, 0), 1.0)
}

func TestNoLeakageFitStatistics(t *testing.T) {
	train := makeSamples(8, 10)

	// Fit twice against wildly different "test" partitions; the fitted
	// statistics depend only on the training partition.
	fittedA, _, err := NewScaler(windowing.WindowSize).FitTransform(train)
	require.NoError(t, err)
	_, err = fittedA.Transform(makeSamples(3, -5000))
	require.NoError(t, err)

	fittedB, _, err := NewScaler(windowing.WindowSize).FitTransform(train)
	require.NoError(t, err)
	_, err = fittedB.Transform(makeSamples(3, 99999))
	require.NoError(t, err)

	for j := 0; j < windowing.FeatureCount; j++ {
		loA, hiA := fittedA.FeatureRange(j)
		loB, hiB := fittedB.FeatureRange(j)
		assert.Equal(t, loA, loB, "feature %d min must be bit-identical", j)
		assert.Equal(t, hiA, hiB, "feature %d max must be bit-identical", j)
	}
	loA, hiA := fittedA.TargetRange()
	loB, hiB := fittedB.TargetRange()
	assert.Equal(t, loA, loB)
	assert.Equal(t, hiA, hiB)
}

func TestInverseTransformRoundTrip(t *testing.T) {
	train := makeSamples(8, 10)
	fitted, scaled, err := NewScaler(windowing.WindowSize).FitTransform(train)
	require.NoError(t, err)

	normalized := make([]float64, len(scaled))
	for i, sample := range scaled {
		normalized[i] = sample.Target
	}
	restored, err := fitted.InverseTransform(normalized)
	require.NoError(t, err)
	for i := range restored {
		assert.InDelta(t, train[i].Target, restored[i], 1e-9, "target %d round trip", i)
	}
}

func TestNotFittedGuard(t *testing.T) {
	var zero FittedScaler
	_, err := zero.Transform(makeSamples(1, 0))
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = zero.InverseTransform([]float64{0.5})
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestShapeMismatchRejected(t *testing.T) {
	scaler := NewScaler(windowing.WindowSize)

	bad := []windowing.WindowSample{{
		Features: mat.NewDense(windowing.WindowSize+1, windowing.FeatureCount, nil),
	}}
	_, _, err := scaler.FitTransform(bad)
	assert.ErrorIs(t, err, windowing.ErrShapeMismatch)

	fitted, _, err := scaler.FitTransform(makeSamples(4, 0))
	require.NoError(t, err)
	_, err = fitted.Transform(bad)
	assert.ErrorIs(t, err, windowing.ErrShapeMismatch)
}

func TestFitEmptyPartition(t *testing.T) {
	_, _, err := NewScaler(windowing.WindowSize).FitTransform(nil)
	assert.ErrorIs(t, err, ErrEmptyPartition)
}

func TestDegenerateRangeScalesToZero(t *testing.T) {
	m := mat.NewDense(windowing.WindowSize, windowing.FeatureCount, nil)
	for tstep := 0; tstep < windowing.WindowSize; tstep++ {
		for j := 0; j < windowing.FeatureCount; j++ {
			m.Set(tstep, j, 3.0)
		}
	}
	train := []windowing.WindowSample{
		{Features: m, Target: 5},
		{Features: mat.DenseCopyOf(m), Target: 5},
	}
	_, scaled, err := NewScaler(windowing.WindowSize).FitTransform(train)
	require.NoError(t, err)
	assert.Zero(t, scaled[0].Features.At(0, 0))
	assert.Zero(t, scaled[0].Target)
}
