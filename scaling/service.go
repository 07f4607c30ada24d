// Package scaling normalizes window tensors and targets to [0,1] with
// min/max statistics fitted on the training partition only.
//
// The fit-once/reuse-many discipline is enforced by construction: the
// unfitted Scaler can only produce a FittedScaler via FitTransform, and
// Transform/InverseTransform exist only on FittedScaler. Leaking test
// statistics into the fit would require calling FitTransform on test
// data explicitly, which nothing in the pipeline does.
package scaling

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"example.com/epiforecast/windowing"
)

var (
	// ErrNotFitted indicates use of a zero-value FittedScaler that was
	// not produced by FitTransform.
	ErrNotFitted = errors.New("scaler has not been fitted")
	// ErrEmptyPartition indicates a fit attempt on no samples.
	ErrEmptyPartition = errors.New("cannot fit scaler on an empty partition")
)

// Scaler is the unfitted phase of the normalizer. It holds only the
// tensor contract it will enforce.
type Scaler struct {
	windowSize int
}

// NewScaler creates an unfitted scaler for windows of the given size.
func NewScaler(windowSize int) *Scaler {
	return &Scaler{windowSize: windowSize}
}

// FittedScaler holds the statistics computed from one training
// partition. It is read-only after creation: both normalizers (feature
// space and target space) are fit exactly once and reused for every
// subsequent transform and inverse transform.
type FittedScaler struct {
	windowSize           int
	featMin, featMax     []float64
	targetMin, targetMax float64
	fitted               bool
}

// FitTransform computes per-feature min/max over the training windows
// (flattened across samples and timesteps, so each feature column gets
// one range) and min/max over the training targets, then returns the
// fitted scaler together with the normalized training samples.
func (s *Scaler) FitTransform(train []windowing.WindowSample) (*FittedScaler, []windowing.WindowSample, error) {
	if len(train) == 0 {
		return nil, nil, ErrEmptyPartition
	}
	for _, sample := range train {
		if err := windowing.CheckShape(sample.Features, s.windowSize); err != nil {
			return nil, nil, err
		}
	}

	f := &FittedScaler{
		windowSize: s.windowSize,
		featMin:    make([]float64, windowing.FeatureCount),
		featMax:    make([]float64, windowing.FeatureCount),
		fitted:     true,
	}

	// Per-feature ranges over the flattened (samples x timesteps)
	// training tensor. Flattening to 2D keeps per-timestep feature
	// grouping intact: column j is always feature j.
	col := make([]float64, s.windowSize)
	for j := 0; j < windowing.FeatureCount; j++ {
		mat.Col(col, j, train[0].Features)
		lo, hi := floats.Min(col), floats.Max(col)
		for _, sample := range train[1:] {
			mat.Col(col, j, sample.Features)
			if v := floats.Min(col); v < lo {
				lo = v
			}
			if v := floats.Max(col); v > hi {
				hi = v
			}
		}
		f.featMin[j], f.featMax[j] = lo, hi
	}

	targets := make([]float64, len(train))
	for i, sample := range train {
		targets[i] = sample.Target
	}
	f.targetMin, f.targetMax = floats.Min(targets), floats.Max(targets)

	scaled, err := f.Transform(train)
	if err != nil {
		return nil, nil, err
	}
	return f, scaled, nil
}

// Transform normalizes samples with the stored training statistics. It
// never recomputes statistics; test partitions pass through here. The
// inputs are not mutated; fresh matrices are returned.
func (f *FittedScaler) Transform(samples []windowing.WindowSample) ([]windowing.WindowSample, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	out := make([]windowing.WindowSample, len(samples))
	for i, sample := range samples {
		if err := windowing.CheckShape(sample.Features, f.windowSize); err != nil {
			return nil, fmt.Errorf("transform sample %d: %w", i, err)
		}
		m := mat.NewDense(f.windowSize, windowing.FeatureCount, nil)
		for t := 0; t < f.windowSize; t++ {
			for j := 0; j < windowing.FeatureCount; j++ {
				m.Set(t, j, scale(sample.Features.At(t, j), f.featMin[j], f.featMax[j]))
			}
		}
		out[i] = windowing.WindowSample{
			Features: m,
			Target:   scale(sample.Target, f.targetMin, f.targetMax),
		}
	}
	return out, nil
}

// InverseTransform maps normalized target values back to the
// stabilized-log daily-confirmed scale. It deliberately stops there:
// the log1p stabilization applied upstream is never inverted, so the
// results are log-space magnitudes, not raw case counts.
func (f *FittedScaler) InverseTransform(values []float64) ([]float64, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v*(f.targetMax-f.targetMin) + f.targetMin
	}
	return out, nil
}

// FeatureRange returns the fitted min/max for one feature column.
// Exposed so callers can verify fit provenance.
func (f *FittedScaler) FeatureRange(col int) (lo, hi float64) {
	return f.featMin[col], f.featMax[col]
}

// TargetRange returns the fitted min/max of the training targets.
func (f *FittedScaler) TargetRange() (lo, hi float64) {
	return f.targetMin, f.targetMax
}

// scale maps v into [0,1] for the range [lo,hi]. A degenerate range
// (constant column) maps to 0 rather than dividing by zero; values
// outside the fitted range extrapolate beyond [0,1], matching min/max
// normalizer behavior on unseen test data.
func scale(v, lo, hi float64) float64 {
	if hi == lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}
