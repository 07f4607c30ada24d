// Package windowing slices the global series into fixed-length
// historical windows with next-step targets, and splits them
// chronologically for training.
package windowing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"example.com/epiforecast/aggregation"
)

// Pipeline-wide tensor contract.
const (
	// WindowSize is the number of trailing days fed to the model.
	WindowSize = 7
	// FeatureCount is the width of each timestep:
	// [daily, lag3, lag7, rollingAvg3, rollingAvg7].
	FeatureCount = 5
)

var (
	// ErrInsufficientData indicates the global series is too short to
	// cut even one window with a following target.
	ErrInsufficientData = errors.New("insufficient data for windowing")
	// ErrShapeMismatch indicates a feature tensor whose dimensions
	// violate the (WindowSize, FeatureCount) contract. Shared by the
	// scaling and forecast layers, which re-check shapes at their
	// boundaries.
	ErrShapeMismatch = errors.New("feature tensor shape mismatch")
)

// WindowSample pairs one window of history with the value to predict:
// the global daily-confirmed figure on the day immediately after the
// window. Samples are materialized once and never mutated; the scaler
// returns fresh copies.
type WindowSample struct {
	// Features is a windowSize x FeatureCount matrix; row t is the
	// global feature vector at position t within the window.
	Features *mat.Dense
	// Target is the stabilized-log daily confirmed total at the
	// position following the window.
	Target float64
}

// CheckShape verifies a sample's feature matrix against the contract.
func CheckShape(features *mat.Dense, windowSize int) error {
	r, c := features.Dims()
	if r != windowSize || c != FeatureCount {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrShapeMismatch, r, c, windowSize, FeatureCount)
	}
	return nil
}

// Slide produces the supervised samples for a global series: for each
// index i from windowSize to len(series)-1, the rows [i-windowSize, i)
// form the feature matrix and row i's daily confirmed value is the
// target. Exactly len(series)-windowSize samples are produced, in
// chronological order, never shuffled; the downstream split is
// chronological and depends on that ordering.
func Slide(series []aggregation.GlobalRow, windowSize int) ([]WindowSample, error) {
	n := len(series)
	if n <= windowSize {
		return nil, fmt.Errorf("%w: have %d rows, need more than %d", ErrInsufficientData, n, windowSize)
	}

	samples := make([]WindowSample, 0, n-windowSize)
	for i := windowSize; i < n; i++ {
		m := mat.NewDense(windowSize, FeatureCount, nil)
		for t := 0; t < windowSize; t++ {
			m.SetRow(t, series[i-windowSize+t].Vector())
		}
		samples = append(samples, WindowSample{Features: m, Target: series[i].DailyConfirmed})
	}
	return samples, nil
}

// Split holds the chronological train/test partition of the samples.
type Split struct {
	Train []WindowSample
	Test  []WindowSample
}

// ChronologicalSplit partitions samples in order: the first trainFrac
// share becomes the training set and the remaining tail the test set.
// The test count is rounded up, so an 80/20 split of 13 samples yields
// 10 train and 3 test.
func ChronologicalSplit(samples []WindowSample, trainFrac float64) Split {
	n := len(samples)
	testN := int(math.Ceil(float64(n) * (1 - trainFrac)))
	if testN > n {
		testN = n
	}
	return Split{
		Train: samples[:n-testN],
		Test:  samples[n-testN:],
	}
}
