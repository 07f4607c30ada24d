// Package evaluation scores a trained model on the held-out partition
// and hands the aligned series to a visualization collaborator.
package evaluation

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"example.com/epiforecast/scaling"
	"example.com/epiforecast/windowing"
)

// ErrEmptyTestSet indicates there is nothing to evaluate.
var ErrEmptyTestSet = errors.New("empty test set")

// Predictor is the trained-model contract this package needs: an opaque
// window-to-scalar function applied in order.
type Predictor interface {
	PredictBatch(samples []windowing.WindowSample) ([]float64, error)
}

// Renderer is the visualization collaborator. It receives two
// equal-length ordered series aligned by index and renders a labeled
// line chart. Fire-and-forget: no return contract.
type Renderer interface {
	RenderLineChart(title string, actual, predicted []float64)
}

// Metrics is the run's reporting surface. MAE is computed in normalized
// space (the scale the model trained in); R² is computed after inverse
// scaling, i.e. on the stabilized-log scale. Raw case counts are never
// reported since the upstream log1p stabilization is not inverted.
type Metrics struct {
	MAE float64 `json:"mae"`
	R2  float64 `json:"r2"`
}

// Result bundles the metrics with the inverse-scaled series handed to
// the renderer.
type Result struct {
	Metrics   Metrics   `json:"metrics"`
	Actual    []float64 `json:"actual"`
	Predicted []float64 `json:"predicted"`
}

// Service evaluates trained models.
type Service struct {
	renderer Renderer
}

// NewService creates an evaluator. renderer may be nil, in which case
// no chart is produced.
func NewService(renderer Renderer) *Service {
	return &Service{renderer: renderer}
}

// Evaluate predicts over the scaled test partition, inverse-transforms
// predictions and truths back to the stabilized-log scale, computes the
// metrics, and delegates chart rendering.
func (s *Service) Evaluate(model Predictor, fitted *scaling.FittedScaler, scaledTest []windowing.WindowSample) (*Result, error) {
	if len(scaledTest) == 0 {
		return nil, ErrEmptyTestSet
	}

	preds, err := model.PredictBatch(scaledTest)
	if err != nil {
		return nil, fmt.Errorf("predicting test set: %w", err)
	}

	mae := 0.0
	truths := make([]float64, len(scaledTest))
	for i, sample := range scaledTest {
		truths[i] = sample.Target
		d := preds[i] - sample.Target
		if d < 0 {
			d = -d
		}
		mae += d
	}
	mae /= float64(len(scaledTest))

	actual, err := fitted.InverseTransform(truths)
	if err != nil {
		return nil, fmt.Errorf("inverse-transforming targets: %w", err)
	}
	predicted, err := fitted.InverseTransform(preds)
	if err != nil {
		return nil, fmt.Errorf("inverse-transforming predictions: %w", err)
	}

	result := &Result{
		Metrics: Metrics{
			MAE: mae,
			R2:  stat.RSquaredFrom(predicted, actual, nil),
		},
		Actual:    actual,
		Predicted: predicted,
	}

	if s.renderer != nil {
		s.renderer.RenderLineChart("Actual vs Predicted Daily Confirmed (log scale)", result.Actual, result.Predicted)
	}
	return result, nil
}
