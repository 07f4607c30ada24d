package pipeline

import (
	"time"

	"example.com/epiforecast/ingestion"
)

// RunStatus is the terminal state of one pipeline run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the persisted summary of one end-to-end pipeline execution:
// ingest, featurize, aggregate, window, split, scale, train, evaluate.
type Run struct {
	ID           string                 `json:"id"`
	Status       RunStatus              `json:"status"`
	Source       ingestion.SourceConfig `json:"source"`
	EdgePolicy   string                 `json:"edge_policy"`
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
	EntityCount  int                    `json:"entity_count"`
	GlobalRows   int                    `json:"global_rows"`
	SampleCount  int                    `json:"sample_count"`
	TrainCount   int                    `json:"train_count"`
	TestCount    int                    `json:"test_count"`
	EpochsRun    int                    `json:"epochs_run"`
	BestEpoch    int                    `json:"best_epoch"`
	StoppedEarly bool                   `json:"stopped_early"`
	TestMAE      float64                `json:"test_mae"`
	TestR2       float64                `json:"test_r2"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// ChartData is the payload handed to chart consumers: two equal-length
// ordered series aligned by index.
type ChartData struct {
	RunID     string    `json:"run_id"`
	Actual    []float64 `json:"actual"`
	Predicted []float64 `json:"predicted"`
}
