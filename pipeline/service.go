// Package pipeline orchestrates one forecasting run end to end and owns
// the surrounding glue the core transforms stay free of: persistence,
// HTTP surface, scheduling, and run-completed events.
package pipeline

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/epiforecast/aggregation"
	"example.com/epiforecast/evaluation"
	"example.com/epiforecast/features"
	"example.com/epiforecast/forecast"
	"example.com/epiforecast/ingestion"
	"example.com/epiforecast/scaling"
	"example.com/epiforecast/windowing"
)

// trainFraction is the chronological train share of the window samples.
const trainFraction = 0.8

// EventPublisher is notified when a run completes. Implementations must
// tolerate being called from the request path; failures are logged, not
// propagated.
type EventPublisher interface {
	PublishRunCompleted(run *Run) error
}

// Service executes pipeline runs.
type Service struct {
	ingestor  *ingestion.Service
	store     *Store
	publisher EventPublisher
	evaluator *evaluation.Service
	engine    *features.Engine
	trainCfg  forecast.Config
}

// NewService creates the run orchestrator. publisher and renderer may be
// nil; store must not be.
func NewService(ingestor *ingestion.Service, store *Store, publisher EventPublisher, renderer evaluation.Renderer, trainCfg forecast.Config) *Service {
	if store == nil {
		log.Panicf("pipeline.Service requires a run store, but received nil.")
	}
	return &Service{
		ingestor:  ingestor,
		store:     store,
		publisher: publisher,
		evaluator: evaluation.NewService(renderer),
		engine:    features.NewEngine(features.ShortWindow),
		trainCfg:  trainCfg,
	}
}

// Execute runs the full pipeline against one source: load, featurize
// per entity, aggregate, window, split chronologically, scale with
// statistics fit on the training partition only, train, evaluate, and
// persist the outcome. Data flows strictly one way; every stage is a
// synchronous in-memory transform.
//
// Any contract violation upstream of training aborts the run before the
// model sees data; the failure is recorded on the run summary and no
// predictions are persisted.
func (s *Service) Execute(source ingestion.SourceConfig) (*Run, error) {
	run := &Run{
		ID:         uuid.New().String(),
		Source:     source,
		EdgePolicy: s.engine.Policy().String(),
		StartedAt:  time.Now().UTC(),
	}
	log.Printf("Run %s started for source %s", run.ID, sourceConfigString(source))

	result, err := s.execute(run, source)
	run.FinishedAt = time.Now().UTC()
	if err != nil {
		run.Status = RunFailed
		run.ErrorMessage = err.Error()
		if storeErr := s.store.InsertRun(run); storeErr != nil {
			log.Printf("Failed to persist failed run %s: %v", run.ID, storeErr)
		}
		return run, err
	}

	run.Status = RunCompleted
	run.TestMAE = result.Metrics.MAE
	run.TestR2 = result.Metrics.R2
	if err := s.store.InsertRun(run); err != nil {
		return run, fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}
	if err := s.store.InsertPredictions(run.ID, result.Actual, result.Predicted); err != nil {
		return run, fmt.Errorf("failed to persist predictions for run %s: %w", run.ID, err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRunCompleted(run); err != nil {
			log.Printf("Failed to publish run-completed event for %s: %v", run.ID, err)
		}
	}

	log.Printf("Run %s completed: %d samples (%d train / %d test), test MAE=%.6f R2=%.4f",
		run.ID, run.SampleCount, run.TrainCount, run.TestCount, run.TestMAE, run.TestR2)
	return run, nil
}

// execute performs the stages, filling counters on the run as it goes.
func (s *Service) execute(run *Run, source ingestion.SourceConfig) (*evaluation.Result, error) {
	observations, err := s.ingestor.Load(source)
	if err != nil {
		return nil, fmt.Errorf("ingestion failed: %w", err)
	}
	log.Printf("Run %s: loaded %d observations", run.ID, len(observations))

	series := ingestion.GroupByEntity(observations)
	run.EntityCount = len(series)

	var rows []features.FeatureRow
	for _, entitySeries := range series {
		entityRows, err := s.engine.Derive(entitySeries)
		if err != nil {
			return nil, fmt.Errorf("feature derivation failed: %w", err)
		}
		rows = append(rows, entityRows...)
	}

	global := aggregation.Aggregate(rows)
	run.GlobalRows = len(global)
	log.Printf("Run %s: %d entities aggregated into %d global rows", run.ID, run.EntityCount, run.GlobalRows)

	samples, err := windowing.Slide(global, s.trainCfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("windowing failed: %w", err)
	}
	run.SampleCount = len(samples)

	split := windowing.ChronologicalSplit(samples, trainFraction)
	run.TrainCount = len(split.Train)
	run.TestCount = len(split.Test)

	fitted, scaledTrain, err := scaling.NewScaler(s.trainCfg.WindowSize).FitTransform(split.Train)
	if err != nil {
		return nil, fmt.Errorf("scaler fit failed: %w", err)
	}
	scaledTest, err := fitted.Transform(split.Test)
	if err != nil {
		return nil, fmt.Errorf("scaling test partition failed: %w", err)
	}

	model := forecast.New(s.trainCfg)
	history, err := model.Fit(scaledTrain, scaledTest)
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}
	run.EpochsRun = len(history.Epochs)
	run.BestEpoch = history.BestEpoch
	run.StoppedEarly = history.StoppedEarly

	result, err := s.evaluator.Evaluate(model, fitted, scaledTest)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return result, nil
}
