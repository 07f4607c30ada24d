package pipeline

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"example.com/epiforecast/ingestion"
)

// runExecutor is the run-triggering contract the scheduler needs.
type runExecutor interface {
	Execute(source ingestion.SourceConfig) (*Run, error)
}

// Scheduler triggers retraining runs on a cron schedule against a fixed
// source.
type Scheduler struct {
	service runExecutor
	source  ingestion.SourceConfig
	spec    string
	cron    *cron.Cron
}

// NewScheduler creates a scheduler for the given cron expression.
func NewScheduler(service runExecutor, source ingestion.SourceConfig, spec string) *Scheduler {
	return &Scheduler{
		service: service,
		source:  source,
		spec:    spec,
		cron:    cron.New(),
	}
}

// Start registers the retraining job and starts the cron runner.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.runRetrainingJob)
	if err != nil {
		return fmt.Errorf("failed to register retraining schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	log.Printf("Retraining scheduler started with cron %q", s.spec)
	return nil
}

// runRetrainingJob executes one scheduled run. Failures are logged, not
// propagated; the next scheduled run proceeds regardless.
func (s *Scheduler) runRetrainingJob() {
	log.Printf("Scheduled retraining triggered (cron %q)", s.spec)
	if _, err := s.service.Execute(s.source); err != nil {
		log.Printf("Scheduled run failed: %v", err)
	}
}

// Stop halts the cron runner; a running job finishes first.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
