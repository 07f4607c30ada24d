package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"example.com/epiforecast/ingestion"
)

// Store persists run summaries and per-day test predictions.
type Store struct {
	DB *sql.DB
}

// NewStore wraps a database connection and initializes the schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{DB: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize run store schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schemaStatements := []string{
		`CREATE TABLE IF NOT EXISTS forecast_runs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            source_config TEXT NOT NULL,
            edge_policy TEXT,
            started_at TIMESTAMP,
            finished_at TIMESTAMP,
            entity_count INTEGER,
            global_rows INTEGER,
            sample_count INTEGER,
            train_count INTEGER,
            test_count INTEGER,
            epochs_run INTEGER,
            best_epoch INTEGER,
            stopped_early BOOLEAN,
            test_mae DOUBLE PRECISION,
            test_r2 DOUBLE PRECISION,
            error_message TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_forecast_runs_status ON forecast_runs(status);`,
		`CREATE TABLE IF NOT EXISTS run_predictions (
            run_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            actual DOUBLE PRECISION NOT NULL,
            predicted DOUBLE PRECISION NOT NULL,
            PRIMARY KEY (run_id, position),
            FOREIGN KEY (run_id) REFERENCES forecast_runs(id) ON DELETE CASCADE
        );`,
	}
	for i, stmt := range schemaStatements {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement #%d: %w", i+1, err)
		}
	}
	log.Println("Schema for 'forecast_runs' and 'run_predictions' tables initialized successfully.")
	return nil
}

// InsertRun stores one finished run summary.
func (s *Store) InsertRun(run *Run) error {
	sourceJSON, err := json.Marshal(run.Source)
	if err != nil {
		return fmt.Errorf("failed to marshal source config for run %s: %w", run.ID, err)
	}
	_, err = s.DB.Exec(`INSERT INTO forecast_runs
        (id, status, source_config, edge_policy, started_at, finished_at,
         entity_count, global_rows, sample_count, train_count, test_count,
         epochs_run, best_epoch, stopped_early, test_mae, test_r2, error_message)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		run.ID, string(run.Status), string(sourceJSON), run.EdgePolicy,
		run.StartedAt, run.FinishedAt,
		run.EntityCount, run.GlobalRows, run.SampleCount, run.TrainCount, run.TestCount,
		run.EpochsRun, run.BestEpoch, run.StoppedEarly, run.TestMAE, run.TestR2, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(id string) (*Run, bool, error) {
	row := s.DB.QueryRow(`SELECT id, status, source_config, edge_policy, started_at, finished_at,
        entity_count, global_rows, sample_count, train_count, test_count,
        epochs_run, best_epoch, stopped_early, test_mae, test_r2, error_message
        FROM forecast_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch run %s: %w", id, err)
	}
	return run, true, nil
}

// ListRuns returns all runs, most recent first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.DB.Query(`SELECT id, status, source_config, edge_policy, started_at, finished_at,
        entity_count, global_rows, sample_count, train_count, test_count,
        epochs_run, best_epoch, stopped_early, test_mae, test_r2, error_message
        FROM forecast_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, sourceJSON string
	var errorMessage sql.NullString
	if err := row.Scan(&run.ID, &status, &sourceJSON, &run.EdgePolicy,
		&run.StartedAt, &run.FinishedAt,
		&run.EntityCount, &run.GlobalRows, &run.SampleCount, &run.TrainCount, &run.TestCount,
		&run.EpochsRun, &run.BestEpoch, &run.StoppedEarly, &run.TestMAE, &run.TestR2,
		&errorMessage); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.ErrorMessage = errorMessage.String
	if err := json.Unmarshal([]byte(sourceJSON), &run.Source); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source config: %w", err)
	}
	return &run, nil
}

// InsertPredictions stores the aligned actual/predicted series of one
// run's test partition.
func (s *Store) InsertPredictions(runID string, actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return fmt.Errorf("actual and predicted series differ in length: %d vs %d", len(actual), len(predicted))
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO run_predictions (run_id, position, actual, predicted) VALUES ($1,$2,$3,$4)`)
	if err != nil {
		return fmt.Errorf("failed to prepare prediction insert: %w", err)
	}
	defer stmt.Close()

	for i := range actual {
		if _, err := stmt.Exec(runID, i, actual[i], predicted[i]); err != nil {
			return fmt.Errorf("failed to insert prediction %d for run %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// GetChartData fetches a run's aligned series in chronological order.
func (s *Store) GetChartData(runID string) (*ChartData, error) {
	rows, err := s.DB.Query(`SELECT actual, predicted FROM run_predictions WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch predictions for run %s: %w", runID, err)
	}
	defer rows.Close()

	data := &ChartData{RunID: runID}
	for rows.Next() {
		var actual, predicted float64
		if err := rows.Scan(&actual, &predicted); err != nil {
			return nil, fmt.Errorf("failed to scan prediction row: %w", err)
		}
		data.Actual = append(data.Actual, actual)
		data.Predicted = append(data.Predicted, predicted)
	}
	return data, rows.Err()
}

// sourceConfigString renders a source config for log lines.
func sourceConfigString(cfg ingestion.SourceConfig) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return string(cfg.Type)
	}
	return string(b)
}
