// Package ingestion loads raw epidemiological observations from a
// configured source and assembles them into per-entity, date-sorted
// series for the feature engine.
package ingestion

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"example.com/epiforecast/features"
)

// SourceType selects how observations are loaded.
type SourceType string

const (
	SourceCSV      SourceType = "csv"
	SourcePostgres SourceType = "postgres"
)

// SourceConfig describes one observation source. For CSV the file must
// carry a header with columns entity_id, date, cumulative_confirmed;
// for Postgres the table (or view) must expose the same columns, with
// date stored as ISO-8601 text.
type SourceConfig struct {
	Type SourceType `json:"type" binding:"required"`
	// Filepath is used by CSV sources.
	Filepath string `json:"filepath,omitempty"`
	// Table is used by Postgres sources.
	Table string `json:"table,omitempty"`
}

// ErrUnsupportedSource indicates a source type this service cannot load.
var ErrUnsupportedSource = errors.New("unsupported source type")

const dateLayout = "2006-01-02"

// Service loads raw observations. The db handle is only required for
// Postgres sources.
type Service struct {
	db *sql.DB
}

// NewService creates an ingestion service. db may be nil when only CSV
// sources are used.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Load reads all observations from the configured source.
func (s *Service) Load(cfg SourceConfig) ([]features.RawObservation, error) {
	switch cfg.Type {
	case SourceCSV:
		return s.loadCSV(cfg.Filepath)
	case SourcePostgres:
		return s.loadPostgres(cfg.Table)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, cfg.Type)
	}
}

// loadCSV reads observations from a headered CSV file.
func (s *Service) loadCSV(filepath string) ([]features.RawObservation, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV source %s: %w", filepath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header from %s: %w", filepath, err)
	}

	cols := map[string]int{}
	for i, name := range header {
		cols[name] = i
	}
	for _, required := range []string{"entity_id", "date", "cumulative_confirmed"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("CSV source %s is missing required column %q", filepath, required)
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV records from %s: %w", filepath, err)
	}

	observations := make([]features.RawObservation, 0, len(records))
	for i, record := range records {
		obs, err := parseObservation(record[cols["entity_id"]], record[cols["date"]], record[cols["cumulative_confirmed"]])
		if err != nil {
			return nil, fmt.Errorf("CSV source %s record %d: %w", filepath, i+1, err)
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

// loadPostgres reads observations from a database table. The table name
// comes from trusted run configuration, not request input.
func (s *Service) loadPostgres(table string) ([]features.RawObservation, error) {
	if s.db == nil {
		return nil, fmt.Errorf("postgres source requested but no database connection is configured")
	}
	query := fmt.Sprintf("SELECT entity_id, date, cumulative_confirmed FROM %s", table)
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations from %s: %w", table, err)
	}
	defer rows.Close()

	var observations []features.RawObservation
	for rows.Next() {
		var entityID, date string
		var cumulative float64
		if err := rows.Scan(&entityID, &date, &cumulative); err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		obs, err := parseObservation(entityID, date, strconv.FormatFloat(cumulative, 'f', -1, 64))
		if err != nil {
			return nil, fmt.Errorf("observation row for entity %s: %w", entityID, err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating observation rows: %w", err)
	}
	return observations, nil
}

func parseObservation(entityID, dateStr, cumulativeStr string) (features.RawObservation, error) {
	if entityID == "" {
		return features.RawObservation{}, fmt.Errorf("empty entity_id")
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		// Fall back to full RFC 3339 timestamps.
		date, err = time.Parse(time.RFC3339, dateStr)
		if err != nil {
			return features.RawObservation{}, fmt.Errorf("unparseable date %q: %w", dateStr, err)
		}
	}
	cumulative, err := strconv.ParseFloat(cumulativeStr, 64)
	if err != nil {
		return features.RawObservation{}, fmt.Errorf("unparseable cumulative_confirmed %q: %w", cumulativeStr, err)
	}
	return features.RawObservation{
		EntityID:            entityID,
		Date:                date.UTC(),
		CumulativeConfirmed: cumulative,
	}, nil
}

// GroupByEntity groups observations into per-entity series, each sorted
// ascending by date. Series are returned sorted by entity ID so runs
// are deterministic.
func GroupByEntity(observations []features.RawObservation) []features.EntitySeries {
	byEntity := make(map[string][]features.RawObservation)
	for _, obs := range observations {
		byEntity[obs.EntityID] = append(byEntity[obs.EntityID], obs)
	}

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	series := make([]features.EntitySeries, 0, len(ids))
	for _, id := range ids {
		obs := byEntity[id]
		sort.Slice(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })
		series = append(series, features.EntitySeries{EntityID: id, Observations: obs})
	}
	return series
}
