package pipeline

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// runsSubject is the NATS subject run-completed events are published on.
const runsSubject = "forecast.runs"

// NATSPublisher publishes run-completed events to a NATS server.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the given NATS URL.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// PublishRunCompleted publishes the run summary as JSON.
func (p *NATSPublisher) PublishRunCompleted(run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}
	if err := p.conn.Publish(runsSubject, data); err != nil {
		return fmt.Errorf("failed to publish run %s to %s: %w", run.ID, runsSubject, err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		log.Printf("Failed to drain NATS connection: %v", err)
	}
}

// LogRenderer is the default visualization collaborator: it reports the
// chart it was handed on the process log. The HTTP chart endpoint
// serves the same aligned series to real chart frontends.
type LogRenderer struct{}

// RenderLineChart logs a summary of the chart payload.
func (LogRenderer) RenderLineChart(title string, actual, _ []float64) {
	log.Printf("Chart %q: %d aligned points (actual vs predicted)", title, len(actual))
}
