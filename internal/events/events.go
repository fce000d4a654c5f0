// Package events publishes run notifications to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/ingest"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Event types.
const (
	TypeAggregated = "analytics.aggregated"
	TypeIngested   = "ingest.completed"
	TypeTaskDone   = "task.completed"
)

// Envelope wraps every published payload.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends envelopes under a subject prefix. A nil Publisher drops
// everything.
type Publisher struct {
	conn   Conn
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewPublisher wraps conn. Subjects are prefix.<event type>.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: strings.Trim(prefix, "."), now: time.Now, logger: logger}
}

// Config configures the NATS connection.
type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Connect dials NATS with reconnect handling that logs state changes.
func Connect(cfg Config, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	options := []nats.Option{
		nats.Name("tagstream"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the full subject for an event type.
func (p *Publisher) Subject(typ string) string {
	if p.prefix == "" {
		return typ
	}
	return p.prefix + "." + typ
}

// Publish wraps payload in an envelope and sends it.
func (p *Publisher) Publish(typ string, payload any) error {
	if p == nil || p.conn == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", typ, err)
	}
	data, err := json.Marshal(Envelope{
		ID:      uuid.New().String(),
		Type:    typ,
		Time:    p.now().UTC(),
		Payload: body,
	})
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", typ, err)
	}
	return p.conn.Publish(p.Subject(typ), data)
}

// AggregatedPayload is published after every aggregation run.
type AggregatedPayload struct {
	RunID       string    `json:"run_id"`
	Granularity string    `json:"granularity"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Written     int       `json:"written"`
	Unchanged   int       `json:"unchanged"`
	Deleted     int       `json:"deleted"`
	Failed      []string  `json:"failed,omitempty"`
}

// OnAggregate has the shape of analytics.Options.OnRun. Publish errors are
// logged; a run never fails because of a notification.
func (p *Publisher) OnAggregate(ctx context.Context, g store.Granularity, res analytics.RunResult) {
	payload := AggregatedPayload{
		RunID:       res.RunID,
		Granularity: string(g),
		Start:       res.Start,
		End:         res.End,
		Written:     res.Written,
		Unchanged:   res.Unchanged,
		Deleted:     res.Deleted,
	}
	for _, f := range res.Failed {
		payload.Failed = append(payload.Failed, f.Error())
	}
	if err := p.Publish(TypeAggregated, payload); err != nil {
		p.logger.Warn("publish aggregation event failed", "run_id", res.RunID, "error", err)
	}
}

// IngestedPayload is published after an ingest batch.
type IngestedPayload struct {
	Source   string `json:"source"`
	Inserted int    `json:"inserted"`
	Updated  int    `json:"updated"`
	Matched  int    `json:"matched"`
	Errors   int    `json:"errors"`
}

// Ingested publishes the stats of an ingest batch.
func (p *Publisher) Ingested(source string, st ingest.Stats) error {
	return p.Publish(TypeIngested, IngestedPayload{
		Source:   source,
		Inserted: st.Inserted,
		Updated:  st.Updated,
		Matched:  st.Matched,
		Errors:   st.Errors,
	})
}

// TaskPayload is published when a scheduled or triggered task finishes.
type TaskPayload struct {
	Task     string        `json:"task"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// TaskDone publishes a task completion.
func (p *Publisher) TaskDone(task string, d time.Duration, runErr error) error {
	payload := TaskPayload{Task: task, Duration: d}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	return p.Publish(TypeTaskDone, payload)
}
