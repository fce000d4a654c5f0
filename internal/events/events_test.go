package events

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/ingest"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

type recordConn struct {
	mu       sync.Mutex
	subjects []string
	data     [][]byte
	err      error
}

func (c *recordConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.data = append(c.data, data)
	return nil
}

func decode(t *testing.T, data []byte, payload any) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return env
}

func TestOnAggregate(t *testing.T) {
	conn := &recordConn{}
	p := NewPublisher(conn, "tagstream.", nil)
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	p.OnAggregate(context.Background(), store.Hourly, analytics.RunResult{
		RunID:   "01HRUN",
		Start:   start,
		End:     start.Add(time.Hour),
		Written: 3,
		Failed:  []analytics.BucketFailure{{Key: store.BucketKey{ChannelID: 1, Date: "2024-03-10", Hour: 0}, Err: errors.New("bad metadata")}},
	})

	if len(conn.subjects) != 1 || conn.subjects[0] != "tagstream.analytics.aggregated" {
		t.Fatalf("subjects = %v", conn.subjects)
	}
	var got AggregatedPayload
	env := decode(t, conn.data[0], &got)
	if env.Type != TypeAggregated || env.ID == "" || env.Time.IsZero() {
		t.Fatalf("envelope = %+v", env)
	}
	if got.RunID != "01HRUN" || got.Granularity != "hourly" || got.Written != 3 || len(got.Failed) != 1 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestPublishErrorsAreReturnedOrLogged(t *testing.T) {
	conn := &recordConn{err: errors.New("nats: connection closed")}
	p := NewPublisher(conn, "", nil)

	if err := p.Ingested("file.jsonl", ingest.Stats{Inserted: 1}); err == nil {
		t.Fatal("Ingested should surface publish errors")
	}
	// OnAggregate only logs
	p.OnAggregate(context.Background(), store.Daily, analytics.RunResult{RunID: "x"})
}

func TestNilPublisherDrops(t *testing.T) {
	var p *Publisher
	if err := p.TaskDone("match", time.Second, nil); err != nil {
		t.Fatalf("nil publisher: %v", err)
	}
}

func TestTaskDoneAndSubjects(t *testing.T) {
	conn := &recordConn{}
	p := NewPublisher(conn, "", nil)
	if err := p.TaskDone("retention", 2*time.Second, errors.New("boom")); err != nil {
		t.Fatalf("TaskDone: %v", err)
	}
	if conn.subjects[0] != TypeTaskDone {
		t.Fatalf("subject = %q", conn.subjects[0])
	}
	var got TaskPayload
	decode(t, conn.data[0], &got)
	if got.Task != "retention" || got.Duration != 2*time.Second || got.Error != "boom" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("TAGSTREAM_TEST_NATS_URL")
	if url == "" {
		t.Skip("TAGSTREAM_TEST_NATS_URL not set")
	}
	nc, err := Connect(Config{URL: url, MaxReconnects: 1, ReconnectWait: time.Second}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("tagstream-test.>", msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	p := NewPublisher(nc, "tagstream-test", nil)
	if err := p.Ingested("nats", ingest.Stats{Inserted: 2, Matched: 2}); err != nil {
		t.Fatalf("Ingested: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	select {
	case m := <-msgs:
		var got IngestedPayload
		decode(t, m.Data, &got)
		if m.Subject != "tagstream-test.ingest.completed" || got.Inserted != 2 {
			t.Fatalf("got %s %+v", m.Subject, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
