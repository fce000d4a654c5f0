package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/match"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/memstore"
)

func TestJobsEndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 20, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := memstore.New()

	cat, err := st.UpsertCategory(ctx, dictionary.Category{Name: "symbols", Active: true})
	if err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	term, err := st.UpsertTerm(ctx, dictionary.Term{CategoryID: cat, Text: "فولاد", Active: true})
	if err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	ch, err := st.UpsertChannel(ctx, store.Channel{ExternalID: "bourse", Active: true})
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	recent, err := st.UpsertMessage(ctx, store.Message{ChannelID: ch, OriginID: 1, Text: "فولاد", Canonical: "فولاد", PostedAt: now.Add(-10 * time.Minute)})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	if _, err := st.UpsertMessage(ctx, store.Message{ChannelID: ch, OriginID: 2, Text: "old", Canonical: "old", PostedAt: now.AddDate(0, 0, -20)}); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	jobs := Jobs{
		Store:          st,
		Tagger:         match.NewTagger(st, nil, match.TaggerOptions{Now: clock}),
		Aggregator:     analytics.NewAggregator(st, analytics.Options{Now: clock}),
		RematchWindow:  time.Hour,
		HourlyLookback: 1,
		HistoryDays:    15,
		Now:            clock,
	}

	s := New(time.UTC, nil)
	for _, task := range jobs.Tasks(Specs{}) {
		if err := s.Register(task); err != nil {
			t.Fatalf("Register %s: %v", task.ID, err)
		}
	}

	if err := s.Trigger(ctx, TaskMatch); err != nil {
		t.Fatalf("match: %v", err)
	}
	got, err := st.MatchesForMessage(ctx, recent.ID)
	if err != nil {
		t.Fatalf("MatchesForMessage: %v", err)
	}
	if len(got) != 1 || got[0].TermID != term {
		t.Fatalf("matches = %+v", got)
	}

	if err := s.Trigger(ctx, TaskAggregateHourly); err != nil {
		t.Fatalf("aggregate-hourly: %v", err)
	}
	rec, ok, err := st.GetAnalytics(ctx, store.BucketKey{ChannelID: ch, Date: "2024-03-10", Hour: 12})
	if err != nil || !ok {
		t.Fatalf("hourly record: ok=%v err=%v", ok, err)
	}
	if rec.MessageCount != 1 || rec.MatchCount != 1 {
		t.Fatalf("hourly record = %+v", rec)
	}

	if err := s.Trigger(ctx, TaskAggregateDaily); err != nil {
		t.Fatalf("aggregate-daily: %v", err)
	}
	if _, ok, _ := st.GetAnalytics(ctx, store.BucketKey{ChannelID: ch, Date: "2024-03-10", Hour: store.DailyHour}); !ok {
		t.Fatal("daily record missing")
	}

	if err := s.Trigger(ctx, TaskRetention); err != nil {
		t.Fatalf("retention: %v", err)
	}
	left, err := st.MessagesInRange(ctx, ch, now.AddDate(0, 0, -30), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("MessagesInRange: %v", err)
	}
	if len(left) != 1 || left[0].ID != recent.ID {
		t.Fatalf("after retention = %+v", left)
	}
}

func TestRetentionDisabled(t *testing.T) {
	st := memstore.New()
	jobs := Jobs{Store: st}
	if err := jobs.Retention(context.Background()); err != nil {
		t.Fatalf("Retention: %v", err)
	}
}
