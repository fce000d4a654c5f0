package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/normalize"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/memstore"
)

type fixture struct {
	st      *memstore.Store
	tagger  *Tagger
	clock   time.Time
	steel   int64
	car     int64
	message int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{st: memstore.New(), clock: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}

	catID, err := f.st.UpsertCategory(ctx, dictionary.Category{Name: "symbols", Policy: dictionary.PolicyExact, Active: true})
	if err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	if f.steel, err = f.st.UpsertTerm(ctx, dictionary.Term{CategoryID: catID, Text: "فولاد", Active: true}); err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	if f.car, err = f.st.UpsertTerm(ctx, dictionary.Term{CategoryID: catID, Text: "خودرو", Active: true}); err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}

	ch, err := f.st.UpsertChannel(ctx, store.Channel{ExternalID: "bourse", Active: true})
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	raw := "#فولاد و خودرو"
	res, err := f.st.UpsertMessage(ctx, store.Message{
		ChannelID: ch, OriginID: 1, Text: raw, Canonical: normalize.Normalize(raw),
		PostedAt: f.clock.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	f.message = res.ID

	f.tagger = NewTagger(f.st, nil, TaggerOptions{
		Concurrency: 2,
		Now:         func() time.Time { return f.clock },
	})
	return f
}

func TestTaggerMatchAndIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.tagger.MatchMessages(ctx, []int64{f.message})
	if err != nil {
		t.Fatalf("MatchMessages: %v", err)
	}
	if res.Inserted != 2 || res.Deleted != 0 || len(res.Failed) != 0 || res.RunID == "" {
		t.Fatalf("first pass = %+v", res)
	}

	f.clock = f.clock.Add(time.Hour)
	res, err = f.tagger.MatchMessages(ctx, []int64{f.message, f.message})
	if err != nil {
		t.Fatalf("MatchMessages: %v", err)
	}
	if res.Messages != 1 || res.Inserted != 0 || res.Deleted != 0 {
		t.Fatalf("second pass changed rows: %+v", res)
	}

	matches, _ := f.st.MatchesForMessage(ctx, f.message)
	for _, m := range matches {
		if !m.MatchedAt.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)) {
			t.Errorf("matched_at changed on re-run: %+v", m)
		}
	}
}

func TestTaggerRematchAfterDictionaryEdit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.tagger.MatchMessages(ctx, []int64{f.message}); err != nil {
		t.Fatalf("MatchMessages: %v", err)
	}

	if err := f.st.SetTermActive(ctx, f.car, false); err != nil {
		t.Fatalf("SetTermActive: %v", err)
	}

	res, err := f.tagger.Rematch(ctx, f.clock.Add(-2*time.Hour), f.clock)
	if err != nil {
		t.Fatalf("Rematch: %v", err)
	}
	if res.Deleted != 1 || res.Inserted != 0 {
		t.Fatalf("rematch = %+v", res)
	}
	matches, _ := f.st.MatchesForMessage(ctx, f.message)
	if len(matches) != 1 || matches[0].TermID != f.steel {
		t.Fatalf("matches after deactivation = %+v", matches)
	}
}

func TestTaggerSnapshotIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap, err := f.tagger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	// Edit lands after the pass took its snapshot.
	if err := f.st.SetTermActive(ctx, f.car, false); err != nil {
		t.Fatalf("SetTermActive: %v", err)
	}

	res, err := f.tagger.MatchWith(ctx, snap, []int64{f.message})
	if err != nil {
		t.Fatalf("MatchWith: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("pass should use its own snapshot, got %+v", res)
	}
}

func TestTaggerCollectsFailures(t *testing.T) {
	f := newFixture(t)
	res, err := f.tagger.MatchMessages(context.Background(), []int64{f.message, 4242})
	if err != nil {
		t.Fatalf("MatchMessages: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].MessageID != 4242 {
		t.Fatalf("failures = %+v", res.Failed)
	}
	if res.Inserted != 2 {
		t.Fatalf("good message not processed: %+v", res)
	}
}

func TestTaggerConcurrentPassesConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.tagger.MatchMessages(ctx, []int64{f.message}); err != nil {
				t.Errorf("MatchMessages: %v", err)
			}
		}()
	}
	wg.Wait()

	matches, _ := f.st.MatchesForMessage(ctx, f.message)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", matches)
	}
	if n := f.tagger.locks.size(); n != 0 {
		t.Fatalf("lock table not drained: %d", n)
	}
}

func TestTaggerCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.tagger.MatchMessages(ctx, []int64{f.message}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
