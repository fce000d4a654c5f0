package analytics

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/memstore"
)

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

type world struct {
	st       *memstore.Store
	channel  int64
	quiet    int64
	steel    int64
	car      int64
	category int64
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{st: memstore.New()}

	var err error
	if w.channel, err = w.st.UpsertChannel(ctx, store.Channel{ExternalID: "bourse", Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if w.quiet, err = w.st.UpsertChannel(ctx, store.Channel{ExternalID: "quiet", Active: true}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if _, err = w.st.UpsertChannel(ctx, store.Channel{ExternalID: "retired", Active: false}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if w.category, err = w.st.UpsertCategory(ctx, dictionary.Category{Name: "symbols", Active: true}); err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	if w.steel, err = w.st.UpsertTerm(ctx, dictionary.Term{CategoryID: w.category, Text: "فولاد", Active: true, Metadata: dictionary.Metadata{}.WithIndustry("فلزات")}); err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	if w.car, err = w.st.UpsertTerm(ctx, dictionary.Term{CategoryID: w.category, Text: "خودرو", Active: true}); err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	return w
}

func (w *world) post(t *testing.T, origin int64, at time.Time, terms ...int64) int64 {
	t.Helper()
	ctx := context.Background()
	res, err := w.st.UpsertMessage(ctx, store.Message{ChannelID: w.channel, OriginID: origin, Text: "x", Canonical: "x", PostedAt: at})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	if _, err := w.st.ReconcileMatches(ctx, res.ID, terms, at); err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}
	return res.ID
}

func TestComputeAggregatesHourly(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.post(t, 1, day.Add(8*time.Hour+5*time.Minute), w.steel, w.car)
	w.post(t, 2, day.Add(8*time.Hour+50*time.Minute), w.steel)
	w.post(t, 3, day.Add(8*time.Hour+55*time.Minute))
	w.post(t, 4, day.Add(9*time.Hour+10*time.Minute), w.car)

	var notified RunResult
	agg := NewAggregator(w.st, Options{
		Now:   func() time.Time { return day.Add(12 * time.Hour) },
		OnRun: func(_ context.Context, _ store.Granularity, res RunResult) { notified = res },
	})
	res, err := agg.ComputeAggregates(ctx, day.Add(8*time.Hour), day.Add(10*time.Hour), store.Hourly)
	if err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	if res.Written != 2 || res.Deleted != 0 || len(res.Failed) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if notified.RunID != res.RunID {
		t.Errorf("OnRun not called with the result")
	}

	rec, ok, err := w.st.GetAnalytics(ctx, store.BucketKey{ChannelID: w.channel, Date: "2024-03-10", Hour: 8})
	if err != nil || !ok {
		t.Fatalf("GetAnalytics = %v, %v", ok, err)
	}
	if rec.MessageCount != 3 || rec.MatchCount != 2 {
		t.Errorf("counts = %d/%d", rec.MessageCount, rec.MatchCount)
	}
	if len(rec.TopTerms) != 2 || rec.TopTerms[0].ID != w.steel || rec.TopTerms[0].Count != 2 {
		t.Errorf("TopTerms = %+v", rec.TopTerms)
	}
	if len(rec.TopIndustries) != 1 || rec.TopIndustries[0].Count != 2 {
		t.Errorf("TopIndustries = %+v", rec.TopIndustries)
	}
	if len(rec.TopCategories) != 1 || rec.TopCategories[0].Count != 2 {
		t.Errorf("TopCategories = %+v", rec.TopCategories)
	}
	if rec.DayOfWeek != time.Sunday || rec.RunID != res.RunID || !rec.ComputedAt.Equal(day.Add(12*time.Hour)) {
		t.Errorf("record extras = %v %q %v", rec.DayOfWeek, rec.RunID, rec.ComputedAt)
	}

	// The quiet channel has no messages, so it has no records.
	recs, _ := w.st.ListAnalytics(ctx, w.quiet, day, day.Add(24*time.Hour), store.Hourly)
	if len(recs) != 0 {
		t.Errorf("quiet channel records = %+v", recs)
	}
}

func TestComputeAggregatesIdempotentAndDeletesEmptied(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.post(t, 1, day.Add(8*time.Hour), w.steel)
	late := w.post(t, 2, day.Add(9*time.Hour), w.steel)

	clock := day.Add(11 * time.Hour)
	agg := NewAggregator(w.st, Options{Now: func() time.Time { return clock }})
	start, end := day.Add(8*time.Hour), day.Add(10*time.Hour)
	if _, err := agg.ComputeAggregates(ctx, start, end, store.Hourly); err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	first, _ := w.st.ListAnalytics(ctx, w.channel, start, end, store.Hourly)
	if len(first) != 2 || len(first[0].TopTerms) == 0 {
		t.Fatalf("first run records = %+v", first)
	}

	clock = clock.Add(time.Hour)
	res, err := agg.ComputeAggregates(ctx, start, end, store.Hourly)
	if err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	if res.Written != 0 || res.Unchanged != 2 {
		t.Fatalf("rerun result = %+v", res)
	}
	second, _ := w.st.ListAnalytics(ctx, w.channel, start, end, store.Hourly)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("rerun changed records:\n%+v\n%+v", first, second)
	}

	// New source data rewrites only the affected bucket.
	w.post(t, 3, day.Add(9*time.Hour+30*time.Minute), w.car)
	res, err = agg.ComputeAggregates(ctx, start, end, store.Hourly)
	if err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	if res.Written != 1 || res.Unchanged != 1 {
		t.Fatalf("result after new message = %+v", res)
	}
	rec, _, _ := w.st.GetAnalytics(ctx, second[1].Key)
	if rec.MessageCount != 2 || rec.RunID != res.RunID || !rec.ComputedAt.Equal(clock) {
		t.Fatalf("rewritten record = %+v", rec)
	}

	// Retention empties both buckets; their records must go.
	if _, err := w.st.DeleteMessagesBefore(ctx, day.Add(9*time.Hour+45*time.Minute)); err != nil {
		t.Fatalf("DeleteMessagesBefore: %v", err)
	}
	if _, err := w.st.GetMessage(ctx, late); !errors.Is(err, internalerr.ErrNotFound) {
		t.Fatalf("message should be gone: %v", err)
	}
	res, err = agg.ComputeAggregates(ctx, start, end, store.Hourly)
	if err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	if res.Written != 0 || res.Unchanged != 0 || res.Deleted != 2 {
		t.Fatalf("result after emptying = %+v", res)
	}
}

func TestComputeAggregatesSkipsBadBucket(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.post(t, 1, day.Add(8*time.Hour), w.car)
	w.post(t, 2, day.Add(9*time.Hour), w.steel)

	if err := w.st.SetTermMetadataRaw(w.car, []byte(`{not json`)); err != nil {
		t.Fatalf("SetTermMetadataRaw: %v", err)
	}

	agg := NewAggregator(w.st, Options{})
	res, err := agg.ComputeAggregates(ctx, day.Add(8*time.Hour), day.Add(10*time.Hour), store.Hourly)
	if err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	if res.Written != 1 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v", res)
	}
	f := res.Failed[0]
	if f.Key.Hour != 8 || !errors.Is(f.Err, internalerr.ErrMalformedMetadata) {
		t.Fatalf("failure = %v", f)
	}
}

func TestComputeAggregatesDaily(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.post(t, 1, day.Add(1*time.Hour), w.steel)
	w.post(t, 2, day.Add(23*time.Hour), w.steel)
	w.post(t, 3, day.Add(25*time.Hour), w.car)

	agg := NewAggregator(w.st, Options{})
	res, err := agg.ComputeAggregates(ctx, day, day.Add(48*time.Hour), store.Daily)
	if err != nil {
		t.Fatalf("ComputeAggregates: %v", err)
	}
	if res.Written != 2 {
		t.Fatalf("result = %+v", res)
	}
	rec, ok, _ := w.st.GetAnalytics(ctx, store.BucketKey{ChannelID: w.channel, Date: "2024-03-10", Hour: store.DailyHour})
	if !ok || rec.MessageCount != 2 {
		t.Fatalf("daily record = %+v (found %v)", rec, ok)
	}
}

func TestComputeAggregatesRejectsBadInput(t *testing.T) {
	agg := NewAggregator(memstore.New(), Options{})
	ctx := context.Background()
	if _, err := agg.ComputeAggregates(ctx, day, day, store.Hourly); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("empty window = %v", err)
	}
	if _, err := agg.ComputeAggregates(ctx, day, day.Add(time.Hour), "weekly"); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("bad granularity = %v", err)
	}
}
