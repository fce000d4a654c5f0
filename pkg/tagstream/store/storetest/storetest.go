// Package storetest holds the behaviour every store.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Opener returns an empty store. It should register its own cleanup.
type Opener func(t *testing.T) store.Store

// Run exercises a backend against the shared contract.
func Run(t *testing.T, open Opener) {
	t.Run("Channels", func(t *testing.T) { testChannels(t, open(t)) })
	t.Run("MessageUpsert", func(t *testing.T) { testMessageUpsert(t, open(t)) })
	t.Run("MessageRanges", func(t *testing.T) { testMessageRanges(t, open(t)) })
	t.Run("Dictionary", func(t *testing.T) { testDictionary(t, open(t)) })
	t.Run("ReconcileMatches", func(t *testing.T) { testReconcile(t, open(t)) })
	t.Run("MatchDetails", func(t *testing.T) { testMatchDetails(t, open(t)) })
	t.Run("Retention", func(t *testing.T) { testRetention(t, open(t)) })
	t.Run("Analytics", func(t *testing.T) { testAnalytics(t, open(t)) })
}

var base = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func mustChannel(t *testing.T, s store.Store, ext string) int64 {
	t.Helper()
	id, err := s.UpsertChannel(context.Background(), store.Channel{ExternalID: ext, Username: ext, Active: true})
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	return id
}

func mustMessage(t *testing.T, s store.Store, channelID, origin int64, at time.Time, text string) int64 {
	t.Helper()
	res, err := s.UpsertMessage(context.Background(), store.Message{
		ChannelID: channelID,
		OriginID:  origin,
		Text:      text,
		Canonical: text,
		PostedAt:  at,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	return res.ID
}

type dict struct {
	catID   int64
	termIDs []int64
}

func mustDictionary(t *testing.T, s store.Store, texts ...string) dict {
	t.Helper()
	ctx := context.Background()
	catID, err := s.UpsertCategory(ctx, dictionary.Category{Name: "symbols", Policy: dictionary.PolicyExact, Active: true})
	if err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	d := dict{catID: catID}
	for _, text := range texts {
		id, err := s.UpsertTerm(ctx, dictionary.Term{
			CategoryID: catID,
			Text:       text,
			Active:     true,
			Metadata:   dictionary.Metadata{}.WithIndustry("ind-" + text),
		})
		if err != nil {
			t.Fatalf("UpsertTerm: %v", err)
		}
		d.termIDs = append(d.termIDs, id)
	}
	return d
}

func testChannels(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustChannel(t, s, "chan-a")
	again, err := s.UpsertChannel(ctx, store.Channel{ExternalID: "chan-a", Title: "A", Active: true})
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if again != a {
		t.Fatalf("upsert changed id: %d != %d", again, a)
	}
	if _, err := s.UpsertChannel(ctx, store.Channel{ExternalID: "chan-b", Active: false}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	all, err := s.ListChannels(ctx, false)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(all))
	}
	active, err := s.ListChannels(ctx, true)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(active) != 1 || active[0].Title != "A" {
		t.Fatalf("active channels = %+v", active)
	}
}

func testMessageUpsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	ch := mustChannel(t, s, "c")

	first, err := s.UpsertMessage(ctx, store.Message{
		ChannelID: ch, OriginID: 7, Text: "raw", Canonical: "canon", PostedAt: base, Views: 1,
		Extra: map[string]any{"author": "x"},
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	if !first.Inserted {
		t.Fatal("expected insert")
	}

	second, err := s.UpsertMessage(ctx, store.Message{
		ChannelID: ch, OriginID: 7, Text: "edited", Canonical: "ignored", PostedAt: base, Views: 10,
	})
	if err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	if second.Inserted || second.ID != first.ID || !second.TextChanged {
		t.Fatalf("update result = %+v", second)
	}

	got, err := s.GetMessage(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.Text != "edited" || got.Views != 10 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Canonical != "canon" {
		t.Errorf("canonical overwritten on update: %q", got.Canonical)
	}
	if !got.PostedAt.Equal(base) {
		t.Errorf("PostedAt = %v, want %v", got.PostedAt, base)
	}

	if err := s.SetCanonical(ctx, first.ID, "fresh"); err != nil {
		t.Fatalf("SetCanonical: %v", err)
	}
	got, _ = s.GetMessage(ctx, first.ID)
	if got.Canonical != "fresh" {
		t.Errorf("SetCanonical not applied: %q", got.Canonical)
	}

	if _, err := s.GetMessage(ctx, 9999); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("GetMessage(missing) = %v, want ErrNotFound", err)
	}
	if err := s.SetCanonical(ctx, 9999, "x"); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("SetCanonical(missing) = %v, want ErrNotFound", err)
	}
	_, err = s.UpsertMessage(ctx, store.Message{ChannelID: ch, OriginID: 0, PostedAt: base})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("non-positive origin id = %v, want ErrInvalidInput", err)
	}
}

func testMessageRanges(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := mustChannel(t, s, "a")
	b := mustChannel(t, s, "b")

	m1 := mustMessage(t, s, a, 1, base, "one")
	m2 := mustMessage(t, s, a, 2, base.Add(59*time.Minute), "two")
	mustMessage(t, s, a, 3, base.Add(time.Hour), "three")
	m4 := mustMessage(t, s, b, 1, base.Add(30*time.Minute), "four")

	msgs, err := s.MessagesInRange(ctx, a, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("MessagesInRange: %v", err)
	}
	var ids []int64
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if !reflect.DeepEqual(ids, []int64{m1, m2}) {
		t.Fatalf("MessagesInRange ids = %v, want %v", ids, []int64{m1, m2})
	}

	all, err := s.MessageIDsInRange(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("MessageIDsInRange: %v", err)
	}
	if !reflect.DeepEqual(all, store.UniqueIDs([]int64{m1, m2, m4})) {
		t.Fatalf("MessageIDsInRange = %v", all)
	}
}

func testDictionary(t *testing.T, s store.Store) {
	ctx := context.Background()
	d := mustDictionary(t, s, "فولاد", "خودرو")

	// Re-upsert keeps the id.
	id, err := s.UpsertTerm(ctx, dictionary.Term{CategoryID: d.catID, Text: "فولاد", Active: true})
	if err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	if id != d.termIDs[0] {
		t.Fatalf("term id changed: %d != %d", id, d.termIDs[0])
	}

	meta := dictionary.Metadata{}.WithKeyword("فولاد مبارکه").WithIndustry("فلزات")
	if err := s.UpdateTermMetadata(ctx, id, meta); err != nil {
		t.Fatalf("UpdateTermMetadata: %v", err)
	}
	if err := s.SetTermActive(ctx, d.termIDs[1], false); err != nil {
		t.Fatalf("SetTermActive: %v", err)
	}
	if err := s.SetTermActive(ctx, 9999, false); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("SetTermActive(missing) = %v, want ErrNotFound", err)
	}

	terms, err := s.ListTerms(ctx)
	if err != nil {
		t.Fatalf("ListTerms: %v", err)
	}
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %d", len(terms))
	}
	tm, err := terms[0].Metadata.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tm.Industry != "فلزات" || !reflect.DeepEqual(tm.Keywords, []string{"فولاد مبارکه"}) {
		t.Errorf("metadata round trip = %+v", tm)
	}
	if terms[1].Active {
		t.Error("term should be inactive")
	}

	cats, err := s.ListCategories(ctx)
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != 1 || cats[0].Policy != dictionary.PolicyExact || !cats[0].Active {
		t.Fatalf("categories = %+v", cats)
	}

	rc, rt, err := s.ReadDictionary(ctx)
	if err != nil {
		t.Fatalf("ReadDictionary: %v", err)
	}
	if !reflect.DeepEqual(rc, cats) || !reflect.DeepEqual(rt, terms) {
		t.Fatalf("ReadDictionary = %+v %+v, want %+v %+v", rc, rt, cats, terms)
	}

	snap, problems, err := store.LoadDictionary(ctx, s)
	if err != nil {
		t.Fatalf("LoadDictionary: %v", err)
	}
	if len(problems) != 0 || snap.Len() != 1 {
		t.Fatalf("snapshot len %d, problems %v", snap.Len(), problems)
	}
}

func testReconcile(t *testing.T, s store.Store) {
	ctx := context.Background()
	ch := mustChannel(t, s, "c")
	msg := mustMessage(t, s, ch, 1, base, "x")
	d := mustDictionary(t, s, "a", "b", "c")
	t1 := base.Add(time.Minute)
	t2 := base.Add(2 * time.Minute)

	res, err := s.ReconcileMatches(ctx, msg, []int64{d.termIDs[0], d.termIDs[1], d.termIDs[1]}, t1)
	if err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}
	if res.Inserted != 2 || res.Deleted != 0 {
		t.Fatalf("first reconcile = %+v", res)
	}

	res, err = s.ReconcileMatches(ctx, msg, []int64{d.termIDs[1], d.termIDs[2]}, t2)
	if err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}
	if res.Inserted != 1 || res.Deleted != 1 {
		t.Fatalf("second reconcile = %+v", res)
	}

	matches, err := s.MatchesForMessage(ctx, msg)
	if err != nil {
		t.Fatalf("MatchesForMessage: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", matches)
	}
	if matches[0].TermID != d.termIDs[1] || !matches[0].MatchedAt.Equal(t1) {
		t.Errorf("kept match lost its timestamp: %+v", matches[0])
	}
	if matches[1].TermID != d.termIDs[2] || !matches[1].MatchedAt.Equal(t2) {
		t.Errorf("new match = %+v", matches[1])
	}

	// Same set again: nothing changes.
	res, err = s.ReconcileMatches(ctx, msg, []int64{d.termIDs[2], d.termIDs[1]}, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}
	if res != (store.ReconcileResult{}) {
		t.Fatalf("idempotent reconcile touched rows: %+v", res)
	}

	res, err = s.ReconcileMatches(ctx, msg, nil, t2)
	if err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}
	if res.Deleted != 2 {
		t.Fatalf("empty set should delete all, got %+v", res)
	}
	if matches, _ := s.MatchesForMessage(ctx, msg); len(matches) != 0 {
		t.Fatalf("matches left: %+v", matches)
	}

	if _, err := s.ReconcileMatches(ctx, 9999, []int64{d.termIDs[0]}, t1); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("reconcile missing message = %v, want ErrNotFound", err)
	}
}

func testMatchDetails(t *testing.T, s store.Store) {
	ctx := context.Background()
	ch := mustChannel(t, s, "c")
	m1 := mustMessage(t, s, ch, 1, base, "x")
	m2 := mustMessage(t, s, ch, 2, base, "y")
	d := mustDictionary(t, s, "a", "b")

	if _, err := s.ReconcileMatches(ctx, m1, d.termIDs, base); err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}
	if _, err := s.ReconcileMatches(ctx, m2, d.termIDs[1:], base); err != nil {
		t.Fatalf("ReconcileMatches: %v", err)
	}

	details, err := s.MatchDetails(ctx, []int64{m2, m1, m1})
	if err != nil {
		t.Fatalf("MatchDetails: %v", err)
	}
	if len(details) != 3 {
		t.Fatalf("expected 3 details, got %+v", details)
	}
	first := details[0]
	if first.MessageID != m1 || first.TermID != d.termIDs[0] || first.TermText != "a" || first.CategoryName != "symbols" {
		t.Errorf("first detail = %+v", first)
	}
	meta, err := dictionary.DecodeMetadata(first.Metadata)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if ind, _ := meta.Industry(); ind != "ind-a" {
		t.Errorf("industry = %q", ind)
	}

	if details, err := s.MatchDetails(ctx, nil); err != nil || len(details) != 0 {
		t.Errorf("MatchDetails(nil) = %v, %v", details, err)
	}
}

func testRetention(t *testing.T, s store.Store) {
	ctx := context.Background()
	ch := mustChannel(t, s, "c")
	old := mustMessage(t, s, ch, 1, base.Add(-48*time.Hour), "old")
	fresh := mustMessage(t, s, ch, 2, base, "new")
	d := mustDictionary(t, s, "a")
	for _, id := range []int64{old, fresh} {
		if _, err := s.ReconcileMatches(ctx, id, d.termIDs, base); err != nil {
			t.Fatalf("ReconcileMatches: %v", err)
		}
	}

	n, err := s.DeleteMessagesBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteMessagesBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	if _, err := s.GetMessage(ctx, old); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("old message still present: %v", err)
	}
	if matches, _ := s.MatchesForMessage(ctx, old); len(matches) != 0 {
		t.Errorf("matches of deleted message survive: %+v", matches)
	}
	if matches, _ := s.MatchesForMessage(ctx, fresh); len(matches) != 1 {
		t.Errorf("fresh matches = %+v", matches)
	}
}

func testAnalytics(t *testing.T, s store.Store) {
	ctx := context.Background()
	ch := mustChannel(t, s, "c")

	hourKey := store.BucketKey{ChannelID: ch, Date: "2024-03-10", Hour: 8}
	dayKey := store.BucketKey{ChannelID: ch, Date: "2024-03-10", Hour: store.DailyHour}

	rec := store.AnalyticsRecord{
		Key:           hourKey,
		BucketStart:   base,
		DayOfWeek:     base.Weekday(),
		MessageCount:  5,
		MatchCount:    3,
		TopTerms:      []store.LabelCount{{ID: 1, Label: "a", Count: 3}},
		TopIndustries: []store.LabelCount{{Label: "x", Count: 2}},
		TopCategories: []store.LabelCount{{ID: 9, Label: "symbols", Count: 3}},
		RunID:         "run-1",
		ComputedAt:    base.Add(time.Hour),
	}
	if err := s.ReplaceAnalytics(ctx, rec); err != nil {
		t.Fatalf("ReplaceAnalytics: %v", err)
	}
	daily := rec
	daily.Key = dayKey
	daily.TopIndustries = nil
	if err := s.ReplaceAnalytics(ctx, daily); err != nil {
		t.Fatalf("ReplaceAnalytics(daily): %v", err)
	}

	// Full replace: lists absent from the new record are gone.
	rec.MessageCount = 6
	rec.TopTerms = nil
	rec.RunID = "run-2"
	if err := s.ReplaceAnalytics(ctx, rec); err != nil {
		t.Fatalf("ReplaceAnalytics: %v", err)
	}

	got, ok, err := s.GetAnalytics(ctx, hourKey)
	if err != nil || !ok {
		t.Fatalf("GetAnalytics = %v, %v", ok, err)
	}
	if got.MessageCount != 6 || len(got.TopTerms) != 0 || got.RunID != "run-2" {
		t.Errorf("replace not applied: %+v", got)
	}
	if !reflect.DeepEqual(got.TopIndustries, rec.TopIndustries) || !reflect.DeepEqual(got.TopCategories, rec.TopCategories) {
		t.Errorf("lists = %+v / %+v", got.TopIndustries, got.TopCategories)
	}
	if got.DayOfWeek != time.Sunday || !got.BucketStart.Equal(base) {
		t.Errorf("bucket fields = %v %v", got.DayOfWeek, got.BucketStart)
	}

	hourly, err := s.ListAnalytics(ctx, ch, base, base.Add(time.Hour), store.Hourly)
	if err != nil {
		t.Fatalf("ListAnalytics: %v", err)
	}
	if len(hourly) != 1 || hourly[0].Key != hourKey {
		t.Fatalf("hourly list = %+v", hourly)
	}
	days, err := s.ListAnalytics(ctx, 0, base, base.Add(time.Hour), store.Daily)
	if err != nil {
		t.Fatalf("ListAnalytics: %v", err)
	}
	if len(days) != 1 || days[0].Key.Granularity() != store.Daily {
		t.Fatalf("daily list = %+v", days)
	}

	deleted, err := s.DeleteAnalytics(ctx, hourKey)
	if err != nil || !deleted {
		t.Fatalf("DeleteAnalytics = %v, %v", deleted, err)
	}
	deleted, err = s.DeleteAnalytics(ctx, hourKey)
	if err != nil || deleted {
		t.Fatalf("second DeleteAnalytics = %v, %v", deleted, err)
	}
	if _, ok, _ := s.GetAnalytics(ctx, hourKey); ok {
		t.Fatal("record still present after delete")
	}
}
