package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/match"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
	"github.com/cognicore/tagstream/pkg/tagstream/store/memstore"
)

var posted = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func setup(t *testing.T) (*memstore.Store, *Ingester, int64) {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	cat, err := st.UpsertCategory(ctx, dictionary.Category{Name: "symbols", Active: true})
	if err != nil {
		t.Fatalf("UpsertCategory: %v", err)
	}
	steel, err := st.UpsertTerm(ctx, dictionary.Term{CategoryID: cat, Text: "فولاد", Active: true})
	if err != nil {
		t.Fatalf("UpsertTerm: %v", err)
	}
	tagger := match.NewTagger(st, nil, match.TaggerOptions{Now: func() time.Time { return posted }})
	return st, New(st, tagger, Options{Now: func() time.Time { return posted }}), steel
}

func raw(id int64, text string) RawMessage {
	return RawMessage{
		MessageID: id,
		Channel:   RawChannel{ID: -100123, Name: " بورس ", Username: "@bourse"},
		Text:      text,
		Date:      posted,
		Views:     10,
	}
}

func TestIngestInsertsAndMatches(t *testing.T) {
	st, in, steel := setup(t)
	ctx := context.Background()

	stats, err := in.Ingest(ctx, []RawMessage{raw(1, "سهام #فولاد"), raw(2, "بدون برچسب"), {MessageID: 0}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Inserted != 2 || stats.Updated != 0 || stats.Matched != 2 || stats.Errors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.Failures) != 1 || stats.Failures[0].Index != 2 || !errors.Is(stats.Failures[0].Err, internalerr.ErrInvalidInput) {
		t.Fatalf("failures = %+v", stats.Failures)
	}

	chans, err := st.ListChannels(ctx, false)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(chans) != 1 || chans[0].ExternalID != "-100123" || chans[0].Username != "bourse" || chans[0].Title != "بورس" || !chans[0].Active {
		t.Fatalf("channels = %+v", chans)
	}

	msgs, err := st.MessagesInRange(ctx, chans[0].ID, posted, posted.Add(time.Minute))
	if err != nil {
		t.Fatalf("MessagesInRange: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Canonical != "سهام فولاد" {
		t.Fatalf("messages = %+v", msgs)
	}
	matches, err := st.MatchesForMessage(ctx, msgs[0].ID)
	if err != nil {
		t.Fatalf("MatchesForMessage: %v", err)
	}
	if len(matches) != 1 || matches[0].TermID != steel {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestIngestUpdateKeepsCanonical(t *testing.T) {
	st, in, steel := setup(t)
	ctx := context.Background()

	if _, err := in.Ingest(ctx, []RawMessage{raw(1, "سهام #فولاد")}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	again := raw(1, "سهام #فولاد")
	again.Views = 500
	stats, err := in.Ingest(ctx, []RawMessage{again})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Inserted != 0 || stats.Updated != 1 || stats.Changed != 0 || stats.Matched != 0 {
		t.Fatalf("refresh stats = %+v", stats)
	}

	edited := raw(1, "متن ویرایش شده")
	stats, err = in.Ingest(ctx, []RawMessage{edited})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Updated != 1 || stats.Changed != 1 || stats.Matched != 0 {
		t.Fatalf("edit stats = %+v", stats)
	}

	chans, _ := st.ListChannels(ctx, false)
	msgs, err := st.MessagesInRange(ctx, chans[0].ID, posted, posted.Add(time.Minute))
	if err != nil {
		t.Fatalf("MessagesInRange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %+v", msgs)
	}
	m := msgs[0]
	if m.Text != "متن ویرایش شده" || m.Canonical != "سهام فولاد" || m.Views != 10 {
		t.Fatalf("message after edit = %+v", m)
	}
	matches, _ := st.MatchesForMessage(ctx, m.ID)
	if len(matches) != 1 || matches[0].TermID != steel {
		t.Fatalf("matches after edit = %+v", matches)
	}
}

func TestIngestKeepsInactiveChannel(t *testing.T) {
	st, in, _ := setup(t)
	ctx := context.Background()
	if _, err := st.UpsertChannel(ctx, store.Channel{ExternalID: "-100123", Title: "بورس", Username: "bourse", Active: false}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	if _, err := in.Ingest(ctx, []RawMessage{raw(1, "فولاد")}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	chans, _ := st.ListChannels(ctx, false)
	if len(chans) != 1 || chans[0].Active {
		t.Fatalf("channel reactivated: %+v", chans)
	}
}

func TestValidate(t *testing.T) {
	ok := raw(1, "x")
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
	bad := []RawMessage{
		{MessageID: -1, Channel: ok.Channel, Date: posted},
		{MessageID: 1, Date: posted},
		{MessageID: 1, Channel: ok.Channel},
		{MessageID: 1, Channel: ok.Channel, Date: posted, Views: -3},
	}
	for i, m := range bad {
		if err := m.Validate(); !errors.Is(err, internalerr.ErrInvalidInput) {
			t.Errorf("case %d: Validate = %v", i, err)
		}
	}
}
