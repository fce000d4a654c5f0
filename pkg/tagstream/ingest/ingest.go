// Package ingest is the boundary where raw channel messages enter the
// system: each item is mapped to its channel, normalized once, stored, and
// matched against the dictionary.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/match"
	"github.com/cognicore/tagstream/pkg/tagstream/normalize"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// RawChannel identifies the channel a message was posted to.
type RawChannel struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

// RawMessage is one message as delivered by the upstream source.
type RawMessage struct {
	MessageID int64          `json:"message_id"`
	Channel   RawChannel     `json:"channel"`
	Text      string         `json:"text"`
	Date      time.Time      `json:"date"`
	Views     int64          `json:"views_count"`
	Forwards  int64          `json:"forwards_count"`
	Replies   int64          `json:"replies_count"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// ItemFailure is a raw item that could not be ingested.
type ItemFailure struct {
	Index    int
	OriginID int64
	Err      error
}

// Stats summarizes one Ingest call.
type Stats struct {
	Inserted int
	Updated  int // existing messages refreshed
	Changed  int // updated messages whose raw text changed; canonical text is kept
	Matched  int // messages passed to the matcher
	Errors   int
	Failures []ItemFailure
}

// Options configures an Ingester.
type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

// Ingester writes raw messages to a store. A nil tagger leaves matching to
// a later pass.
type Ingester struct {
	store  store.Store
	tagger *match.Tagger
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]store.Channel // by external ID, loaded lazily
}

// New creates an Ingester.
func New(st store.Store, tagger *match.Tagger, opts Options) *Ingester {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingester{store: st, tagger: tagger, now: opts.Now, logger: opts.Logger}
}

// Validate checks the fields a message cannot be stored without.
func (r RawMessage) Validate() error {
	switch {
	case r.MessageID <= 0:
		return fmt.Errorf("message id %d must be positive: %w", r.MessageID, internalerr.ErrInvalidInput)
	case r.Channel.ID == 0:
		return fmt.Errorf("message %d has no channel id: %w", r.MessageID, internalerr.ErrInvalidInput)
	case r.Date.IsZero():
		return fmt.Errorf("message %d has no date: %w", r.MessageID, internalerr.ErrInvalidInput)
	case r.Views < 0 || r.Forwards < 0 || r.Replies < 0:
		return fmt.Errorf("message %d has negative counters: %w", r.MessageID, internalerr.ErrInvalidInput)
	}
	return nil
}

// Ingest stores every valid item and matches inserted messages. An edited
// message keeps its canonical text and matches until a re-normalization
// pass recomputes them. Item failures are counted and reported; a store
// error that prevents resolving channels at all aborts the call.
func (in *Ingester) Ingest(ctx context.Context, items []RawMessage) (Stats, error) {
	var stats Stats
	var toMatch []int64

	for i, raw := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		id, outcome, err := in.ingestOne(ctx, raw)
		if err != nil {
			if isFatal(err) {
				return stats, err
			}
			stats.Errors++
			stats.Failures = append(stats.Failures, ItemFailure{Index: i, OriginID: raw.MessageID, Err: err})
			in.logger.Warn("ingest item failed", "index", i, "origin_id", raw.MessageID, "error", err)
			continue
		}
		switch outcome {
		case inserted:
			stats.Inserted++
			toMatch = append(toMatch, id)
		case changed:
			stats.Updated++
			stats.Changed++
		case refreshed:
			stats.Updated++
		}
	}

	if in.tagger != nil && len(toMatch) > 0 {
		res, err := in.tagger.MatchMessages(ctx, toMatch)
		if err != nil {
			return stats, fmt.Errorf("match ingested messages: %w", err)
		}
		stats.Matched = res.Messages - len(res.Failed)
		stats.Errors += len(res.Failed)
	}

	in.logger.Info("ingest finished",
		"items", len(items),
		"inserted", stats.Inserted,
		"updated", stats.Updated,
		"matched", stats.Matched,
		"errors", stats.Errors)
	return stats, nil
}

type outcome int

const (
	inserted outcome = iota
	changed
	refreshed
)

func (in *Ingester) ingestOne(ctx context.Context, raw RawMessage) (int64, outcome, error) {
	if err := raw.Validate(); err != nil {
		return 0, 0, err
	}
	chID, err := in.channel(ctx, raw.Channel)
	if err != nil {
		return 0, 0, err
	}

	canonical := normalize.Normalize(raw.Text)
	res, err := in.store.UpsertMessage(ctx, store.Message{
		ChannelID:  chID,
		OriginID:   raw.MessageID,
		Text:       raw.Text,
		Canonical:  canonical,
		PostedAt:   raw.Date.UTC(),
		Views:      raw.Views,
		Forwards:   raw.Forwards,
		Replies:    raw.Replies,
		Extra:      raw.Extra,
		IngestedAt: in.now().UTC(),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("upsert message %d: %w", raw.MessageID, err)
	}

	switch {
	case res.Inserted:
		return res.ID, inserted, nil
	case res.TextChanged:
		in.logger.Debug("message text edited", "message_id", res.ID, "origin_id", raw.MessageID)
		return res.ID, changed, nil
	}
	return res.ID, refreshed, nil
}

// channel resolves a raw channel to a stored one, creating it on first
// sight. Existing channels keep their active flag; name and username are
// refreshed when they differ.
func (in *Ingester) channel(ctx context.Context, rc RawChannel) (int64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.channels == nil {
		all, err := in.store.ListChannels(ctx, false)
		if err != nil {
			return 0, &fatalError{fmt.Errorf("list channels: %w", err)}
		}
		in.channels = make(map[string]store.Channel, len(all))
		for _, c := range all {
			in.channels[c.ExternalID] = c
		}
	}

	ext := strconv.FormatInt(rc.ID, 10)
	want := store.Channel{
		ExternalID: ext,
		Username:   strings.TrimPrefix(strings.TrimSpace(rc.Username), "@"),
		Title:      strings.TrimSpace(rc.Name),
		Active:     true,
	}
	if c, ok := in.channels[ext]; ok {
		want.ID = c.ID
		want.Active = c.Active
		if want.Title == "" {
			want.Title = c.Title
		}
		if want.Username == "" {
			want.Username = c.Username
		}
		if want == c {
			return c.ID, nil
		}
	}

	id, err := in.store.UpsertChannel(ctx, want)
	if err != nil {
		return 0, fmt.Errorf("upsert channel %s: %w", ext, err)
	}
	want.ID = id
	in.channels[ext] = want
	if !want.Active {
		in.logger.Debug("message for inactive channel", "channel", ext)
	}
	return id, nil
}

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func isFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
