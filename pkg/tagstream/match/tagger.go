package match

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/runid"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// TaggerOptions configures a Tagger.
type TaggerOptions struct {
	Concurrency int              // parallel messages per pass, default 4
	Now         func() time.Time // clock for matched_at, default time.Now
	RunIDs      *runid.Generator
	Logger      *slog.Logger
}

// MessageFailure records a message a pass could not reconcile.
type MessageFailure struct {
	MessageID int64
	Err       error
}

// PassResult summarizes one matching pass.
type PassResult struct {
	RunID    string
	Messages int
	Inserted int
	Deleted  int
	Failed   []MessageFailure
}

// Tagger runs matching passes: it snapshots the dictionary once, computes
// each message's match set and reconciles it with the store.
type Tagger struct {
	store       store.Store
	matcher     *Matcher
	concurrency int
	now         func() time.Time
	runIDs      *runid.Generator
	logger      *slog.Logger
	locks       *keyedMutex
}

// NewTagger creates a Tagger over st.
func NewTagger(st store.Store, m *Matcher, opts TaggerOptions) *Tagger {
	if m == nil {
		m = NewMatcher(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunIDs == nil {
		opts.RunIDs = runid.NewGenerator()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tagger{
		store:       st,
		matcher:     m,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		runIDs:      opts.RunIDs,
		logger:      opts.Logger,
		locks:       newKeyedMutex(),
	}
}

// Snapshot loads and compiles the current dictionary, logging compile
// problems.
func (t *Tagger) Snapshot(ctx context.Context) (*dictionary.Snapshot, error) {
	snap, problems, err := store.LoadDictionary(ctx, t.store)
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	for _, p := range problems {
		t.logger.Warn("dictionary term degraded", "error", p)
	}
	return snap, nil
}

// MatchMessages reconciles the given messages against a fresh snapshot.
func (t *Tagger) MatchMessages(ctx context.Context, ids []int64) (PassResult, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return PassResult{}, err
	}
	return t.MatchWith(ctx, snap, ids)
}

// Rematch reconciles every message posted in [start, end). Use it after
// dictionary edits.
func (t *Tagger) Rematch(ctx context.Context, start, end time.Time) (PassResult, error) {
	ids, err := t.store.MessageIDsInRange(ctx, start, end)
	if err != nil {
		return PassResult{}, fmt.Errorf("list messages: %w", err)
	}
	return t.MatchMessages(ctx, ids)
}

// MatchWith reconciles ids against snap. Per-message failures are collected
// in the result; only cancellation ends the pass early.
func (t *Tagger) MatchWith(ctx context.Context, snap *dictionary.Snapshot, ids []int64) (PassResult, error) {
	res := PassResult{RunID: t.runIDs.New()}
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return res, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, t.concurrency)
	)

dispatch:
	for _, id := range ids {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := t.matchOne(ctx, snap, id)

			mu.Lock()
			defer mu.Unlock()
			res.Messages++
			if err != nil {
				res.Failed = append(res.Failed, MessageFailure{MessageID: id, Err: err})
				return
			}
			res.Inserted += rec.Inserted
			res.Deleted += rec.Deleted
		}(id)
	}
	wg.Wait()

	t.logger.Info("match pass finished",
		"run_id", res.RunID,
		"messages", res.Messages,
		"inserted", res.Inserted,
		"deleted", res.Deleted,
		"failed", len(res.Failed),
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (t *Tagger) matchOne(ctx context.Context, snap *dictionary.Snapshot, id int64) (store.ReconcileResult, error) {
	unlock := t.locks.Lock(id)
	defer unlock()

	msg, err := t.store.GetMessage(ctx, id)
	if err != nil {
		return store.ReconcileResult{}, err
	}
	termIDs := t.matcher.Match(msg, snap)
	rec, err := t.store.ReconcileMatches(ctx, id, termIDs, t.now())
	if err != nil {
		t.logger.Warn("reconcile failed", "message", id, "error", err)
		return store.ReconcileResult{}, err
	}
	return rec, nil
}
