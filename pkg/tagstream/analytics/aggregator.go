// Package analytics turns stored messages and matches into per-channel
// hourly and daily records, and serves windows of them back.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/runid"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Options configures an Aggregator.
type Options struct {
	Location    *time.Location // bucket alignment, default UTC
	TopK        int            // default DefaultTopK
	Concurrency int            // channels in parallel, default 4
	Now         func() time.Time
	RunIDs      *runid.Generator
	Logger      *slog.Logger
	// OnRun, if set, is called after every completed run.
	OnRun func(ctx context.Context, g store.Granularity, res RunResult)
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.RunIDs == nil {
		o.RunIDs = runid.NewGenerator()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// BucketFailure is a bucket a run skipped. Date is empty when the whole
// channel could not be read.
type BucketFailure struct {
	Key store.BucketKey
	Err error
}

func (f BucketFailure) Error() string {
	return fmt.Sprintf("channel %d bucket %s/%d: %v", f.Key.ChannelID, f.Key.Date, f.Key.Hour, f.Err)
}

// RunResult summarizes one ComputeAggregates call. Written counts records
// written; Unchanged counts buckets whose stored record already held the
// recomputed counts and was left as is; Deleted counts stale records
// removed for buckets that became empty.
type RunResult struct {
	RunID     string
	Start     time.Time
	End       time.Time
	Written   int
	Unchanged int
	Deleted   int
	Failed    []BucketFailure
}

// Aggregator computes analytics records.
type Aggregator struct {
	store store.Store
	opts  Options
}

// NewAggregator creates an Aggregator over st.
func NewAggregator(st store.Store, opts Options) *Aggregator {
	return &Aggregator{store: st, opts: opts.withDefaults()}
}

// Location is the zone buckets are aligned in.
func (a *Aggregator) Location() *time.Location { return a.opts.Location }

// ComputeAggregates recomputes every bucket of granularity g overlapping
// [start, end) for each active channel. Each bucket is replaced in full;
// a bucket with no messages has its record deleted. Bucket failures are
// collected and skipped; failing to list channels aborts the run.
func (a *Aggregator) ComputeAggregates(ctx context.Context, start, end time.Time, g store.Granularity) (RunResult, error) {
	if _, err := ParseGranularity(string(g)); err != nil {
		return RunResult{}, err
	}
	if !start.Before(end) {
		return RunResult{}, fmt.Errorf("window %s..%s: %w", start, end, internalerr.ErrInvalidInput)
	}

	res := RunResult{RunID: a.opts.RunIDs.New(), Start: start, End: end}
	buckets := Buckets(start, end, g, a.opts.Location)

	channels, err := a.store.ListChannels(ctx, true)
	if err != nil {
		return res, fmt.Errorf("list channels: %w", err)
	}

	log := a.opts.Logger.With("run_id", res.RunID, "granularity", string(g))
	log.Info("aggregation started", "channels", len(channels), "buckets", len(buckets), "start", start, "end", end)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, a.opts.Concurrency)
	)

dispatch:
	for _, ch := range channels {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(ch store.Channel) {
			defer wg.Done()
			defer func() { <-sem }()

			out := a.channel(ctx, res.RunID, ch, buckets, log)

			mu.Lock()
			res.Written += out.Written
			res.Unchanged += out.Unchanged
			res.Deleted += out.Deleted
			res.Failed = append(res.Failed, out.Failed...)
			mu.Unlock()
		}(ch)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	log.Info("aggregation finished", "written", res.Written, "unchanged", res.Unchanged, "deleted", res.Deleted, "failed", len(res.Failed))
	if a.opts.OnRun != nil {
		a.opts.OnRun(ctx, g, res)
	}
	return res, nil
}

// channel computes all buckets of one channel. It shares nothing mutable
// with other channels.
func (a *Aggregator) channel(ctx context.Context, runID string, ch store.Channel, buckets []Bucket, log *slog.Logger) RunResult {
	var out RunResult
	if len(buckets) == 0 {
		return out
	}
	log = log.With("channel", ch.ID)

	span := Bucket{Start: buckets[0].Start, End: buckets[len(buckets)-1].End}
	msgs, err := a.store.MessagesInRange(ctx, ch.ID, span.Start, span.End)
	if err != nil {
		log.Error("load messages failed", "error", err)
		out.Failed = append(out.Failed, BucketFailure{Key: store.BucketKey{ChannelID: ch.ID}, Err: err})
		return out
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	details, err := a.store.MatchDetails(ctx, ids)
	if err != nil {
		log.Error("load matches failed", "error", err)
		out.Failed = append(out.Failed, BucketFailure{Key: store.BucketKey{ChannelID: ch.ID}, Err: err})
		return out
	}
	byMsg := groupDetails(details)

	i := 0
	for _, b := range buckets {
		if ctx.Err() != nil {
			return out
		}
		var inBucket []store.Message
		for i < len(msgs) && msgs[i].PostedAt.Before(b.End) {
			if b.Contains(msgs[i].PostedAt) {
				inBucket = append(inBucket, msgs[i])
			}
			i++
		}

		key := b.Key(ch.ID)
		if err := a.writeBucket(ctx, runID, key, b, inBucket, byMsg, &out); err != nil {
			log.Warn("bucket skipped", "bucket", key.Date, "hour", key.Hour, "error", err)
			out.Failed = append(out.Failed, BucketFailure{Key: key, Err: err})
		}
	}
	return out
}

func (a *Aggregator) writeBucket(ctx context.Context, runID string, key store.BucketKey, b Bucket, msgs []store.Message, details map[int64][]store.MatchDetail, out *RunResult) error {
	if len(msgs) == 0 {
		deleted, err := a.store.DeleteAnalytics(ctx, key)
		if err != nil {
			return fmt.Errorf("delete empty bucket: %w", err)
		}
		if deleted {
			out.Deleted++
		}
		return nil
	}

	sum, err := Summarize(msgs, details, a.opts.TopK)
	if err != nil {
		return err
	}

	rec := store.AnalyticsRecord{
		Key:           key,
		BucketStart:   b.Start.UTC(),
		DayOfWeek:     b.Start.Weekday(),
		MessageCount:  sum.MessageCount,
		MatchCount:    sum.MatchCount,
		TopTerms:      sum.TopTerms,
		TopIndustries: sum.TopIndustries,
		TopCategories: sum.TopCategories,
		RunID:         runID,
		ComputedAt:    a.opts.Now().UTC(),
	}
	prev, ok, err := a.store.GetAnalytics(ctx, key)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if ok && prev.SameCounts(rec) {
		out.Unchanged++
		return nil
	}
	if err := a.store.ReplaceAnalytics(ctx, rec); err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	out.Written++
	return nil
}
