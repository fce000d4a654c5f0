package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// DefaultLiveWindow is the longest window computed live.
const DefaultLiveWindow = time.Hour

// Source tells where a window's numbers came from.
type Source string

const (
	SourceLive   Source = "live"
	SourceStored Source = "stored"
)

// Window is a summary of one channel over [Start, End). Stored windows are
// widened to whole buckets, and Start and End report the widened span.
type Window struct {
	ChannelID int64
	Start     time.Time
	End       time.Time
	Source    Source
	Buckets   int // stored records merged; zero for live windows
	Summary
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Location   *time.Location
	TopK       int
	LiveWindow time.Duration
	Now        func() time.Time
}

// Reader serves analytics to callers. Short windows are computed from
// messages and matches without persisting anything; longer ones are merged
// from stored records.
type Reader struct {
	store store.Store
	opts  ReaderOptions
}

// NewReader creates a Reader over st.
func NewReader(st store.Store, opts ReaderOptions) *Reader {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.LiveWindow <= 0 {
		opts.LiveWindow = DefaultLiveWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reader{store: st, opts: opts}
}

// Window summarizes a channel over [start, end).
func (r *Reader) Window(ctx context.Context, channelID int64, start, end time.Time) (Window, error) {
	if !start.Before(end) {
		return Window{}, fmt.Errorf("window %s..%s: %w", start, end, internalerr.ErrInvalidInput)
	}
	w := Window{ChannelID: channelID, Start: start, End: end}

	if end.Sub(start) <= r.opts.LiveWindow {
		sum, err := r.live(ctx, channelID, start, end)
		if err != nil {
			return Window{}, err
		}
		w.Source = SourceLive
		w.Summary = sum
		return w, nil
	}

	g := store.Hourly
	if Floor(start, store.Daily, r.opts.Location).Equal(start) && Floor(end, store.Daily, r.opts.Location).Equal(end) {
		g = store.Daily
	}
	from, to := r.cover(start, end, g)
	recs, err := r.store.ListAnalytics(ctx, channelID, from, to, g)
	if err != nil {
		return Window{}, fmt.Errorf("list analytics: %w", err)
	}
	w.Start, w.End = from, to
	w.Source = SourceStored
	w.Buckets = len(recs)
	w.Summary = merge(recs, r.opts.TopK)
	return w, nil
}

// cover returns the bucket-aligned span of every bucket overlapping
// [start, end).
func (r *Reader) cover(start, end time.Time, g store.Granularity) (time.Time, time.Time) {
	from := Floor(start, g, r.opts.Location)
	to := Floor(end, g, r.opts.Location)
	if to.Before(end) {
		to = next(to, g)
	}
	return from, to
}

// Recent summarizes the last d up to now, the realtime view.
func (r *Reader) Recent(ctx context.Context, channelID int64, d time.Duration) (Window, error) {
	now := r.opts.Now()
	return r.Window(ctx, channelID, now.Add(-d), now)
}

// Records lists stored records as they are.
func (r *Reader) Records(ctx context.Context, channelID int64, from, to time.Time, g store.Granularity) ([]store.AnalyticsRecord, error) {
	return r.store.ListAnalytics(ctx, channelID, from, to, g)
}

func (r *Reader) live(ctx context.Context, channelID int64, start, end time.Time) (Summary, error) {
	msgs, err := r.store.MessagesInRange(ctx, channelID, start, end)
	if err != nil {
		return Summary{}, fmt.Errorf("load messages: %w", err)
	}
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	details, err := r.store.MatchDetails(ctx, ids)
	if err != nil {
		return Summary{}, fmt.Errorf("load matches: %w", err)
	}
	return Summarize(msgs, groupDetails(details), r.opts.TopK)
}

// merge sums stored records. Message and match counts are exact; label
// counts only include labels that made each bucket's top list.
func merge(recs []store.AnalyticsRecord, k int) Summary {
	terms := make(map[labelKey]int)
	industries := make(map[labelKey]int)
	cats := make(map[labelKey]int)

	var sum Summary
	for _, rec := range recs {
		sum.MessageCount += rec.MessageCount
		sum.MatchCount += rec.MatchCount
		addLabels(terms, rec.TopTerms)
		addLabels(industries, rec.TopIndustries)
		addLabels(cats, rec.TopCategories)
	}
	sum.TopTerms = topK(terms, k)
	sum.TopIndustries = topK(industries, k)
	sum.TopCategories = topK(cats, k)
	return sum
}

func addLabels(dst map[labelKey]int, l []store.LabelCount) {
	for _, lc := range l {
		dst[labelKey{lc.ID, lc.Label}] += lc.Count
	}
}
