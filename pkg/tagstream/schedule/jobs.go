package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/match"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Default task IDs.
const (
	TaskMatch           = "match"
	TaskAggregateHourly = "aggregate-hourly"
	TaskAggregateDaily  = "aggregate-daily"
	TaskRetention       = "retention"
)

// Specs holds the cron spec of each default task. Empty disables the
// cron entry; the task stays available to Trigger.
type Specs struct {
	Match           string
	AggregateHourly string
	AggregateDaily  string
	Retention       string
}

// Jobs binds the default tasks to their collaborators.
type Jobs struct {
	Store          store.Store
	Tagger         *match.Tagger
	Aggregator     *analytics.Aggregator
	RematchWindow  time.Duration // how far back the match task looks
	HourlyLookback int           // completed hours recomputed besides the current one
	HistoryDays    int           // retention horizon; 0 disables deletion
	Now            func() time.Time
	Logger         *slog.Logger
}

func (j Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j Jobs) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// Match reconciles messages posted within the rematch window.
func (j Jobs) Match(ctx context.Context) error {
	window := j.RematchWindow
	if window <= 0 {
		window = time.Hour
	}
	now := j.now()
	res, err := j.Tagger.Rematch(ctx, now.Add(-window), now.Add(time.Minute))
	if err != nil {
		return fmt.Errorf("rematch: %w", err)
	}
	if len(res.Failed) > 0 {
		j.logger().Warn("match task had failures", "run_id", res.RunID, "failed", len(res.Failed))
	}
	return nil
}

// AggregateHourly recomputes the current hour and the lookback hours before
// it.
func (j Jobs) AggregateHourly(ctx context.Context) error {
	lookback := j.HourlyLookback
	if lookback < 0 {
		lookback = 0
	}
	cur := analytics.Floor(j.now(), store.Hourly, j.Aggregator.Location())
	start := cur.Add(-time.Duration(lookback) * time.Hour)
	end := cur.Add(time.Hour)
	_, err := j.Aggregator.ComputeAggregates(ctx, start, end, store.Hourly)
	return err
}

// AggregateDaily recomputes today and yesterday.
func (j Jobs) AggregateDaily(ctx context.Context) error {
	today := analytics.Floor(j.now(), store.Daily, j.Aggregator.Location())
	_, err := j.Aggregator.ComputeAggregates(ctx, today.AddDate(0, 0, -1), today.AddDate(0, 0, 1), store.Daily)
	return err
}

// Retention deletes messages older than HistoryDays.
func (j Jobs) Retention(ctx context.Context) error {
	if j.HistoryDays <= 0 {
		return nil
	}
	cutoff := j.now().AddDate(0, 0, -j.HistoryDays)
	n, err := j.Store.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete messages before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logger().Info("retention finished", "cutoff", cutoff, "deleted", n)
	return nil
}

// Tasks returns the default tasks with the given specs.
func (j Jobs) Tasks(specs Specs) []Task {
	return []Task{
		{ID: TaskMatch, Spec: specs.Match, Run: j.Match},
		{ID: TaskAggregateHourly, Spec: specs.AggregateHourly, Run: j.AggregateHourly},
		{ID: TaskAggregateDaily, Spec: specs.AggregateDaily, Run: j.AggregateDaily},
		{ID: TaskRetention, Spec: specs.Retention, Run: j.Retention},
	}
}
