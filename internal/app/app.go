// Package app wires configured components together for the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cognicore/tagstream/internal/events"
	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/config"
	"github.com/cognicore/tagstream/pkg/tagstream/generic"
	"github.com/cognicore/tagstream/pkg/tagstream/ingest"
	"github.com/cognicore/tagstream/pkg/tagstream/match"
	"github.com/cognicore/tagstream/pkg/tagstream/runid"
	"github.com/cognicore/tagstream/pkg/tagstream/schedule"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// App holds the components built from one AppConfig.
type App struct {
	Config     config.AppConfig
	Location   *time.Location
	Logger     *slog.Logger
	Store      store.Store
	Generic    *generic.List
	Tagger     *match.Tagger
	Aggregator *analytics.Aggregator
	Reader     *analytics.Reader
	Ingester   *ingest.Ingester
	Events     *events.Publisher // nil when NATS is not configured

	nc *nats.Conn
}

// New opens the store, connects NATS when configured and builds the
// pipeline components.
func New(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := cfg.Store.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{Config: cfg, Location: loc, Logger: logger, Store: st}

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(events.Config{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.nc = nc
		a.Events = events.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger)
	}

	ids := runid.NewGenerator()
	a.Generic = generic.NewList(cfg.Matching.GenericTerms)
	if a.Generic.Len() > 0 {
		logger.Info("generic term filter active", "terms", a.Generic.Len())
	}

	a.Tagger = match.NewTagger(st, match.NewMatcher(a.Generic.IsGeneric), match.TaggerOptions{
		Concurrency: cfg.Matching.Concurrency,
		RunIDs:      ids,
		Logger:      logger,
	})

	aggOpts := analytics.Options{
		Location:    loc,
		TopK:        cfg.Analytics.TopK,
		Concurrency: cfg.Analytics.Concurrency,
		RunIDs:      ids,
		Logger:      logger,
	}
	if a.Events != nil {
		aggOpts.OnRun = a.Events.OnAggregate
	}
	a.Aggregator = analytics.NewAggregator(st, aggOpts)

	a.Reader = analytics.NewReader(st, analytics.ReaderOptions{
		Location:   loc,
		TopK:       cfg.Analytics.TopK,
		LiveWindow: cfg.Analytics.LiveWindow,
	})
	a.Ingester = ingest.New(st, a.Tagger, ingest.Options{Logger: logger})
	return a, nil
}

// Scheduler builds a scheduler with the default tasks registered on the
// configured specs.
func (a *App) Scheduler() (*schedule.Scheduler, error) {
	s := schedule.New(a.Location, a.Logger)
	jobs := schedule.Jobs{
		Store:          a.Store,
		Tagger:         a.Tagger,
		Aggregator:     a.Aggregator,
		RematchWindow:  a.Config.Matching.RematchWindow,
		HourlyLookback: a.Config.Analytics.HourlyLookback,
		HistoryDays:    a.Config.Retention.HistoryDays,
		Logger:         a.Logger,
	}
	for _, t := range jobs.Tasks(a.Config.ScheduleSpecs()) {
		if err := s.Register(t); err != nil {
			return nil, err
		}
	}
	if a.Events != nil {
		s.OnDone(func(id string, d time.Duration, err error) {
			if perr := a.Events.TaskDone(id, d, err); perr != nil {
				a.Logger.Warn("publish task event failed", "task", id, "error", perr)
			}
		})
	}
	return s, nil
}

// Close releases the NATS connection and the store.
func (a *App) Close() error {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	return a.Store.Close()
}
