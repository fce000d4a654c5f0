package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/cognicore/tagstream/internal/app"
	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/config"
	"github.com/cognicore/tagstream/pkg/tagstream/maintenance"
)

func main() {
	var (
		configPath  = flag.String("config", config.Path(""), "Config file (optional, TAGSTREAM_CONFIG)")
		from        = flag.String("from", "", "Start date YYYY-MM-DD in the analytics timezone (required)")
		to          = flag.String("to", "", "End date YYYY-MM-DD, exclusive (required)")
		granularity = flag.String("granularity", "both", "hourly, daily or both")
		rematch     = flag.Bool("rematch", false, "Re-match messages in the range before aggregating")
		renorm      = flag.Bool("renormalize", false, "Recompute canonical text in the range before matching")
	)
	flag.Parse()

	if *from == "" || *to == "" {
		log.Fatal("--from and --to required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	start, err := time.ParseInLocation(time.DateOnly, *from, a.Location)
	if err != nil {
		log.Fatalf("--from: %v", err)
	}
	end, err := time.ParseInLocation(time.DateOnly, *to, a.Location)
	if err != nil {
		log.Fatalf("--to: %v", err)
	}

	if *renorm {
		r := &maintenance.Renormalizer{Store: a.Store, Tagger: a.Tagger, Logger: logger}
		res, err := r.Run(ctx, start, end)
		if err != nil {
			log.Fatalf("renormalize: %v", err)
		}
		log.Printf("Renormalized: %d processed, %d updated, %d errors", res.Processed, res.Updated, res.Errors)
	}

	if *rematch {
		res, err := a.Tagger.Rematch(ctx, start, end)
		if err != nil {
			log.Fatalf("rematch: %v", err)
		}
		log.Printf("Rematched %d messages: %d inserted, %d deleted, %d failed", res.Messages, res.Inserted, res.Deleted, len(res.Failed))
	}

	var grans []string
	switch *granularity {
	case "both":
		grans = []string{"hourly", "daily"}
	default:
		grans = []string{*granularity}
	}
	for _, gs := range grans {
		g, err := analytics.ParseGranularity(gs)
		if err != nil {
			log.Fatalf("--granularity: %v", err)
		}
		res, err := a.Aggregator.ComputeAggregates(ctx, start, end, g)
		if err != nil {
			log.Fatalf("compute %s: %v", g, err)
		}
		log.Printf("%s run %s: %d written, %d unchanged, %d deleted, %d failed", g, res.RunID, res.Written, res.Unchanged, res.Deleted, len(res.Failed))
		for _, f := range res.Failed {
			log.Printf("  %v", f)
		}
	}
}
