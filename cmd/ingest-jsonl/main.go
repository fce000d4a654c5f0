package main

import (
	"context"
	"flag"
	"log"
	"os"
	_ "time/tzdata"

	"github.com/cognicore/tagstream/internal/app"
	"github.com/cognicore/tagstream/internal/feed"
	"github.com/cognicore/tagstream/pkg/tagstream/config"
)

func main() {
	var (
		configPath = flag.String("config", config.Path(""), "Config file (optional, TAGSTREAM_CONFIG)")
		dataPath   = flag.String("data", "", "Input JSONL file (required)")
		batchSize  = flag.Int("batch", 500, "Messages per ingest batch")
	)
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("--data required")
	}
	if *batchSize <= 0 {
		log.Fatal("--batch must be positive")
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

	items, err := feed.LoadFile(*dataPath)
	if err != nil {
		log.Fatalf("load messages: %v", err)
	}
	log.Printf("Loaded %d messages from %s", len(items), *dataPath)

	var inserted, updated, matched, failed int
	for start := 0; start < len(items); start += *batchSize {
		end := min(start+*batchSize, len(items))
		stats, err := a.Ingester.Ingest(ctx, items[start:end])
		if err != nil {
			log.Fatalf("ingest batch %d-%d: %v", start, end, err)
		}
		inserted += stats.Inserted
		updated += stats.Updated
		matched += stats.Matched
		failed += stats.Errors
		for _, f := range stats.Failures {
			log.Printf("item %d (message %d): %v", start+f.Index, f.OriginID, f.Err)
		}
		if err := a.Events.Ingested(*dataPath, stats); err != nil {
			log.Printf("publish ingest event: %v", err)
		}
	}

	log.Printf("Done: %d inserted, %d updated, %d matched, %d errors", inserted, updated, matched, failed)
}
