package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/cognicore/tagstream/pkg/tagstream/config"
	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/generic"
)

const usage = `usage: dict [flags] <command>

commands:
  import   load --file into the store
  export   write the stored dictionary to --file (stdout when empty)
  check    compile the stored dictionary and list problems
  suggest  report generic-term candidates over the last --days
`

type suggestReport struct {
	Messages   int             `json:"messages"`
	Candidates []candidateJSON `json:"candidates"`
	TopTerms   []candidateJSON `json:"top_terms"`
}

type candidateJSON struct {
	Term           string  `json:"term"`
	Category       string  `json:"category"`
	DF             int     `json:"df"`
	DFPercent      float64 `json:"df_percent"`
	ChannelEntropy float64 `json:"channel_entropy"`
	Score          float64 `json:"score,omitempty"`
}

func main() {
	var (
		configPath = flag.String("config", config.Path(""), "Config file (optional, TAGSTREAM_CONFIG)")
		file       = flag.String("file", "", "Dictionary YAML file")
		days       = flag.Int("days", 7, "Window for suggest, in days")
		dfPercent  = flag.Float64("df", 0, "Minimum DF percent for suggest (default 30)")
		entropy    = flag.Float64("entropy", 0, "Minimum channel entropy for suggest (0 disables)")
		minMsgs    = flag.Int("min-messages", 0, "Minimum messages in window for suggest (default 50)")
		top        = flag.Int("top", 20, "Terms listed in the suggest report")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	st, err := cfg.Store.OpenStore(ctx)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	switch flag.Arg(0) {
	case "import":
		if *file == "" {
			log.Fatal("--file required")
		}
		seed, err := config.LoadDictionary(*file)
		if err != nil {
			log.Fatalf("load dictionary: %v", err)
		}
		stats, err := dictionary.Import(ctx, st, seed)
		if err != nil {
			log.Fatalf("import: %v", err)
		}
		log.Printf("Imported %d categories, %d terms", stats.Categories, stats.Terms)

	case "export":
		seed, err := dictionary.Export(ctx, st)
		if err != nil {
			log.Fatalf("export: %v", err)
		}
		if *file == "" {
			if err := writeYAML(seed); err != nil {
				log.Fatalf("write: %v", err)
			}
			return
		}
		if err := config.SaveDictionary(*file, seed); err != nil {
			log.Fatalf("save: %v", err)
		}
		log.Printf("Exported %d categories to %s", len(seed.Categories), *file)

	case "check":
		snap, problems, err := dictionary.Load(ctx, st)
		if err != nil {
			log.Fatalf("load: %v", err)
		}
		for _, p := range problems {
			fmt.Println(p)
		}
		perCategory := make(map[string]int)
		var names []string
		for _, ct := range snap.Terms() {
			if perCategory[ct.Category] == 0 {
				names = append(names, ct.Category)
			}
			perCategory[ct.Category]++
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%-24s %d\n", name, perCategory[name])
		}
		log.Printf("%d active terms compiled, %d problems", snap.Len(), len(problems))

	case "suggest":
		end := time.Now()
		start := end.AddDate(0, 0, -*days)
		rep, err := generic.Suggest(ctx, st, start, end, generic.Thresholds{
			DFPercent:      *dfPercent,
			ChannelEntropy: *entropy,
			MinMessages:    *minMsgs,
		}, generic.NewList(cfg.Matching.GenericTerms))
		if err != nil {
			log.Fatalf("suggest: %v", err)
		}
		out := suggestReport{Messages: rep.Messages, Candidates: []candidateJSON{}}
		for _, c := range rep.Candidates {
			cj := toJSON(c.Stats)
			cj.Score = c.Score
			out.Candidates = append(out.Candidates, cj)
		}
		for i, s := range rep.Terms {
			if i >= *top {
				break
			}
			out.TopTerms = append(out.TopTerms, toJSON(s))
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalf("encode report: %v", err)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func toJSON(s generic.Stats) candidateJSON {
	return candidateJSON{
		Term:           s.Text,
		Category:       s.Category,
		DF:             s.DF,
		DFPercent:      s.DFPercent,
		ChannelEntropy: s.ChannelEntropy,
	}
}
