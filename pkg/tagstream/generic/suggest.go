package generic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Stats describes how often a term matched within a window.
type Stats struct {
	TermID    int64
	Text      string
	Category  string
	DF        int     // messages matched
	DFPercent float64 // DF over messages in the window
	// ChannelEntropy is the normalized entropy of the term's matches over
	// channels: 0 when confined to one channel, 1 when spread evenly.
	ChannelEntropy float64
}

// Candidate is a term the report proposes for the generic list.
type Candidate struct {
	Stats
	Score float64
}

// Thresholds decide which terms are reported.
type Thresholds struct {
	DFPercent      float64 // minimum share of messages, default 30
	ChannelEntropy float64 // minimum spread; 0 disables the check
	MinMessages    int     // below this the window is too small to judge, default 50
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{DFPercent: 30, MinMessages: 50}
}

// Report is the result of Suggest.
type Report struct {
	Start, End time.Time
	Messages   int
	Terms      []Stats     // every matched term, DF descending
	Candidates []Candidate // score descending
}

// Suggest computes per-term document frequency over messages posted in
// [start, end) across active channels and lists the terms above the
// thresholds. Terms already on skip are left out of Candidates. Nothing is
// applied; the report is advisory.
func Suggest(ctx context.Context, st store.Store, start, end time.Time, th Thresholds, skip *List) (Report, error) {
	if !end.After(start) {
		return Report{}, fmt.Errorf("window end %s not after start %s: %w", end, start, internalerr.ErrInvalidInput)
	}
	def := DefaultThresholds()
	if th.DFPercent <= 0 {
		th.DFPercent = def.DFPercent
	}
	if th.MinMessages <= 0 {
		th.MinMessages = def.MinMessages
	}

	channels, err := st.ListChannels(ctx, true)
	if err != nil {
		return Report{}, fmt.Errorf("list channels: %w", err)
	}

	rep := Report{Start: start, End: end}
	type termAgg struct {
		stats     Stats
		byChannel map[int64]int
	}
	terms := make(map[int64]*termAgg)

	for _, ch := range channels {
		msgs, err := st.MessagesInRange(ctx, ch.ID, start, end)
		if err != nil {
			return Report{}, fmt.Errorf("messages for channel %d: %w", ch.ID, err)
		}
		rep.Messages += len(msgs)
		if len(msgs) == 0 {
			continue
		}
		ids := make([]int64, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		details, err := st.MatchDetails(ctx, ids)
		if err != nil {
			return Report{}, fmt.Errorf("match details for channel %d: %w", ch.ID, err)
		}
		for _, d := range details {
			agg, ok := terms[d.TermID]
			if !ok {
				agg = &termAgg{
					stats:     Stats{TermID: d.TermID, Text: d.TermText, Category: d.CategoryName},
					byChannel: make(map[int64]int),
				}
				terms[d.TermID] = agg
			}
			agg.stats.DF++
			agg.byChannel[ch.ID]++
		}
	}

	for _, agg := range terms {
		s := agg.stats
		if rep.Messages > 0 {
			s.DFPercent = 100 * float64(s.DF) / float64(rep.Messages)
		}
		s.ChannelEntropy = entropy(agg.byChannel, len(channels))
		rep.Terms = append(rep.Terms, s)
	}
	sort.Slice(rep.Terms, func(i, j int) bool {
		if rep.Terms[i].DF != rep.Terms[j].DF {
			return rep.Terms[i].DF > rep.Terms[j].DF
		}
		return rep.Terms[i].TermID < rep.Terms[j].TermID
	})

	if rep.Messages < th.MinMessages {
		return rep, nil
	}
	for _, s := range rep.Terms {
		if skip.Contains(s.Text) {
			continue
		}
		if s.DFPercent < th.DFPercent {
			continue
		}
		if th.ChannelEntropy > 0 && s.ChannelEntropy < th.ChannelEntropy {
			continue
		}
		rep.Candidates = append(rep.Candidates, Candidate{
			Stats: s,
			Score: (s.DFPercent/100 + s.ChannelEntropy) / 2,
		})
	}
	sort.SliceStable(rep.Candidates, func(i, j int) bool {
		return rep.Candidates[i].Score > rep.Candidates[j].Score
	})
	return rep, nil
}

// entropy of counts normalized by log(n), n being the number of channels
// the term could have appeared in.
func entropy(counts map[int64]int, n int) float64 {
	if n < 2 {
		return 0
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	return h / math.Log(float64(n))
}
