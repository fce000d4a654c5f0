// Package maintenance holds passes that repair stored state after the
// normalization rules change.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/match"
	"github.com/cognicore/tagstream/pkg/tagstream/normalize"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Renormalizer recomputes canonical text for stored messages and re-matches
// the ones whose canonical text changed.
type Renormalizer struct {
	Store  store.Store
	Tagger *match.Tagger
	Logger *slog.Logger
}

// Result summarizes a renormalization run.
type Result struct {
	Processed int
	Updated   int
	Matched   int
	Errors    int
}

// Run processes messages posted in [start, end).
func (r *Renormalizer) Run(ctx context.Context, start, end time.Time) (Result, error) {
	var res Result
	if r.Store == nil || r.Tagger == nil {
		return res, errors.New("renormalizer: invalid configuration")
	}
	if !end.After(start) {
		return res, fmt.Errorf("window end %s not after start %s: %w", end, start, internalerr.ErrInvalidInput)
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	ids, err := r.Store.MessageIDsInRange(ctx, start, end)
	if err != nil {
		return res, fmt.Errorf("list messages: %w", err)
	}

	var changed []int64
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++

		msg, err := r.Store.GetMessage(ctx, id)
		if err != nil {
			res.Errors++
			log.Warn("renormalize: load message failed", "message", id, "error", err)
			continue
		}
		canonical := normalize.Normalize(msg.Text)
		if canonical == msg.Canonical {
			continue
		}
		if err := r.Store.SetCanonical(ctx, id, canonical); err != nil {
			res.Errors++
			log.Warn("renormalize: set canonical failed", "message", id, "error", err)
			continue
		}
		res.Updated++
		changed = append(changed, id)
	}

	if len(changed) > 0 {
		pass, err := r.Tagger.MatchMessages(ctx, changed)
		if err != nil {
			return res, fmt.Errorf("rematch: %w", err)
		}
		res.Matched = pass.Messages - len(pass.Failed)
		res.Errors += len(pass.Failed)
	}

	log.Info("renormalize finished", "processed", res.Processed, "updated", res.Updated, "errors", res.Errors)
	return res, nil
}
