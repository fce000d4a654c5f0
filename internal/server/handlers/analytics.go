package handlers

import (
	"net/http"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// AnalyticsHandler serves channel analytics and manual aggregation runs.
type AnalyticsHandler struct {
	reader     *analytics.Reader
	aggregator *analytics.Aggregator
	loc        *time.Location
}

// NewAnalyticsHandler creates an analytics handler. Dates without a time
// are read in loc.
func NewAnalyticsHandler(reader *analytics.Reader, agg *analytics.Aggregator, loc *time.Location) *AnalyticsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AnalyticsHandler{reader: reader, aggregator: agg, loc: loc}
}

// GetWindow summarizes a channel over ?start= and ?end=.
func (h *AnalyticsHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid channel ID", err)
		return
	}
	start, err := timeParam(r, "start", h.loc)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid start", err)
		return
	}
	end, err := timeParam(r, "end", h.loc)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid end", err)
		return
	}

	win, err := h.reader.Window(r.Context(), id, start, end)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to read window", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWindow(win))
}

// GetRecent summarizes the last ?window= duration of a channel (default 24h).
func (h *AnalyticsHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid channel ID", err)
		return
	}
	d := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err = time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid window", err)
			return
		}
	}

	win, err := h.reader.Recent(r.Context(), id, d)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to read window", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWindow(win))
}

// ListRecords returns stored records of a channel between ?from= and ?to=
// at ?granularity= (default hourly).
func (h *AnalyticsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid channel ID", err)
		return
	}
	from, to, g, ok := h.rangeParams(w, r, "from", "to")
	if !ok {
		return
	}

	recs, err := h.reader.Records(r.Context(), id, from, to, g)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to list records", err)
		return
	}
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecord(rec))
	}
	respondWithJSON(w, http.StatusOK, out)
}

// Compute runs an aggregation over ?start=, ?end= and ?granularity= and
// waits for it.
func (h *AnalyticsHandler) Compute(w http.ResponseWriter, r *http.Request) {
	start, end, g, ok := h.rangeParams(w, r, "start", "end")
	if !ok {
		return
	}

	res, err := h.aggregator.ComputeAggregates(r.Context(), start, end, g)
	if err != nil {
		respondWithError(w, statusFor(err), "Aggregation failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, toRun(res))
}

func (h *AnalyticsHandler) rangeParams(w http.ResponseWriter, r *http.Request, startName, endName string) (time.Time, time.Time, store.Granularity, bool) {
	start, err := timeParam(r, startName, h.loc)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid "+startName, err)
		return time.Time{}, time.Time{}, "", false
	}
	end, err := timeParam(r, endName, h.loc)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid "+endName, err)
		return time.Time{}, time.Time{}, "", false
	}
	g := store.Hourly
	if v := r.URL.Query().Get("granularity"); v != "" {
		if g, err = analytics.ParseGranularity(v); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid granularity", err)
			return time.Time{}, time.Time{}, "", false
		}
	}
	return start, end, g, true
}
