package handlers

import (
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/analytics"
	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/schedule"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

type channelResponse struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Username   string `json:"username,omitempty"`
	Title      string `json:"title,omitempty"`
	Active     bool   `json:"active"`
}

func toChannel(c store.Channel) channelResponse {
	return channelResponse{ID: c.ID, ExternalID: c.ExternalID, Username: c.Username, Title: c.Title, Active: c.Active}
}

type summaryResponse struct {
	MessageCount  int                `json:"message_count"`
	MatchCount    int                `json:"match_count"`
	TopTerms      []store.LabelCount `json:"top_terms"`
	TopIndustries []store.LabelCount `json:"top_industries"`
	TopCategories []store.LabelCount `json:"top_categories"`
}

func toSummary(s analytics.Summary) summaryResponse {
	return summaryResponse{
		MessageCount:  s.MessageCount,
		MatchCount:    s.MatchCount,
		TopTerms:      nonNil(s.TopTerms),
		TopIndustries: nonNil(s.TopIndustries),
		TopCategories: nonNil(s.TopCategories),
	}
}

func nonNil(l []store.LabelCount) []store.LabelCount {
	if l == nil {
		return []store.LabelCount{}
	}
	return l
}

type windowResponse struct {
	ChannelID int64     `json:"channel_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Source    string    `json:"source"`
	Buckets   int       `json:"buckets"`
	summaryResponse
}

func toWindow(w analytics.Window) windowResponse {
	return windowResponse{
		ChannelID:       w.ChannelID,
		Start:           w.Start,
		End:             w.End,
		Source:          string(w.Source),
		Buckets:         w.Buckets,
		summaryResponse: toSummary(w.Summary),
	}
}

type recordResponse struct {
	ChannelID     int64              `json:"channel_id"`
	Granularity   string             `json:"granularity"`
	Date          string             `json:"date"`
	Hour          *int               `json:"hour,omitempty"`
	BucketStart   time.Time          `json:"bucket_start"`
	DayOfWeek     string             `json:"day_of_week"`
	MessageCount  int                `json:"message_count"`
	MatchCount    int                `json:"match_count"`
	TopTerms      []store.LabelCount `json:"top_terms"`
	TopIndustries []store.LabelCount `json:"top_industries"`
	TopCategories []store.LabelCount `json:"top_categories"`
	RunID         string             `json:"run_id"`
	ComputedAt    time.Time          `json:"computed_at"`
}

func toRecord(r store.AnalyticsRecord) recordResponse {
	out := recordResponse{
		ChannelID:     r.Key.ChannelID,
		Granularity:   string(r.Key.Granularity()),
		Date:          r.Key.Date,
		BucketStart:   r.BucketStart,
		DayOfWeek:     r.DayOfWeek.String(),
		MessageCount:  r.MessageCount,
		MatchCount:    r.MatchCount,
		TopTerms:      nonNil(r.TopTerms),
		TopIndustries: nonNil(r.TopIndustries),
		TopCategories: nonNil(r.TopCategories),
		RunID:         r.RunID,
		ComputedAt:    r.ComputedAt,
	}
	if r.Key.Hour != store.DailyHour {
		h := r.Key.Hour
		out.Hour = &h
	}
	return out
}

type matchResponse struct {
	TermID     int64          `json:"term_id"`
	Term       string         `json:"term"`
	CategoryID int64          `json:"category_id"`
	Category   string         `json:"category"`
	Industry   string         `json:"industry,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type messageResponse struct {
	ID        int64           `json:"id"`
	ChannelID int64           `json:"channel_id"`
	OriginID  int64           `json:"origin_id"`
	Text      string          `json:"text"`
	Canonical string          `json:"canonical"`
	PostedAt  time.Time       `json:"posted_at"`
	Views     int64           `json:"views"`
	Forwards  int64           `json:"forwards"`
	Replies   int64           `json:"replies"`
	Matches   []matchResponse `json:"matches"`
}

type taskResponse struct {
	ID      string     `json:"id"`
	Spec    string     `json:"spec,omitempty"`
	Running bool       `json:"running"`
	Runs    int        `json:"runs"`
	Skipped int        `json:"skipped"`
	LastRun *time.Time `json:"last_run,omitempty"`
	LastErr string     `json:"last_error,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func toTask(s schedule.Status) taskResponse {
	out := taskResponse{ID: s.ID, Spec: s.Spec, Running: s.Running, Runs: s.Runs, Skipped: s.Skipped, LastErr: s.LastErr}
	if !s.LastRun.IsZero() {
		t := s.LastRun
		out.LastRun = &t
	}
	if !s.NextRun.IsZero() {
		t := s.NextRun
		out.NextRun = &t
	}
	return out
}

type runResponse struct {
	RunID     string    `json:"run_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Written   int       `json:"written"`
	Unchanged int       `json:"unchanged"`
	Deleted   int       `json:"deleted"`
	Failed    []string  `json:"failed"`
}

func toRun(r analytics.RunResult) runResponse {
	out := runResponse{RunID: r.RunID, Start: r.Start, End: r.End, Written: r.Written, Unchanged: r.Unchanged, Deleted: r.Deleted, Failed: []string{}}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, f.Error())
	}
	return out
}

type categoryResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Policy string `json:"policy"`
	Active bool   `json:"active"`
}

func toCategory(c dictionary.Category) categoryResponse {
	return categoryResponse{ID: c.ID, Name: c.Name, Policy: string(c.Policy), Active: c.Active}
}

type termResponse struct {
	ID         int64          `json:"id"`
	CategoryID int64          `json:"category_id"`
	Text       string         `json:"text"`
	Active     bool           `json:"active"`
	Industry   string         `json:"industry,omitempty"`
	Keywords   []string       `json:"keywords"`
	Metadata   map[string]any `json:"metadata"`
}

func toTerm(t dictionary.Term) termResponse {
	out := termResponse{
		ID:         t.ID,
		CategoryID: t.CategoryID,
		Text:       t.Text,
		Active:     t.Active,
		Keywords:   t.Metadata.Keywords(),
		Metadata:   t.Metadata,
	}
	out.Industry, _ = t.Metadata.Industry()
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out
}

type termDetailResponse struct {
	termResponse
	Category string   `json:"category,omitempty"`
	Policy   string   `json:"policy,omitempty"`
	Compiled bool     `json:"compiled"`
	Surfaces []string `json:"surfaces"`
	Problems []string `json:"problems"`
}
