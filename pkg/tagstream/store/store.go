package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
)

// Store is the main interface for persisting channels, messages, the
// dictionary, match records and analytics buckets.
type Store interface {
	Close() error

	// Channels
	UpsertChannel(ctx context.Context, c Channel) (int64, error)
	ListChannels(ctx context.Context, activeOnly bool) ([]Channel, error)

	// Messages
	UpsertMessage(ctx context.Context, m Message) (UpsertResult, error)
	SetCanonical(ctx context.Context, id int64, canonical string) error
	GetMessage(ctx context.Context, id int64) (Message, error)
	MessagesInRange(ctx context.Context, channelID int64, start, end time.Time) ([]Message, error)
	MessageIDsInRange(ctx context.Context, start, end time.Time) ([]int64, error)
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Dictionary
	dictionary.Reader
	dictionary.SnapshotReader
	dictionary.Writer
	SetTermActive(ctx context.Context, id int64, active bool) error
	UpdateTermMetadata(ctx context.Context, id int64, meta dictionary.Metadata) error

	// Matches
	ReconcileMatches(ctx context.Context, messageID int64, termIDs []int64, now time.Time) (ReconcileResult, error)
	MatchesForMessage(ctx context.Context, messageID int64) ([]Match, error)
	MatchDetails(ctx context.Context, messageIDs []int64) ([]MatchDetail, error)

	// Analytics
	ReplaceAnalytics(ctx context.Context, rec AnalyticsRecord) error
	DeleteAnalytics(ctx context.Context, key BucketKey) (bool, error)
	GetAnalytics(ctx context.Context, key BucketKey) (AnalyticsRecord, bool, error)
	ListAnalytics(ctx context.Context, channelID int64, from, to time.Time, g Granularity) ([]AnalyticsRecord, error)
}

// Channel is a message source. ExternalID is the upstream identifier.
type Channel struct {
	ID         int64
	ExternalID string
	Username   string
	Title      string
	Active     bool
}

// Message is one post. Identity is (ChannelID, OriginID). Canonical is the
// normalized text and is only written on insert or through SetCanonical.
type Message struct {
	ID         int64
	ChannelID  int64
	OriginID   int64
	Text       string
	Canonical  string
	PostedAt   time.Time
	Views      int64
	Forwards   int64
	Replies    int64
	Extra      map[string]any
	IngestedAt time.Time
}

// UpsertResult reports what UpsertMessage did.
type UpsertResult struct {
	ID          int64
	Inserted    bool
	TextChanged bool // raw text differs from the stored row (updates only)
}

// Match records that a term was found in a message.
type Match struct {
	MessageID int64
	TermID    int64
	MatchedAt time.Time
}

// ReconcileResult counts the rows a reconcile touched.
type ReconcileResult struct {
	Inserted int
	Deleted  int
}

// MatchDetail is a match joined with its term and category. Metadata is the
// stored JSON, left undecoded so callers can handle bad rows themselves.
type MatchDetail struct {
	MessageID    int64
	TermID       int64
	TermText     string
	CategoryID   int64
	CategoryName string
	Metadata     []byte
}

// Granularity is the bucket width of an analytics record.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// DailyHour is the bucket hour stored for daily records, so that
// (channel, date, hour) is unique for both granularities.
const DailyHour = -1

// BucketKey identifies one analytics record. Date is YYYY-MM-DD in the
// aggregation location.
type BucketKey struct {
	ChannelID int64
	Date      string
	Hour      int
}

// Granularity derives the bucket width from the hour sentinel.
func (k BucketKey) Granularity() Granularity {
	if k.Hour == DailyHour {
		return Daily
	}
	return Hourly
}

// LabelCount is one entry of a top-K list. ID is set for terms and
// categories, zero for industries.
type LabelCount struct {
	ID    int64  `json:"id,omitempty"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AnalyticsRecord is the per-channel summary of one time bucket.
type AnalyticsRecord struct {
	Key           BucketKey
	BucketStart   time.Time
	DayOfWeek     time.Weekday
	MessageCount  int
	MatchCount    int
	TopTerms      []LabelCount
	TopIndustries []LabelCount
	TopCategories []LabelCount
	RunID         string
	ComputedAt    time.Time
}

// SameCounts reports whether two records carry the same bucket and
// counts. RunID and ComputedAt are provenance and are not compared.
func (r AnalyticsRecord) SameCounts(o AnalyticsRecord) bool {
	return r.Key == o.Key &&
		r.BucketStart.Equal(o.BucketStart) &&
		r.DayOfWeek == o.DayOfWeek &&
		r.MessageCount == o.MessageCount &&
		r.MatchCount == o.MatchCount &&
		sameLabels(r.TopTerms, o.TopTerms) &&
		sameLabels(r.TopIndustries, o.TopIndustries) &&
		sameLabels(r.TopCategories, o.TopCategories)
}

func sameLabels(a, b []LabelCount) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LoadDictionary compiles a snapshot of the active dictionary.
func LoadDictionary(ctx context.Context, s Store) (*dictionary.Snapshot, []error, error) {
	return dictionary.Load(ctx, s)
}

// ValidateMessage checks the fields every backend requires.
func ValidateMessage(m Message) error {
	switch {
	case m.ChannelID <= 0:
		return fmt.Errorf("message channel %d: %w", m.ChannelID, internalerr.ErrInvalidInput)
	case m.OriginID <= 0:
		return fmt.Errorf("message origin id %d: %w", m.OriginID, internalerr.ErrInvalidInput)
	case m.PostedAt.IsZero():
		return fmt.Errorf("message %d without timestamp: %w", m.OriginID, internalerr.ErrInvalidInput)
	}
	return nil
}

// UniqueIDs returns ids sorted with duplicates removed.
func UniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// EncodeLabels renders a top-K list for a JSON column.
func EncodeLabels(l []LabelCount) (string, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// DecodeLabels parses a top-K JSON column.
func DecodeLabels(s string) ([]LabelCount, error) {
	if s == "" {
		return nil, nil
	}
	var l []LabelCount
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, err
	}
	return l, nil
}
