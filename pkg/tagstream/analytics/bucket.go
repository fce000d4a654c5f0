package analytics

import (
	"fmt"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ParseGranularity accepts "hourly" or "daily".
func ParseGranularity(s string) (store.Granularity, error) {
	switch g := store.Granularity(s); g {
	case store.Hourly, store.Daily:
		return g, nil
	default:
		return "", fmt.Errorf("granularity %q: %w", s, internalerr.ErrInvalidInput)
	}
}

// Bucket is one aligned interval [Start, End).
type Bucket struct {
	Start time.Time
	End   time.Time
	Date  string
	Hour  int
}

// Key builds the record key of this bucket for a channel.
func (b Bucket) Key(channelID int64) store.BucketKey {
	return store.BucketKey{ChannelID: channelID, Date: b.Date, Hour: b.Hour}
}

// Contains reports whether t lies within the bucket.
func (b Bucket) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Floor aligns t down to the start of its bucket in loc.
func Floor(t time.Time, g store.Granularity, loc *time.Location) time.Time {
	lt := t.In(loc)
	if g == store.Daily {
		return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc)
}

func next(start time.Time, g store.Granularity) time.Time {
	if g == store.Daily {
		return start.AddDate(0, 0, 1)
	}
	return start.Add(time.Hour)
}

// Buckets returns every aligned bucket overlapping [start, end).
func Buckets(start, end time.Time, g store.Granularity, loc *time.Location) []Bucket {
	if !start.Before(end) {
		return nil
	}
	var out []Bucket
	for b := Floor(start, g, loc); b.Before(end); b = next(b, g) {
		bk := Bucket{
			Start: b,
			End:   next(b, g),
			Date:  b.Format("2006-01-02"),
			Hour:  store.DailyHour,
		}
		if g == store.Hourly {
			bk.Hour = b.Hour()
		}
		out = append(out, bk)
	}
	return out
}
