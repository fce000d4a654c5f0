package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ReplaceAnalytics writes rec over any record with the same key. Every
// column is replaced, so fields absent from rec do not survive.
func (s *sqliteStore) ReplaceAnalytics(ctx context.Context, rec store.AnalyticsRecord) error {
	terms, err := store.EncodeLabels(rec.TopTerms)
	if err != nil {
		return err
	}
	industries, err := store.EncodeLabels(rec.TopIndustries)
	if err != nil {
		return err
	}
	cats, err := store.EncodeLabels(rec.TopCategories)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO channel_analytics (
	channel_id, bucket_date, bucket_hour, granularity, bucket_start, day_of_week,
	message_count, match_count, top_terms, top_industries, top_categories, run_id, computed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(channel_id, bucket_date, bucket_hour) DO UPDATE SET
	granularity=excluded.granularity,
	bucket_start=excluded.bucket_start,
	day_of_week=excluded.day_of_week,
	message_count=excluded.message_count,
	match_count=excluded.match_count,
	top_terms=excluded.top_terms,
	top_industries=excluded.top_industries,
	top_categories=excluded.top_categories,
	run_id=excluded.run_id,
	computed_at=excluded.computed_at;
`,
		rec.Key.ChannelID, rec.Key.Date, rec.Key.Hour, string(rec.Key.Granularity()),
		formatTime(rec.BucketStart), int(rec.DayOfWeek),
		rec.MessageCount, rec.MatchCount, terms, industries, cats,
		rec.RunID, formatTime(rec.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("replace analytics %+v: %w", rec.Key, err)
	}
	return nil
}

// DeleteAnalytics removes a record, reporting whether one existed
func (s *sqliteStore) DeleteAnalytics(ctx context.Context, key store.BucketKey) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_analytics WHERE channel_id=? AND bucket_date=? AND bucket_hour=?`,
		key.ChannelID, key.Date, key.Hour)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const analyticsColumns = `channel_id, bucket_date, bucket_hour, bucket_start, day_of_week,
	message_count, match_count, top_terms, top_industries, top_categories, run_id, computed_at`

func scanAnalytics(sc interface{ Scan(...any) error }) (store.AnalyticsRecord, error) {
	var (
		rec                     store.AnalyticsRecord
		start, computed         string
		dow                     int
		terms, industries, cats string
		runID                   sql.NullString
	)
	if err := sc.Scan(&rec.Key.ChannelID, &rec.Key.Date, &rec.Key.Hour, &start, &dow,
		&rec.MessageCount, &rec.MatchCount, &terms, &industries, &cats, &runID, &computed); err != nil {
		return store.AnalyticsRecord{}, err
	}

	var err error
	if rec.BucketStart, err = parseTime(start); err != nil {
		return store.AnalyticsRecord{}, err
	}
	if rec.ComputedAt, err = parseTime(computed); err != nil {
		return store.AnalyticsRecord{}, err
	}
	rec.DayOfWeek = time.Weekday(dow)
	rec.RunID = runID.String
	if rec.TopTerms, err = store.DecodeLabels(terms); err != nil {
		return store.AnalyticsRecord{}, fmt.Errorf("top_terms: %w", err)
	}
	if rec.TopIndustries, err = store.DecodeLabels(industries); err != nil {
		return store.AnalyticsRecord{}, fmt.Errorf("top_industries: %w", err)
	}
	if rec.TopCategories, err = store.DecodeLabels(cats); err != nil {
		return store.AnalyticsRecord{}, fmt.Errorf("top_categories: %w", err)
	}
	return rec, nil
}

// GetAnalytics returns one record
func (s *sqliteStore) GetAnalytics(ctx context.Context, key store.BucketKey) (store.AnalyticsRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+analyticsColumns+`
FROM channel_analytics
WHERE channel_id=? AND bucket_date=? AND bucket_hour=?;
`, key.ChannelID, key.Date, key.Hour)

	rec, err := scanAnalytics(row)
	if err == sql.ErrNoRows {
		return store.AnalyticsRecord{}, false, nil
	}
	if err != nil {
		return store.AnalyticsRecord{}, false, err
	}
	return rec, true, nil
}

// ListAnalytics returns records whose bucket starts in [from, to). A zero
// channelID selects every channel.
func (s *sqliteStore) ListAnalytics(ctx context.Context, channelID int64, from, to time.Time, g store.Granularity) ([]store.AnalyticsRecord, error) {
	query := `
SELECT ` + analyticsColumns + `
FROM channel_analytics
WHERE granularity=? AND bucket_start >= ? AND bucket_start < ?`
	args := []any{string(g), formatTime(from), formatTime(to)}
	if channelID != 0 {
		query += ` AND channel_id=?`
		args = append(args, channelID)
	}
	query += ` ORDER BY bucket_start, channel_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AnalyticsRecord
	for rows.Next() {
		rec, err := scanAnalytics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
