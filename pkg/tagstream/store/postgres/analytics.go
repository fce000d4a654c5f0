package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ReplaceAnalytics writes rec over any record with the same key.
func (s *pgStore) ReplaceAnalytics(ctx context.Context, rec store.AnalyticsRecord) error {
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

	_, err = s.db.Exec(ctx, `
		INSERT INTO channel_analytics (
			channel_id, bucket_date, bucket_hour, granularity, bucket_start, day_of_week,
			message_count, match_count, top_terms, top_industries, top_categories, run_id, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, $12, $13)
		ON CONFLICT (channel_id, bucket_date, bucket_hour) DO UPDATE
		SET
			granularity = $4,
			bucket_start = $5,
			day_of_week = $6,
			message_count = $7,
			match_count = $8,
			top_terms = $9::jsonb,
			top_industries = $10::jsonb,
			top_categories = $11::jsonb,
			run_id = $12,
			computed_at = $13
	`,
		rec.Key.ChannelID, rec.Key.Date, rec.Key.Hour, string(rec.Key.Granularity()),
		rec.BucketStart, int(rec.DayOfWeek),
		rec.MessageCount, rec.MatchCount, terms, industries, cats,
		rec.RunID, rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("replace analytics %+v: %w", rec.Key, err)
	}
	return nil
}

// DeleteAnalytics removes a record, reporting whether one existed.
func (s *pgStore) DeleteAnalytics(ctx context.Context, key store.BucketKey) (bool, error) {
	res, err := s.db.Exec(ctx,
		`DELETE FROM channel_analytics WHERE channel_id = $1 AND bucket_date = $2 AND bucket_hour = $3`,
		key.ChannelID, key.Date, key.Hour)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

const analyticsColumns = `channel_id, bucket_date, bucket_hour, bucket_start, day_of_week,
	message_count, match_count, top_terms::text, top_industries::text, top_categories::text, run_id, computed_at`

func scanAnalytics(row pgx.Row) (store.AnalyticsRecord, error) {
	var (
		rec                     store.AnalyticsRecord
		hour, dow               int16
		terms, industries, cats string
	)
	if err := row.Scan(&rec.Key.ChannelID, &rec.Key.Date, &hour, &rec.BucketStart, &dow,
		&rec.MessageCount, &rec.MatchCount, &terms, &industries, &cats, &rec.RunID, &rec.ComputedAt); err != nil {
		return store.AnalyticsRecord{}, err
	}
	rec.Key.Hour = int(hour)
	rec.DayOfWeek = time.Weekday(dow)

	var err error
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

// GetAnalytics returns one record.
func (s *pgStore) GetAnalytics(ctx context.Context, key store.BucketKey) (store.AnalyticsRecord, bool, error) {
	rec, err := scanAnalytics(s.db.QueryRow(ctx, `
		SELECT `+analyticsColumns+`
		FROM channel_analytics
		WHERE channel_id = $1 AND bucket_date = $2 AND bucket_hour = $3
	`, key.ChannelID, key.Date, key.Hour))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.AnalyticsRecord{}, false, nil
	}
	if err != nil {
		return store.AnalyticsRecord{}, false, err
	}
	return rec, true, nil
}

// ListAnalytics returns records whose bucket starts in [from, to). A zero
// channelID selects every channel.
func (s *pgStore) ListAnalytics(ctx context.Context, channelID int64, from, to time.Time, g store.Granularity) ([]store.AnalyticsRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+analyticsColumns+`
		FROM channel_analytics
		WHERE granularity = $1 AND bucket_start >= $2 AND bucket_start < $3
			AND ($4::bigint = 0 OR channel_id = $4::bigint)
		ORDER BY bucket_start, channel_id
	`, string(g), from, to, channelID)
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
