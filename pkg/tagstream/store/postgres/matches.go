package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ReconcileMatches makes the message's match set equal to termIDs in one
// transaction. Existing rows keep their matched_at; concurrent writers meet
// on the primary key.
func (s *pgStore) ReconcileMatches(ctx context.Context, messageID int64, termIDs []int64, now time.Time) (store.ReconcileResult, error) {
	ids := store.UniqueIDs(termIDs)
	if ids == nil {
		ids = []int64{}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return store.ReconcileResult{}, err
	}
	defer tx.Rollback(ctx)

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM messages WHERE id = $1`, messageID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ReconcileResult{}, fmt.Errorf("message %d: %w", messageID, internalerr.ErrNotFound)
	}
	if err != nil {
		return store.ReconcileResult{}, err
	}

	var res store.ReconcileResult
	del, err := tx.Exec(ctx,
		`DELETE FROM message_matches WHERE message_id = $1 AND NOT (term_id = ANY($2))`,
		messageID, ids)
	if err != nil {
		return store.ReconcileResult{}, fmt.Errorf("delete stale matches: %w", err)
	}
	res.Deleted = int(del.RowsAffected())

	if len(ids) > 0 {
		ins, err := tx.Exec(ctx, `
			INSERT INTO message_matches (message_id, term_id, matched_at)
			SELECT $1, t, $3 FROM unnest($2::bigint[]) AS t
			ON CONFLICT (message_id, term_id) DO NOTHING
		`, messageID, ids, now)
		if err != nil {
			if isForeignKeyViolation(err) {
				return store.ReconcileResult{}, fmt.Errorf("unknown term in %v: %w", ids, internalerr.ErrNotFound)
			}
			return store.ReconcileResult{}, fmt.Errorf("insert matches: %w", err)
		}
		res.Inserted = int(ins.RowsAffected())
	}

	return res, tx.Commit(ctx)
}

// MatchesForMessage returns a message's matches ordered by term ID.
func (s *pgStore) MatchesForMessage(ctx context.Context, messageID int64) ([]store.Match, error) {
	rows, err := s.db.Query(ctx,
		`SELECT term_id, matched_at FROM message_matches WHERE message_id = $1 ORDER BY term_id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Match
	for rows.Next() {
		m := store.Match{MessageID: messageID}
		if err := rows.Scan(&m.TermID, &m.MatchedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MatchDetails joins matches of the given messages with terms and
// categories, ordered by message then term.
func (s *pgStore) MatchDetails(ctx context.Context, messageIDs []int64) ([]store.MatchDetail, error) {
	ids := store.UniqueIDs(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT mm.message_id, t.id, t.text, c.id, c.name, t.metadata
		FROM message_matches mm
		JOIN dictionary_terms t ON t.id = mm.term_id
		JOIN dictionary_categories c ON c.id = t.category_id
		WHERE mm.message_id = ANY($1)
		ORDER BY mm.message_id, t.id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.MatchDetail
	for rows.Next() {
		var d store.MatchDetail
		if err := rows.Scan(&d.MessageID, &d.TermID, &d.TermText, &d.CategoryID, &d.CategoryName, &d.Metadata); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
