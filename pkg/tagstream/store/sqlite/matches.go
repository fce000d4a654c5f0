package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ReconcileMatches makes the message's match set equal to termIDs in one
// transaction. Existing rows keep their matched_at.
func (s *sqliteStore) ReconcileMatches(ctx context.Context, messageID int64, termIDs []int64, now time.Time) (store.ReconcileResult, error) {
	ids := store.UniqueIDs(termIDs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.ReconcileResult{}, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id=?`, messageID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return store.ReconcileResult{}, fmt.Errorf("message %d: %w", messageID, internalerr.ErrNotFound)
		}
		return store.ReconcileResult{}, err
	}

	var res store.ReconcileResult

	del := `DELETE FROM message_matches WHERE message_id=?`
	args := []any{messageID}
	if len(ids) > 0 {
		del += fmt.Sprintf(` AND term_id NOT IN (%s)`, placeholders(len(ids)))
		for _, id := range ids {
			args = append(args, id)
		}
	}
	out, err := tx.ExecContext(ctx, del, args...)
	if err != nil {
		return store.ReconcileResult{}, fmt.Errorf("delete stale matches: %w", err)
	}
	n, _ := out.RowsAffected()
	res.Deleted = int(n)

	if len(ids) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO message_matches (message_id, term_id, matched_at)
VALUES (?, ?, ?)
ON CONFLICT(message_id, term_id) DO NOTHING;
`)
		if err != nil {
			return store.ReconcileResult{}, err
		}
		defer stmt.Close()

		at := formatTime(now)
		for _, id := range ids {
			out, err := stmt.ExecContext(ctx, messageID, id, at)
			if err != nil {
				if strings.Contains(err.Error(), "FOREIGN KEY") {
					return store.ReconcileResult{}, fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
				}
				return store.ReconcileResult{}, fmt.Errorf("insert match: %w", err)
			}
			n, _ := out.RowsAffected()
			res.Inserted += int(n)
		}
	}

	return res, tx.Commit()
}

// MatchesForMessage returns a message's matches ordered by term ID
func (s *sqliteStore) MatchesForMessage(ctx context.Context, messageID int64) ([]store.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term_id, matched_at FROM message_matches WHERE message_id=? ORDER BY term_id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Match
	for rows.Next() {
		m := store.Match{MessageID: messageID}
		var at string
		if err := rows.Scan(&m.TermID, &at); err != nil {
			return nil, err
		}
		if m.MatchedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MatchDetails joins matches of the given messages with terms and
// categories, ordered by message then term
func (s *sqliteStore) MatchDetails(ctx context.Context, messageIDs []int64) ([]store.MatchDetail, error) {
	ids := store.UniqueIDs(messageIDs)

	var out []store.MatchDetail
	for startIdx := 0; startIdx < len(ids); startIdx += inChunk {
		chunk := ids[startIdx:min(startIdx+inChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		query := fmt.Sprintf(`
SELECT mm.message_id, t.id, t.text, c.id, c.name, t.metadata
FROM message_matches mm
JOIN dictionary_terms t ON t.id = mm.term_id
JOIN dictionary_categories c ON c.id = t.category_id
WHERE mm.message_id IN (%s)
ORDER BY mm.message_id, t.id;
`, placeholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var d store.MatchDetail
			var meta string
			if err := rows.Scan(&d.MessageID, &d.TermID, &d.TermText, &d.CategoryID, &d.CategoryName, &meta); err != nil {
				rows.Close()
				return nil, err
			}
			d.Metadata = []byte(meta)
			out = append(out, d)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
