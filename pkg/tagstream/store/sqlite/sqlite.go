package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// timeLayout is fixed-width so TEXT columns compare in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// inChunk bounds the number of placeholders in one IN list.
const inChunk = 500

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", withPragmas(path))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize schema
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// withPragmas adds per-connection pragmas to the DSN so every pooled
// connection enforces foreign keys and waits on locks.
func withPragmas(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT UNIQUE NOT NULL,
	username TEXT,
	title TEXT,
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL,
	origin_id INTEGER NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	canonical TEXT NOT NULL DEFAULT '',
	posted_at TEXT NOT NULL,
	views INTEGER NOT NULL DEFAULT 0,
	forwards INTEGER NOT NULL DEFAULT 0,
	replies INTEGER NOT NULL DEFAULT 0,
	extra TEXT,
	ingested_at TEXT NOT NULL,
	UNIQUE(channel_id, origin_id),
	FOREIGN KEY(channel_id) REFERENCES channels(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_posted ON messages(posted_at);
CREATE INDEX IF NOT EXISTS idx_messages_channel_posted ON messages(channel_id, posted_at);

CREATE TABLE IF NOT EXISTS dictionary_categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	policy TEXT NOT NULL DEFAULT 'exact',
	active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS dictionary_terms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	metadata TEXT NOT NULL DEFAULT '{}',
	UNIQUE(category_id, text),
	FOREIGN KEY(category_id) REFERENCES dictionary_categories(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS message_matches (
	message_id INTEGER NOT NULL,
	term_id INTEGER NOT NULL,
	matched_at TEXT NOT NULL,
	PRIMARY KEY(message_id, term_id),
	FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE,
	FOREIGN KEY(term_id) REFERENCES dictionary_terms(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_message_matches_term ON message_matches(term_id);

CREATE TABLE IF NOT EXISTS channel_analytics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id INTEGER NOT NULL,
	bucket_date TEXT NOT NULL,
	bucket_hour INTEGER NOT NULL,
	granularity TEXT NOT NULL,
	bucket_start TEXT NOT NULL,
	day_of_week INTEGER NOT NULL,
	message_count INTEGER NOT NULL,
	match_count INTEGER NOT NULL,
	top_terms TEXT NOT NULL DEFAULT '[]',
	top_industries TEXT NOT NULL DEFAULT '[]',
	top_categories TEXT NOT NULL DEFAULT '[]',
	run_id TEXT,
	computed_at TEXT NOT NULL,
	UNIQUE(channel_id, bucket_date, bucket_hour),
	FOREIGN KEY(channel_id) REFERENCES channels(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_channel_analytics_start ON channel_analytics(granularity, bucket_start);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertChannel inserts or updates a channel keyed by external ID
func (s *sqliteStore) UpsertChannel(ctx context.Context, c store.Channel) (int64, error) {
	if strings.TrimSpace(c.ExternalID) == "" {
		return 0, fmt.Errorf("channel without external id: %w", internalerr.ErrInvalidInput)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO channels (external_id, username, title, active)
VALUES (?, ?, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
	username=excluded.username,
	title=excluded.title,
	active=excluded.active
RETURNING id;
`, c.ExternalID, c.Username, c.Title, boolInt(c.Active)).Scan(&id)
	return id, err
}

// ListChannels returns channels ordered by ID
func (s *sqliteStore) ListChannels(ctx context.Context, activeOnly bool) ([]store.Channel, error) {
	query := `SELECT id, external_id, username, title, active FROM channels`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Channel
	for rows.Next() {
		var c store.Channel
		var username, title sql.NullString
		if err := rows.Scan(&c.ID, &c.ExternalID, &username, &title, &c.Active); err != nil {
			return nil, err
		}
		c.Username, c.Title = username.String, title.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertMessage inserts a message or refreshes raw text, engagement and
// extra fields. Canonical text is only written on insert.
func (s *sqliteStore) UpsertMessage(ctx context.Context, m store.Message) (store.UpsertResult, error) {
	if err := store.ValidateMessage(m); err != nil {
		return store.UpsertResult{}, err
	}
	extra, err := encodeExtra(m.Extra)
	if err != nil {
		return store.UpsertResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UpsertResult{}, err
	}
	defer tx.Rollback()

	var (
		res     store.UpsertResult
		oldText string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, text FROM messages WHERE channel_id=? AND origin_id=?`,
		m.ChannelID, m.OriginID,
	).Scan(&res.ID, &oldText)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		ingested := m.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now()
		}
		err = tx.QueryRowContext(ctx, `
INSERT INTO messages (channel_id, origin_id, text, canonical, posted_at, views, forwards, replies, extra, ingested_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id;
`,
			m.ChannelID, m.OriginID, m.Text, m.Canonical, formatTime(m.PostedAt),
			m.Views, m.Forwards, m.Replies, extra, formatTime(ingested),
		).Scan(&res.ID)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("insert message: %w", err)
		}
		res.Inserted = true
	case err != nil:
		return store.UpsertResult{}, err
	default:
		_, err = tx.ExecContext(ctx, `
UPDATE messages SET
	text=?, posted_at=?, views=?, forwards=?, replies=?, extra=?
WHERE id=?;
`, m.Text, formatTime(m.PostedAt), m.Views, m.Forwards, m.Replies, extra, res.ID)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("update message: %w", err)
		}
		res.TextChanged = oldText != m.Text
	}

	return res, tx.Commit()
}

// SetCanonical replaces the canonical text of a message
func (s *sqliteStore) SetCanonical(ctx context.Context, id int64, canonical string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET canonical=? WHERE id=?`, canonical, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", id, internalerr.ErrNotFound)
	}
	return nil
}

const messageColumns = `id, channel_id, origin_id, text, canonical, posted_at, views, forwards, replies, extra, ingested_at`

func scanMessage(sc interface{ Scan(...any) error }) (store.Message, error) {
	var (
		m                store.Message
		posted, ingested string
		extra            sql.NullString
	)
	if err := sc.Scan(&m.ID, &m.ChannelID, &m.OriginID, &m.Text, &m.Canonical, &posted,
		&m.Views, &m.Forwards, &m.Replies, &extra, &ingested); err != nil {
		return store.Message{}, err
	}
	var err error
	if m.PostedAt, err = parseTime(posted); err != nil {
		return store.Message{}, fmt.Errorf("message %d posted_at: %w", m.ID, err)
	}
	if m.IngestedAt, err = parseTime(ingested); err != nil {
		return store.Message{}, fmt.Errorf("message %d ingested_at: %w", m.ID, err)
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &m.Extra); err != nil {
			slog.Warn("message extra unreadable", "message", m.ID, "error", err)
			m.Extra = nil
		}
	}
	return m, nil
}

func encodeExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra: %w", err)
	}
	return string(b), nil
}

// GetMessage retrieves a message by ID
func (s *sqliteStore) GetMessage(ctx context.Context, id int64) (store.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Message{}, fmt.Errorf("message %d: %w", id, internalerr.ErrNotFound)
	}
	return m, err
}

// MessagesInRange returns a channel's messages posted in [start, end)
func (s *sqliteStore) MessagesInRange(ctx context.Context, channelID int64, start, end time.Time) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE channel_id=? AND posted_at >= ? AND posted_at < ?
ORDER BY posted_at, id;
`, channelID, formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageIDsInRange returns the IDs of all messages posted in [start, end)
func (s *sqliteStore) MessageIDsInRange(ctx context.Context, start, end time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM messages WHERE posted_at >= ? AND posted_at < ? ORDER BY id`,
		formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMessagesBefore removes messages posted before cutoff; matches go
// with them through the foreign key.
func (s *sqliteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE posted_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertCategory inserts or updates a category keyed by name
func (s *sqliteStore) UpsertCategory(ctx context.Context, c dictionary.Category) (int64, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return 0, fmt.Errorf("category without name: %w", internalerr.ErrInvalidInput)
	}
	policy := c.Policy
	if policy == "" {
		policy = dictionary.PolicyExact
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO dictionary_categories (name, policy, active)
VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	policy=excluded.policy,
	active=excluded.active
RETURNING id;
`, name, string(policy), boolInt(c.Active)).Scan(&id)
	return id, err
}

// UpsertTerm inserts or updates a term keyed by (category, text)
func (s *sqliteStore) UpsertTerm(ctx context.Context, t dictionary.Term) (int64, error) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return 0, fmt.Errorf("term without text: %w", internalerr.ErrInvalidInput)
	}
	meta, err := t.Metadata.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO dictionary_terms (category_id, text, active, metadata)
VALUES (?, ?, ?, ?)
ON CONFLICT(category_id, text) DO UPDATE SET
	active=excluded.active,
	metadata=excluded.metadata
RETURNING id;
`, t.CategoryID, text, boolInt(t.Active), string(meta)).Scan(&id)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY") {
		return 0, fmt.Errorf("category %d: %w", t.CategoryID, internalerr.ErrNotFound)
	}
	return id, err
}

// SetTermActive toggles a term
func (s *sqliteStore) SetTermActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dictionary_terms SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
	}
	return nil
}

// UpdateTermMetadata replaces a term's metadata in one statement
func (s *sqliteStore) UpdateTermMetadata(ctx context.Context, id int64, meta dictionary.Metadata) error {
	raw, err := meta.Encode()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE dictionary_terms SET metadata=? WHERE id=?`, string(raw), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
	}
	return nil
}

// ListCategories returns all categories ordered by ID
func (s *sqliteStore) ListCategories(ctx context.Context) ([]dictionary.Category, error) {
	return listCategories(ctx, s.db)
}

// ListTerms returns all terms ordered by ID. Terms whose stored metadata
// cannot be decoded are returned without metadata.
func (s *sqliteStore) ListTerms(ctx context.Context) ([]dictionary.Term, error) {
	return listTerms(ctx, s.db)
}

// ReadDictionary reads categories and terms inside one read transaction
func (s *sqliteStore) ReadDictionary(ctx context.Context) ([]dictionary.Category, []dictionary.Term, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	cats, err := listCategories(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	terms, err := listTerms(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	return cats, terms, tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listCategories(ctx context.Context, q queryer) ([]dictionary.Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, policy, active FROM dictionary_categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dictionary.Category
	for rows.Next() {
		var c dictionary.Category
		var policy string
		if err := rows.Scan(&c.ID, &c.Name, &policy, &c.Active); err != nil {
			return nil, err
		}
		c.Policy = dictionary.Policy(policy)
		out = append(out, c)
	}
	return out, rows.Err()
}

func listTerms(ctx context.Context, q queryer) ([]dictionary.Term, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, category_id, text, active, metadata FROM dictionary_terms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dictionary.Term
	for rows.Next() {
		var t dictionary.Term
		var raw string
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.Text, &t.Active, &raw); err != nil {
			return nil, err
		}
		meta, err := dictionary.DecodeMetadata([]byte(raw))
		if err != nil {
			slog.Warn("term metadata unreadable", "term", t.ID, "error", err)
		}
		t.Metadata = meta
		out = append(out, t)
	}
	return out, rows.Err()
}
