package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// Options tunes the connection pool.
type Options struct {
	MaxConns    int32
	MaxLifetime time.Duration
}

// pgStore implements store.Store on PostgreSQL through a pgx pool.
type pgStore struct {
	db *pgxpool.Pool
}

// Open connects to PostgreSQL, verifies the connection and creates the
// schema if needed.
func Open(ctx context.Context, dsn string, opts Options) (store.Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxLifetime
	}

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w: %v", internalerr.ErrStoreUnavailable, err)
	}

	// Test connection
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &pgStore{db: db}, nil
}

// Close releases the pool.
func (s *pgStore) Close() error {
	s.db.Close()
	return nil
}

func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
CREATE TABLE IF NOT EXISTS channels (
	id BIGSERIAL PRIMARY KEY,
	external_id TEXT UNIQUE NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS messages (
	id BIGSERIAL PRIMARY KEY,
	channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	origin_id BIGINT NOT NULL CHECK (origin_id > 0),
	text TEXT NOT NULL DEFAULT '',
	canonical TEXT NOT NULL DEFAULT '',
	posted_at TIMESTAMPTZ NOT NULL,
	views BIGINT NOT NULL DEFAULT 0,
	forwards BIGINT NOT NULL DEFAULT 0,
	replies BIGINT NOT NULL DEFAULT 0,
	extra JSONB,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(channel_id, origin_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_posted ON messages(posted_at);
CREATE INDEX IF NOT EXISTS idx_messages_channel_posted ON messages(channel_id, posted_at);

CREATE TABLE IF NOT EXISTS dictionary_categories (
	id BIGSERIAL PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	policy TEXT NOT NULL DEFAULT 'exact',
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS dictionary_terms (
	id BIGSERIAL PRIMARY KEY,
	category_id BIGINT NOT NULL REFERENCES dictionary_categories(id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	UNIQUE(category_id, text)
);

CREATE TABLE IF NOT EXISTS message_matches (
	message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	term_id BIGINT NOT NULL REFERENCES dictionary_terms(id) ON DELETE CASCADE,
	matched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY(message_id, term_id)
);

CREATE INDEX IF NOT EXISTS idx_message_matches_term ON message_matches(term_id);

CREATE TABLE IF NOT EXISTS channel_analytics (
	id BIGSERIAL PRIMARY KEY,
	channel_id BIGINT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	bucket_date TEXT NOT NULL,
	bucket_hour SMALLINT NOT NULL,
	granularity TEXT NOT NULL,
	bucket_start TIMESTAMPTZ NOT NULL,
	day_of_week SMALLINT NOT NULL,
	message_count INTEGER NOT NULL,
	match_count INTEGER NOT NULL,
	top_terms JSONB NOT NULL DEFAULT '[]'::jsonb,
	top_industries JSONB NOT NULL DEFAULT '[]'::jsonb,
	top_categories JSONB NOT NULL DEFAULT '[]'::jsonb,
	run_id TEXT NOT NULL DEFAULT '',
	computed_at TIMESTAMPTZ NOT NULL,
	UNIQUE(channel_id, bucket_date, bucket_hour)
);

CREATE INDEX IF NOT EXISTS idx_channel_analytics_start ON channel_analytics(granularity, bucket_start);
`
	_, err := db.Exec(ctx, schema)
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func notFoundIfMissing(res pgconn.CommandTag, what string, id int64) error {
	if res.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", what, id, internalerr.ErrNotFound)
	}
	return nil
}

// UpsertChannel inserts or updates a channel keyed by external ID.
func (s *pgStore) UpsertChannel(ctx context.Context, c store.Channel) (int64, error) {
	if strings.TrimSpace(c.ExternalID) == "" {
		return 0, fmt.Errorf("channel without external id: %w", internalerr.ErrInvalidInput)
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO channels (external_id, username, title, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE
		SET username = $2, title = $3, active = $4
		RETURNING id
	`, c.ExternalID, c.Username, c.Title, c.Active).Scan(&id)
	return id, err
}

// ListChannels returns channels ordered by ID.
func (s *pgStore) ListChannels(ctx context.Context, activeOnly bool) ([]store.Channel, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, external_id, username, title, active
		FROM channels
		WHERE active OR NOT $1
		ORDER BY id
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Channel
	for rows.Next() {
		var c store.Channel
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.Username, &c.Title, &c.Active); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertMessage inserts a message or refreshes raw text, engagement and
// extra fields. Canonical text is only written on insert.
func (s *pgStore) UpsertMessage(ctx context.Context, m store.Message) (store.UpsertResult, error) {
	if err := store.ValidateMessage(m); err != nil {
		return store.UpsertResult{}, err
	}
	var extra []byte
	if len(m.Extra) > 0 {
		b, err := json.Marshal(m.Extra)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("encode extra: %w", err)
		}
		extra = b
	}
	ingested := m.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return store.UpsertResult{}, err
	}
	defer tx.Rollback(ctx)

	var (
		res     store.UpsertResult
		oldText *string
	)
	err = tx.QueryRow(ctx,
		`SELECT text FROM messages WHERE channel_id = $1 AND origin_id = $2 FOR UPDATE`,
		m.ChannelID, m.OriginID,
	).Scan(&oldText)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return store.UpsertResult{}, err
	}

	// xmax = 0 only for rows created by this statement.
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (channel_id, origin_id, text, canonical, posted_at, views, forwards, replies, extra, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (channel_id, origin_id) DO UPDATE
		SET text = $3, posted_at = $5, views = $6, forwards = $7, replies = $8, extra = $9
		RETURNING id, (xmax = 0)
	`,
		m.ChannelID, m.OriginID, m.Text, m.Canonical, m.PostedAt,
		m.Views, m.Forwards, m.Replies, extra, ingested,
	).Scan(&res.ID, &res.Inserted)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.UpsertResult{}, fmt.Errorf("channel %d: %w", m.ChannelID, internalerr.ErrNotFound)
		}
		return store.UpsertResult{}, fmt.Errorf("upsert message: %w", err)
	}
	if !res.Inserted && oldText != nil {
		res.TextChanged = *oldText != m.Text
	}

	return res, tx.Commit(ctx)
}

// SetCanonical replaces the canonical text of a message.
func (s *pgStore) SetCanonical(ctx context.Context, id int64, canonical string) error {
	res, err := s.db.Exec(ctx, `UPDATE messages SET canonical = $1 WHERE id = $2`, canonical, id)
	if err != nil {
		return err
	}
	return notFoundIfMissing(res, "message", id)
}

const messageColumns = `id, channel_id, origin_id, text, canonical, posted_at, views, forwards, replies, extra, ingested_at`

func scanMessage(row pgx.Row) (store.Message, error) {
	var m store.Message
	var extra []byte
	if err := row.Scan(&m.ID, &m.ChannelID, &m.OriginID, &m.Text, &m.Canonical, &m.PostedAt,
		&m.Views, &m.Forwards, &m.Replies, &extra, &m.IngestedAt); err != nil {
		return store.Message{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &m.Extra); err != nil {
			slog.Warn("message extra unreadable", "message", m.ID, "error", err)
			m.Extra = nil
		}
	}
	return m, nil
}

// GetMessage retrieves a message by ID.
func (s *pgStore) GetMessage(ctx context.Context, id int64) (store.Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Message{}, fmt.Errorf("message %d: %w", id, internalerr.ErrNotFound)
	}
	return m, err
}

// MessagesInRange returns a channel's messages posted in [start, end).
func (s *pgStore) MessagesInRange(ctx context.Context, channelID int64, start, end time.Time) ([]store.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE channel_id = $1 AND posted_at >= $2 AND posted_at < $3
		ORDER BY posted_at, id
	`, channelID, start, end)
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

// MessageIDsInRange returns the IDs of all messages posted in [start, end).
func (s *pgStore) MessageIDsInRange(ctx context.Context, start, end time.Time) ([]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM messages WHERE posted_at >= $1 AND posted_at < $2 ORDER BY id`, start, end)
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

// DeleteMessagesBefore removes messages posted before cutoff; matches are
// removed by cascade.
func (s *pgStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, `DELETE FROM messages WHERE posted_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// UpsertCategory inserts or updates a category keyed by name.
func (s *pgStore) UpsertCategory(ctx context.Context, c dictionary.Category) (int64, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return 0, fmt.Errorf("category without name: %w", internalerr.ErrInvalidInput)
	}
	policy := c.Policy
	if policy == "" {
		policy = dictionary.PolicyExact
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO dictionary_categories (name, policy, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET policy = $2, active = $3
		RETURNING id
	`, name, string(policy), c.Active).Scan(&id)
	return id, err
}

// UpsertTerm inserts or updates a term keyed by (category, text).
func (s *pgStore) UpsertTerm(ctx context.Context, t dictionary.Term) (int64, error) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return 0, fmt.Errorf("term without text: %w", internalerr.ErrInvalidInput)
	}
	meta, err := t.Metadata.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	var id int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO dictionary_terms (category_id, text, active, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (category_id, text) DO UPDATE
		SET active = $3, metadata = $4
		RETURNING id
	`, t.CategoryID, text, t.Active, meta).Scan(&id)
	if isForeignKeyViolation(err) {
		return 0, fmt.Errorf("category %d: %w", t.CategoryID, internalerr.ErrNotFound)
	}
	return id, err
}

// SetTermActive toggles a term.
func (s *pgStore) SetTermActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.Exec(ctx, `UPDATE dictionary_terms SET active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	return notFoundIfMissing(res, "term", id)
}

// UpdateTermMetadata replaces a term's metadata in one statement.
func (s *pgStore) UpdateTermMetadata(ctx context.Context, id int64, meta dictionary.Metadata) error {
	raw, err := meta.Encode()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := s.db.Exec(ctx, `UPDATE dictionary_terms SET metadata = $1 WHERE id = $2`, raw, id)
	if err != nil {
		return err
	}
	return notFoundIfMissing(res, "term", id)
}

// ListCategories returns all categories ordered by ID.
func (s *pgStore) ListCategories(ctx context.Context) ([]dictionary.Category, error) {
	return listCategories(ctx, s.db)
}

// ListTerms returns all terms ordered by ID.
func (s *pgStore) ListTerms(ctx context.Context) ([]dictionary.Term, error) {
	return listTerms(ctx, s.db)
}

// ReadDictionary reads categories and terms from one repeatable-read
// snapshot.
func (s *pgStore) ReadDictionary(ctx context.Context) ([]dictionary.Category, []dictionary.Term, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	cats, err := listCategories(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	terms, err := listTerms(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	return cats, terms, tx.Commit(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func listCategories(ctx context.Context, q querier) ([]dictionary.Category, error) {
	rows, err := q.Query(ctx, `SELECT id, name, policy, active FROM dictionary_categories ORDER BY id`)
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

func listTerms(ctx context.Context, q querier) ([]dictionary.Term, error) {
	rows, err := q.Query(ctx, `SELECT id, category_id, text, active, metadata FROM dictionary_terms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dictionary.Term
	for rows.Next() {
		var t dictionary.Term
		var raw []byte
		if err := rows.Scan(&t.ID, &t.CategoryID, &t.Text, &t.Active, &raw); err != nil {
			return nil, err
		}
		meta, err := dictionary.DecodeMetadata(raw)
		if err != nil {
			slog.Warn("term metadata unreadable", "term", t.ID, "error", err)
		}
		t.Metadata = meta
		out = append(out, t)
	}
	return out, rows.Err()
}
