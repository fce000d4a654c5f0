package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

type msgKey struct {
	channelID int64
	originID  int64
}

type termKey struct {
	categoryID int64
	text       string
}

// storedTerm keeps metadata encoded, as the SQL backends do.
type storedTerm struct {
	term dictionary.Term
	meta []byte
}

// Store is an in-memory implementation of store.Store for tests and
// short-lived runs.
type Store struct {
	mu sync.RWMutex

	nextID int64

	channels     map[int64]store.Channel
	channelByExt map[string]int64

	messages map[int64]store.Message
	msgIndex map[msgKey]int64

	categories map[int64]dictionary.Category
	catByName  map[string]int64
	terms      map[int64]storedTerm
	termIndex  map[termKey]int64

	matches   map[int64]map[int64]time.Time
	analytics map[store.BucketKey]store.AnalyticsRecord
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		nextID:       1,
		channels:     make(map[int64]store.Channel),
		channelByExt: make(map[string]int64),
		messages:     make(map[int64]store.Message),
		msgIndex:     make(map[msgKey]int64),
		categories:   make(map[int64]dictionary.Category),
		catByName:    make(map[string]int64),
		terms:        make(map[int64]storedTerm),
		termIndex:    make(map[termKey]int64),
		matches:      make(map[int64]map[int64]time.Time),
		analytics:    make(map[store.BucketKey]store.AnalyticsRecord),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// UpsertChannel inserts or updates a channel keyed by external ID.
func (s *Store) UpsertChannel(ctx context.Context, c store.Channel) (int64, error) {
	if strings.TrimSpace(c.ExternalID) == "" {
		return 0, fmt.Errorf("channel without external id: %w", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.channelByExt[c.ExternalID]; ok {
		c.ID = id
	} else {
		c.ID = s.allocID()
		s.channelByExt[c.ExternalID] = c.ID
	}
	s.channels[c.ID] = c
	return c.ID, nil
}

// ListChannels returns channels ordered by ID.
func (s *Store) ListChannels(ctx context.Context, activeOnly bool) ([]store.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Channel
	for _, c := range s.channels {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertMessage inserts a message or refreshes its raw text, engagement and
// extra fields. Canonical text is kept on update.
func (s *Store) UpsertMessage(ctx context.Context, m store.Message) (store.UpsertResult, error) {
	if err := store.ValidateMessage(m); err != nil {
		return store.UpsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[m.ChannelID]; !ok {
		return store.UpsertResult{}, fmt.Errorf("channel %d: %w", m.ChannelID, internalerr.ErrNotFound)
	}

	key := msgKey{m.ChannelID, m.OriginID}
	if id, ok := s.msgIndex[key]; ok {
		existing := s.messages[id]
		changed := existing.Text != m.Text
		existing.Text = m.Text
		existing.PostedAt = m.PostedAt
		existing.Views = m.Views
		existing.Forwards = m.Forwards
		existing.Replies = m.Replies
		existing.Extra = copyExtra(m.Extra)
		s.messages[id] = existing
		return store.UpsertResult{ID: id, TextChanged: changed}, nil
	}

	m.ID = s.allocID()
	m.Extra = copyExtra(m.Extra)
	if m.IngestedAt.IsZero() {
		m.IngestedAt = time.Now().UTC()
	}
	s.messages[m.ID] = m
	s.msgIndex[key] = m.ID
	return store.UpsertResult{ID: m.ID, Inserted: true}, nil
}

// SetCanonical replaces the canonical text of a message.
func (s *Store) SetCanonical(ctx context.Context, id int64, canonical string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("message %d: %w", id, internalerr.ErrNotFound)
	}
	m.Canonical = canonical
	s.messages[id] = m
	return nil
}

// GetMessage returns a message by ID.
func (s *Store) GetMessage(ctx context.Context, id int64) (store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return store.Message{}, fmt.Errorf("message %d: %w", id, internalerr.ErrNotFound)
	}
	m.Extra = copyExtra(m.Extra)
	return m, nil
}

// MessagesInRange returns a channel's messages posted in [start, end),
// oldest first.
func (s *Store) MessagesInRange(ctx context.Context, channelID int64, start, end time.Time) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Message
	for _, m := range s.messages {
		if m.ChannelID != channelID || !inWindow(m.PostedAt, start, end) {
			continue
		}
		m.Extra = copyExtra(m.Extra)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].PostedAt.Before(out[j].PostedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MessageIDsInRange returns the IDs of all messages posted in [start, end).
func (s *Store) MessageIDsInRange(ctx context.Context, start, end time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, m := range s.messages {
		if inWindow(m.PostedAt, start, end) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// DeleteMessagesBefore removes messages posted before cutoff together with
// their matches.
func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.messages {
		if !m.PostedAt.Before(cutoff) {
			continue
		}
		delete(s.messages, id)
		delete(s.msgIndex, msgKey{m.ChannelID, m.OriginID})
		delete(s.matches, id)
		n++
	}
	return n, nil
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

func copyExtra(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
