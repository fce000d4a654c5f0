package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cognicore/tagstream/pkg/tagstream/internalerr"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ReconcileMatches makes the message's match set equal to termIDs. Records
// already present keep their original timestamp.
func (s *Store) ReconcileMatches(ctx context.Context, messageID int64, termIDs []int64, now time.Time) (store.ReconcileResult, error) {
	ids := store.UniqueIDs(termIDs)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return store.ReconcileResult{}, fmt.Errorf("message %d: %w", messageID, internalerr.ErrNotFound)
	}
	for _, id := range ids {
		if _, ok := s.terms[id]; !ok {
			return store.ReconcileResult{}, fmt.Errorf("term %d: %w", id, internalerr.ErrNotFound)
		}
	}

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var res store.ReconcileResult
	current := s.matches[messageID]
	for id := range current {
		if _, keep := want[id]; !keep {
			delete(current, id)
			res.Deleted++
		}
	}
	if len(ids) > 0 && current == nil {
		current = make(map[int64]time.Time, len(ids))
		s.matches[messageID] = current
	}
	for _, id := range ids {
		if _, ok := current[id]; !ok {
			current[id] = now
			res.Inserted++
		}
	}
	if len(current) == 0 {
		delete(s.matches, messageID)
	}
	return res, nil
}

// MatchesForMessage returns a message's matches ordered by term ID.
func (s *Store) MatchesForMessage(ctx context.Context, messageID int64) ([]store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Match
	for termID, at := range s.matches[messageID] {
		out = append(out, store.Match{MessageID: messageID, TermID: termID, MatchedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TermID < out[j].TermID })
	return out, nil
}

// MatchDetails joins the matches of the given messages with their terms and
// categories, ordered by message then term.
func (s *Store) MatchDetails(ctx context.Context, messageIDs []int64) ([]store.MatchDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.MatchDetail
	for _, msgID := range store.UniqueIDs(messageIDs) {
		for termID := range s.matches[msgID] {
			st, ok := s.terms[termID]
			if !ok {
				continue
			}
			cat := s.categories[st.term.CategoryID]
			out = append(out, store.MatchDetail{
				MessageID:    msgID,
				TermID:       termID,
				TermText:     st.term.Text,
				CategoryID:   cat.ID,
				CategoryName: cat.Name,
				Metadata:     append([]byte(nil), st.meta...),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageID != out[j].MessageID {
			return out[i].MessageID < out[j].MessageID
		}
		return out[i].TermID < out[j].TermID
	})
	return out, nil
}

// ReplaceAnalytics stores rec, replacing any record with the same key.
func (s *Store) ReplaceAnalytics(ctx context.Context, rec store.AnalyticsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[rec.Key.ChannelID]; !ok {
		return fmt.Errorf("channel %d: %w", rec.Key.ChannelID, internalerr.ErrNotFound)
	}
	s.analytics[rec.Key] = copyRecord(rec)
	return nil
}

// DeleteAnalytics removes a record, reporting whether one existed.
func (s *Store) DeleteAnalytics(ctx context.Context, key store.BucketKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.analytics[key]
	delete(s.analytics, key)
	return ok, nil
}

// GetAnalytics returns one record.
func (s *Store) GetAnalytics(ctx context.Context, key store.BucketKey) (store.AnalyticsRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.analytics[key]
	if !ok {
		return store.AnalyticsRecord{}, false, nil
	}
	return copyRecord(rec), true, nil
}

// ListAnalytics returns records whose bucket starts in [from, to). A zero
// channelID selects every channel.
func (s *Store) ListAnalytics(ctx context.Context, channelID int64, from, to time.Time, g store.Granularity) ([]store.AnalyticsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.AnalyticsRecord
	for key, rec := range s.analytics {
		if channelID != 0 && key.ChannelID != channelID {
			continue
		}
		if key.Granularity() != g || !inWindow(rec.BucketStart, from, to) {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.Before(out[j].BucketStart)
		}
		return out[i].Key.ChannelID < out[j].Key.ChannelID
	})
	return out, nil
}

func copyRecord(rec store.AnalyticsRecord) store.AnalyticsRecord {
	rec.TopTerms = append([]store.LabelCount(nil), rec.TopTerms...)
	rec.TopIndustries = append([]store.LabelCount(nil), rec.TopIndustries...)
	rec.TopCategories = append([]store.LabelCount(nil), rec.TopCategories...)
	return rec
}
