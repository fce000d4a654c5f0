package handlers

import (
	"net/http"

	"github.com/cognicore/tagstream/pkg/tagstream/dictionary"
	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// MessageHandler serves stored messages with their matches.
type MessageHandler struct {
	store store.Store
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(st store.Store) *MessageHandler {
	return &MessageHandler{store: st}
}

// GetMessage returns a message and the terms it matched.
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid message ID", err)
		return
	}

	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		respondWithError(w, statusFor(err), "Message not found", err)
		return
	}
	details, err := h.store.MatchDetails(r.Context(), []int64{id})
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to load matches", err)
		return
	}

	out := messageResponse{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		OriginID:  msg.OriginID,
		Text:      msg.Text,
		Canonical: msg.Canonical,
		PostedAt:  msg.PostedAt,
		Views:     msg.Views,
		Forwards:  msg.Forwards,
		Replies:   msg.Replies,
		Matches:   make([]matchResponse, 0, len(details)),
	}
	for _, d := range details {
		m := matchResponse{TermID: d.TermID, Term: d.TermText, CategoryID: d.CategoryID, Category: d.CategoryName}
		// undecodable metadata is shown without it rather than failing the read
		if meta, err := dictionary.DecodeMetadata(d.Metadata); err == nil && len(meta) > 0 {
			m.Metadata = meta
			m.Industry, _ = meta.Industry()
		}
		out.Matches = append(out.Matches, m)
	}
	respondWithJSON(w, http.StatusOK, out)
}
