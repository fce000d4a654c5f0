package handlers

import (
	"net/http"

	"github.com/cognicore/tagstream/pkg/tagstream/store"
)

// ChannelHandler serves channel listings.
type ChannelHandler struct {
	store store.Store
}

// NewChannelHandler creates a channel handler.
func NewChannelHandler(st store.Store) *ChannelHandler {
	return &ChannelHandler{store: st}
}

// ListChannels returns channels; ?active=true limits to active ones.
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	chans, err := h.store.ListChannels(r.Context(), activeOnly)
	if err != nil {
		respondWithError(w, statusFor(err), "Failed to list channels", err)
		return
	}

	out := make([]channelResponse, 0, len(chans))
	for _, c := range chans {
		out = append(out, toChannel(c))
	}
	respondWithJSON(w, http.StatusOK, out)
}
