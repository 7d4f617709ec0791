package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/lo"

	"peerchat/internal/middleware"
)

// Handler exposes history retrieval as plain request/response; live traffic
// goes over the websocket.
type Handler struct {
	relay *Relay
}

func NewHandler(relay *Relay) *Handler {
	return &Handler{relay: relay}
}

type historyItem struct {
	MessageID   string    `json:"messageId"`
	SenderID    string    `json:"senderId"`
	SenderName  string    `json:"senderName"`
	RecipientID string    `json:"recipientId"`
	Body        string    `json:"body"`
	Timestamp   time.Time `json:"timestamp"`
}

// History serves GET /api/messages?peer=<id>: the ordered conversation
// between the authenticated user and peer.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	peer := r.URL.Query().Get("peer")
	if peer == "" {
		http.Error(w, "missing peer", http.StatusBadRequest)
		return
	}

	msgs, err := h.relay.History(r.Context(), ident.ID, peer)
	if err != nil {
		if errors.Is(err, ErrStorage) {
			http.Error(w, "history unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "history failed", http.StatusInternalServerError)
		return
	}

	items := lo.Map(msgs, func(m Message, _ int) historyItem {
		return historyItem{
			MessageID:   m.ID,
			SenderID:    m.SenderID,
			SenderName:  m.SenderName,
			RecipientID: m.RecipientID,
			Body:        m.Body,
			Timestamp:   m.CreatedAt,
		}
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}
