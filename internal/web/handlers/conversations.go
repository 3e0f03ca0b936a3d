package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/history"
	"github.com/idclerk/idclerk/internal/log"
)

// Listing page size bounds.
const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

// Conversations serves the conversation listing endpoints.
type Conversations struct {
	store  *history.Store
	logger log.Logger
}

// NewConversations creates a Conversations handler.
func NewConversations(store *history.Store, logger log.Logger) (*Conversations, error) {
	if store == nil {
		return nil, errors.New("conversation store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Conversations{store: store, logger: logger}, nil
}

// List handles GET /api/conversations.
func (h *Conversations) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "session required")
		return
	}

	limit := queryInt(r, "limit", defaultConversationLimit)
	if limit <= 0 || limit > maxConversationLimit {
		limit = defaultConversationLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	conversations, err := h.store.List(r.Context(), claims.ID, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("listing conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// Messages handles GET /api/conversations/{id}/messages.
func (h *Conversations) Messages(w http.ResponseWriter, r *http.Request) {
	conversation, ok := h.owned(w, r)
	if !ok {
		return
	}

	messages, err := h.store.Messages(r.Context(), conversation.ID)
	if err != nil {
		h.logger.Error("listing messages", "conversation_id", conversation.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Delete handles DELETE /api/conversations/{id}.
func (h *Conversations) Delete(w http.ResponseWriter, r *http.Request) {
	conversation, ok := h.owned(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), conversation.ID); err != nil {
		h.logger.Error("deleting conversation", "conversation_id", conversation.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// owned resolves the {id} path value to a conversation owned by the caller.
// Unknown IDs and other owners' conversations both read as not found.
func (h *Conversations) owned(w http.ResponseWriter, r *http.Request) (*history.Conversation, bool) {
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "session required")
		return nil, false
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return nil, false
	}

	conversation, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		} else {
			h.logger.Error("getting conversation", "conversation_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not load conversation")
		}
		return nil, false
	}
	if conversation.Owner != claims.ID {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return nil, false
	}

	return conversation, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
