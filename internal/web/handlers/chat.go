package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/idclerk/idclerk/internal/agent"
	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/history"
	"github.com/idclerk/idclerk/internal/log"
	"github.com/idclerk/idclerk/internal/web/sse"
)

// maxChatBodySize limits chat request bodies.
const maxChatBodySize = 1 << 20 // 1 MB

// titleLimit caps auto-generated conversation titles.
const titleLimit = 80

// Engine runs one conversation turn. *agent.Agent implements it.
type Engine interface {
	ExecuteStream(ctx context.Context, messages []*ai.Message, input string, cb agent.StreamCallback) (*agent.Response, error)
}

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// ChatResult is the payload of the terminal done event.
type ChatResult struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// Chat streams one conversation turn over SSE.
type Chat struct {
	engine        Engine
	conversations *history.Store
	logger        log.Logger
}

// ChatConfig contains all required parameters for Chat.
type ChatConfig struct {
	Engine        Engine
	Conversations *history.Store
	Logger        log.Logger
}

// NewChat creates a Chat handler.
func NewChat(cfg ChatConfig) (*Chat, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Chat{
		engine:        cfg.Engine,
		conversations: cfg.Conversations,
		logger:        cfg.Logger,
	}, nil
}

// ServeHTTP handles POST /api/chat. The response is an SSE stream of chunk
// and tool events followed by a single done (or error) event.
func (h *Chat) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := authn.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "session required")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message is required")
		return
	}

	ctx := r.Context()
	conversation, err := h.resolveConversation(ctx, claims.ID, req)
	if err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		h.logger.Error("resolving conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load conversation")
		return
	}

	stored, err := h.conversations.Messages(ctx, conversation.ID)
	if err != nil {
		h.logger.Error("loading history", "conversation_id", conversation.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load history")
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	cb := func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
		if text := chunk.Text(); text != "" {
			return writer.WriteChunk(ctx, text)
		}
		return nil
	}

	resp, err := h.engine.ExecuteStream(ctx, history.ModelMessages(stored), req.Message, cb)
	if err != nil {
		h.logger.Error("turn failed", "conversation_id", conversation.ID, "error", err)
		if werr := writer.WriteError("generation_failed", "the assistant could not answer, try again"); werr != nil {
			h.logger.Debug("writing error event", "error", werr)
		}
		return
	}

	// Tool results only exist once the turn completes; emit each pair before
	// the done event so the client can render every result against its call.
	for i, tr := range resp.ToolRequests {
		call := sse.ToolCall{Name: tr.Name, Ref: tr.Ref}
		if i < len(resp.ToolResponses) && resp.ToolResponses[i] != nil {
			call.Result = resp.ToolResponses[i].Output
		}
		if err := writer.WriteTool(ctx, call); err != nil {
			h.logger.Debug("writing tool event", "error", err)
		}
	}

	turn := make([]*ai.Message, 0, len(resp.TurnMessages)+1)
	turn = append(turn, ai.NewUserMessage(ai.NewTextPart(req.Message)))
	turn = append(turn, resp.TurnMessages...)
	if len(resp.TurnMessages) == 0 {
		turn = append(turn, ai.NewModelMessage(ai.NewTextPart(resp.FinalText)))
	}
	if err := h.conversations.AppendMessages(ctx, conversation.ID, turn); err != nil {
		// The turn already happened; losing persistence should not kill the
		// stream the user is reading.
		h.logger.Error("persisting turn", "conversation_id", conversation.ID, "error", err)
	}

	if err := writer.WriteDone(ctx, ChatResult{
		ConversationID: conversation.ID.String(),
		Text:           resp.FinalText,
	}); err != nil {
		h.logger.Debug("writing done event", "error", err)
	}
}

// resolveConversation loads the requested conversation, or starts a new one
// when no ID was sent. Conversations of other owners read as not found.
func (h *Chat) resolveConversation(ctx context.Context, owner string, req ChatRequest) (*history.Conversation, error) {
	if req.ConversationID == "" {
		return h.conversations.Create(ctx, owner, truncateTitle(req.Message))
	}

	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return nil, history.ErrConversationNotFound
	}

	conversation, err := h.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conversation.Owner != owner {
		return nil, history.ErrConversationNotFound
	}
	return conversation, nil
}

func truncateTitle(s string) string {
	runes := []rune(s)
	if len(runes) <= titleLimit {
		return s
	}
	return string(runes[:titleLimit])
}
