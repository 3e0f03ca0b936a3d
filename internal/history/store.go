// Package history persists conversations and their messages in PostgreSQL.
//
// Conversations are owned by an identity; messages carry sequence numbers so
// history replays in order. Appends run in a transaction with a row lock on
// the conversation, so concurrent turns never interleave sequence numbers.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/idclerk/idclerk/internal/log"
)

// ErrConversationNotFound indicates the conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// Querier is the set of database operations the store consumes. *Queries
// implements it; tests substitute a fake.
type Querier interface {
	CreateConversation(ctx context.Context, owner string, title *string) (ConversationRow, error)
	GetConversation(ctx context.Context, id uuid.UUID) (ConversationRow, error)
	ListConversations(ctx context.Context, owner string, limit, offset int32) ([]ConversationRow, error)
	DeleteConversation(ctx context.Context, id uuid.UUID) error
	LockConversation(ctx context.Context, id uuid.UUID) error
	MaxSequence(ctx context.Context, conversationID uuid.UUID) (int32, error)
	InsertMessage(ctx context.Context, arg InsertMessageParams) error
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]MessageRow, error)
	TouchConversation(ctx context.Context, id uuid.UUID, messageCount int32) error
}

// Conversation is one conversation with its metadata.
type Conversation struct {
	ID           uuid.UUID `json:"id"`
	Owner        string    `json:"-"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Message is one conversation message with decoded content parts.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	Role           string     `json:"role"`
	Content        []*ai.Part `json:"content"`
	SequenceNumber int        `json:"sequenceNumber"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Store manages conversation persistence. Safe for concurrent use.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // nil in unit tests; appends then skip the transaction
	logger  log.Logger
}

// NewStore creates a Store.
func NewStore(querier Querier, pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if querier == nil {
		return nil, errors.New("querier is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Store{querier: querier, pool: pool, logger: logger}, nil
}

// Create starts a new conversation owned by the given identity.
func (s *Store) Create(ctx context.Context, owner, title string) (*Conversation, error) {
	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}

	row, err := s.querier.CreateConversation(ctx, owner, titlePtr)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	c := rowToConversation(row)
	s.logger.Debug("created conversation", "conversation_id", c.ID, "owner", owner)
	return c, nil
}

// Get returns one conversation by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row, err := s.querier.GetConversation(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return rowToConversation(row), nil
}

// List returns the owner's conversations, most recently updated first.
func (s *Store) List(ctx context.Context, owner string, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.querier.ListConversations(ctx, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	out := make([]*Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToConversation(row))
	}
	return out, nil
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.querier.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// AppendMessages appends messages to a conversation, assigning sequential
// sequence numbers. With a pool the whole append runs in one transaction
// under a conversation row lock; without one (unit tests) the operations run
// directly against the querier.
func (s *Store) AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if s.pool == nil {
		return s.appendMessages(ctx, s.querier, conversationID, messages)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	if err := s.appendMessages(ctx, NewQueries(tx), conversationID, messages); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) appendMessages(ctx context.Context, q Querier, conversationID uuid.UUID, messages []*ai.Message) error {
	if err := q.LockConversation(ctx, conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		return fmt.Errorf("locking conversation: %w", err)
	}

	maxSeq, err := q.MaxSequence(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reading max sequence: %w", err)
	}

	for i, msg := range messages {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("encoding message %d content: %w", i, err)
		}

		if err := q.InsertMessage(ctx, InsertMessageParams{
			ConversationID: conversationID,
			Role:           string(msg.Role),
			Content:        content,
			SequenceNumber: maxSeq + int32(i) + 1,
		}); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	newCount := maxSeq + int32(len(messages))
	if err := q.TouchConversation(ctx, conversationID, newCount); err != nil {
		return fmt.Errorf("updating conversation metadata: %w", err)
	}

	s.logger.Debug("appended messages",
		"conversation_id", conversationID, "count", len(messages))
	return nil
}

// Messages returns a conversation's messages in sequence order. Rows whose
// content no longer decodes are skipped with a warning instead of failing
// the whole read.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.querier.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", conversationID, err)
	}

	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		var content []*ai.Part
		if err := json.Unmarshal(row.Content, &content); err != nil {
			s.logger.Warn("skipping undecodable message",
				"message_id", row.ID, "error", err)
			continue
		}
		out = append(out, Message{
			ID:             row.ID,
			Role:           row.Role,
			Content:        content,
			SequenceNumber: int(row.SequenceNumber),
			CreatedAt:      row.CreatedAt,
		})
	}
	return out, nil
}

// ModelMessages converts stored messages into the message form the
// conversational engine consumes.
func ModelMessages(messages []Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, &ai.Message{
			Role:    ai.Role(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func rowToConversation(row ConversationRow) *Conversation {
	c := &Conversation{
		ID:           row.ID,
		Owner:        row.Owner,
		MessageCount: int(row.MessageCount),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.Title != nil {
		c.Title = *row.Title
	}
	return c
}
