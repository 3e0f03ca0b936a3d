package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/idclerk/idclerk/internal/authn"
	"github.com/idclerk/idclerk/internal/history"
	"github.com/idclerk/idclerk/internal/log"
)

// memQuerier is an in-memory history.Querier for handler tests.
type memQuerier struct {
	conversations map[uuid.UUID]history.ConversationRow
	messages      map[uuid.UUID][]history.MessageRow
}

func newMemQuerier() *memQuerier {
	return &memQuerier{
		conversations: make(map[uuid.UUID]history.ConversationRow),
		messages:      make(map[uuid.UUID][]history.MessageRow),
	}
}

func (m *memQuerier) CreateConversation(_ context.Context, owner string, title *string) (history.ConversationRow, error) {
	row := history.ConversationRow{
		ID:        uuid.New(),
		Owner:     owner,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.conversations[row.ID] = row
	return row, nil
}

func (m *memQuerier) GetConversation(_ context.Context, id uuid.UUID) (history.ConversationRow, error) {
	row, ok := m.conversations[id]
	if !ok {
		return history.ConversationRow{}, pgx.ErrNoRows
	}
	return row, nil
}

func (m *memQuerier) ListConversations(_ context.Context, owner string, _, _ int32) ([]history.ConversationRow, error) {
	var out []history.ConversationRow
	for _, row := range m.conversations {
		if row.Owner == owner {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memQuerier) DeleteConversation(_ context.Context, id uuid.UUID) error {
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *memQuerier) LockConversation(_ context.Context, id uuid.UUID) error {
	if _, ok := m.conversations[id]; !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (m *memQuerier) MaxSequence(_ context.Context, conversationID uuid.UUID) (int32, error) {
	var max int32
	for _, msg := range m.messages[conversationID] {
		if msg.SequenceNumber > max {
			max = msg.SequenceNumber
		}
	}
	return max, nil
}

func (m *memQuerier) InsertMessage(_ context.Context, arg history.InsertMessageParams) error {
	m.messages[arg.ConversationID] = append(m.messages[arg.ConversationID], history.MessageRow{
		ID:             uuid.New(),
		ConversationID: arg.ConversationID,
		Role:           arg.Role,
		Content:        arg.Content,
		SequenceNumber: arg.SequenceNumber,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (m *memQuerier) ListMessages(_ context.Context, conversationID uuid.UUID) ([]history.MessageRow, error) {
	return m.messages[conversationID], nil
}

func (m *memQuerier) TouchConversation(_ context.Context, id uuid.UUID, messageCount int32) error {
	row, ok := m.conversations[id]
	if ok {
		row.MessageCount = messageCount
		row.UpdatedAt = time.Now()
		m.conversations[id] = row
	}
	return nil
}

func newMemStore(t *testing.T) (*history.Store, *memQuerier) {
	t.Helper()
	q := newMemQuerier()
	s, err := history.NewStore(q, nil, log.NewNop())
	require.NoError(t, err)
	return s, q
}

// authedContext mimics what RequireSession installs for handler requests.
func authedContext(identityID string) context.Context {
	ctx := authn.WithAccessToken(context.Background(), "tok")
	return authn.WithClaims(ctx, authn.Claims{ID: identityID, Tenant: "acme"})
}
