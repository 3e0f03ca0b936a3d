package history

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idclerk/idclerk/internal/log"
)

// fakeQuerier is an in-memory Querier for unit tests.
type fakeQuerier struct {
	conversations map[uuid.UUID]ConversationRow
	messages      map[uuid.UUID][]MessageRow

	lockCalls  int
	touchCount int32
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		conversations: make(map[uuid.UUID]ConversationRow),
		messages:      make(map[uuid.UUID][]MessageRow),
	}
}

func (f *fakeQuerier) CreateConversation(_ context.Context, owner string, title *string) (ConversationRow, error) {
	row := ConversationRow{
		ID:        uuid.New(),
		Owner:     owner,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.conversations[row.ID] = row
	return row, nil
}

func (f *fakeQuerier) GetConversation(_ context.Context, id uuid.UUID) (ConversationRow, error) {
	row, ok := f.conversations[id]
	if !ok {
		return ConversationRow{}, pgx.ErrNoRows
	}
	return row, nil
}

func (f *fakeQuerier) ListConversations(_ context.Context, owner string, _, _ int32) ([]ConversationRow, error) {
	var out []ConversationRow
	for _, row := range f.conversations {
		if row.Owner == owner {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeQuerier) DeleteConversation(_ context.Context, id uuid.UUID) error {
	delete(f.conversations, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeQuerier) LockConversation(_ context.Context, id uuid.UUID) error {
	f.lockCalls++
	if _, ok := f.conversations[id]; !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (f *fakeQuerier) MaxSequence(_ context.Context, conversationID uuid.UUID) (int32, error) {
	var max int32
	for _, m := range f.messages[conversationID] {
		if m.SequenceNumber > max {
			max = m.SequenceNumber
		}
	}
	return max, nil
}

func (f *fakeQuerier) InsertMessage(_ context.Context, arg InsertMessageParams) error {
	f.messages[arg.ConversationID] = append(f.messages[arg.ConversationID], MessageRow{
		ID:             uuid.New(),
		ConversationID: arg.ConversationID,
		Role:           arg.Role,
		Content:        arg.Content,
		SequenceNumber: arg.SequenceNumber,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (f *fakeQuerier) ListMessages(_ context.Context, conversationID uuid.UUID) ([]MessageRow, error) {
	return f.messages[conversationID], nil
}

func (f *fakeQuerier) TouchConversation(_ context.Context, id uuid.UUID, messageCount int32) error {
	f.touchCount = messageCount
	return nil
}

func newTestStore(t *testing.T, q Querier) *Store {
	t.Helper()
	s, err := NewStore(q, nil, log.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStore(t *testing.T) {
	t.Parallel()

	_, err := NewStore(nil, nil, log.NewNop())
	assert.Error(t, err)

	_, err = NewStore(newFakeQuerier(), nil, nil)
	assert.Error(t, err)
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, newFakeQuerier())
	ctx := context.Background()

	c, err := s.Create(ctx, "identity-1", "Access for Alice")
	require.NoError(t, err)
	assert.Equal(t, "identity-1", c.Owner)
	assert.Equal(t, "Access for Alice", c.Title)

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestStore_GetUnknownConversation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, newFakeQuerier())

	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_AppendMessages(t *testing.T) {
	t.Parallel()

	t.Run("assigns sequential numbers across appends", func(t *testing.T) {
		t.Parallel()
		q := newFakeQuerier()
		s := newTestStore(t, q)
		ctx := context.Background()

		c, err := s.Create(ctx, "identity-1", "")
		require.NoError(t, err)

		turn1 := []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("find alice")),
			ai.NewModelMessage(ai.NewTextPart("I found 2 identities")),
		}
		require.NoError(t, s.AppendMessages(ctx, c.ID, turn1))

		turn2 := []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("the first one")),
			ai.NewModelMessage(ai.NewTextPart("done")),
		}
		require.NoError(t, s.AppendMessages(ctx, c.ID, turn2))

		rows := q.messages[c.ID]
		require.Len(t, rows, 4)
		for i, row := range rows {
			assert.Equal(t, int32(i+1), row.SequenceNumber)
		}
		assert.Equal(t, int32(4), q.touchCount)
		assert.Equal(t, 2, q.lockCalls)
	})

	t.Run("round-trips message content", func(t *testing.T) {
		t.Parallel()
		q := newFakeQuerier()
		s := newTestStore(t, q)
		ctx := context.Background()

		c, err := s.Create(ctx, "identity-1", "")
		require.NoError(t, err)

		require.NoError(t, s.AppendMessages(ctx, c.ID, []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("hello")),
		}))

		msgs, err := s.Messages(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, string(ai.RoleUser), msgs[0].Role)
		require.Len(t, msgs[0].Content, 1)
		assert.Equal(t, "hello", msgs[0].Content[0].Text)
	})

	t.Run("round-trips tool traffic", func(t *testing.T) {
		t.Parallel()
		q := newFakeQuerier()
		s := newTestStore(t, q)
		ctx := context.Background()

		c, err := s.Create(ctx, "identity-1", "")
		require.NoError(t, err)

		turn := []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("find alice")),
			{Role: ai.RoleModel, Content: []*ai.Part{
				ai.NewToolRequestPart(&ai.ToolRequest{
					Name:  "searchIdentitiesOnName",
					Ref:   "c1",
					Input: map[string]any{"keyword": "alice"},
				}),
			}},
			{Role: ai.RoleTool, Content: []*ai.Part{
				ai.NewToolResponsePart(&ai.ToolResponse{
					Name:   "searchIdentitiesOnName",
					Ref:    "c1",
					Output: map[string]any{"status": "success"},
				}),
			}},
			ai.NewModelMessage(ai.NewTextPart("I found alice")),
		}
		require.NoError(t, s.AppendMessages(ctx, c.ID, turn))

		msgs, err := s.Messages(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		assert.Equal(t, string(ai.RoleTool), msgs[2].Role)

		req := msgs[1].Content[0].ToolRequest
		require.NotNil(t, req)
		assert.Equal(t, "searchIdentitiesOnName", req.Name)
		assert.Equal(t, "c1", req.Ref)

		res := msgs[2].Content[0].ToolResponse
		require.NotNil(t, res)
		assert.Equal(t, "c1", res.Ref)
		assert.Equal(t, map[string]any{"status": "success"}, res.Output)

		// Replay keeps the tool role so the engine sees the full exchange.
		replayed := ModelMessages(msgs)
		assert.Equal(t, ai.RoleTool, replayed[2].Role)
	})

	t.Run("empty append is a no-op", func(t *testing.T) {
		t.Parallel()
		q := newFakeQuerier()
		s := newTestStore(t, q)

		require.NoError(t, s.AppendMessages(context.Background(), uuid.New(), nil))
		assert.Zero(t, q.lockCalls)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		t.Parallel()
		s := newTestStore(t, newFakeQuerier())

		err := s.AppendMessages(context.Background(), uuid.New(), []*ai.Message{
			ai.NewUserMessage(ai.NewTextPart("hi")),
		})
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}

func TestStore_MessagesSkipsUndecodableRows(t *testing.T) {
	t.Parallel()
	q := newFakeQuerier()
	s := newTestStore(t, q)
	ctx := context.Background()

	c, err := s.Create(ctx, "identity-1", "")
	require.NoError(t, err)

	good, err := json.Marshal([]*ai.Part{ai.NewTextPart("ok")})
	require.NoError(t, err)
	q.messages[c.ID] = []MessageRow{
		{ID: uuid.New(), ConversationID: c.ID, Role: "user", Content: good, SequenceNumber: 1},
		{ID: uuid.New(), ConversationID: c.ID, Role: "model", Content: []byte("{not json"), SequenceNumber: 2},
	}

	msgs, err := s.Messages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Content[0].Text)
}

func TestModelMessages(t *testing.T) {
	t.Parallel()

	stored := []Message{
		{Role: "user", Content: []*ai.Part{ai.NewTextPart("q")}},
		{Role: "model", Content: []*ai.Part{ai.NewTextPart("a")}},
	}

	msgs := ModelMessages(stored)
	require.Len(t, msgs, 2)
	assert.Equal(t, ai.RoleUser, msgs[0].Role)
	assert.Equal(t, ai.RoleModel, msgs[1].Role)
	assert.Equal(t, "q", msgs[0].Content[0].Text)
}
