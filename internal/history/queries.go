package history

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx operations the queries run on. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConversationRow is one conversations table row.
type ConversationRow struct {
	ID           uuid.UUID
	Owner        string
	Title        *string
	MessageCount int32
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageRow is one conversation_messages table row. Content is the raw
// JSONB payload.
type MessageRow struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        []byte
	SequenceNumber int32
	CreatedAt      time.Time
}

// InsertMessageParams are the arguments of InsertMessage.
type InsertMessageParams struct {
	ConversationID uuid.UUID
	Role           string
	Content        []byte
	SequenceNumber int32
}

// Queries runs the conversation SQL against a DBTX.
type Queries struct {
	db DBTX
}

// NewQueries creates a Queries bound to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const createConversationSQL = `
INSERT INTO conversations (owner, title)
VALUES ($1, $2)
RETURNING id, owner, title, message_count, created_at, updated_at`

func (q *Queries) CreateConversation(ctx context.Context, owner string, title *string) (ConversationRow, error) {
	var c ConversationRow
	err := q.db.QueryRow(ctx, createConversationSQL, owner, title).
		Scan(&c.ID, &c.Owner, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const getConversationSQL = `
SELECT id, owner, title, message_count, created_at, updated_at
FROM conversations
WHERE id = $1`

func (q *Queries) GetConversation(ctx context.Context, id uuid.UUID) (ConversationRow, error) {
	var c ConversationRow
	err := q.db.QueryRow(ctx, getConversationSQL, id).
		Scan(&c.ID, &c.Owner, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const listConversationsSQL = `
SELECT id, owner, title, message_count, created_at, updated_at
FROM conversations
WHERE owner = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`

func (q *Queries) ListConversations(ctx context.Context, owner string, limit, offset int32) ([]ConversationRow, error) {
	rows, err := q.db.Query(ctx, listConversationsSQL, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationRow
	for rows.Next() {
		var c ConversationRow
		if err := rows.Scan(&c.ID, &c.Owner, &c.Title, &c.MessageCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const deleteConversationSQL = `DELETE FROM conversations WHERE id = $1`

func (q *Queries) DeleteConversation(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteConversationSQL, id)
	return err
}

const lockConversationSQL = `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`

// LockConversation takes a row lock so concurrent appends serialize on the
// conversation and sequence numbers stay gapless.
func (q *Queries) LockConversation(ctx context.Context, id uuid.UUID) error {
	var got uuid.UUID
	return q.db.QueryRow(ctx, lockConversationSQL, id).Scan(&got)
}

const maxSequenceSQL = `
SELECT COALESCE(MAX(sequence_number), 0)
FROM conversation_messages
WHERE conversation_id = $1`

func (q *Queries) MaxSequence(ctx context.Context, conversationID uuid.UUID) (int32, error) {
	var seq int32
	err := q.db.QueryRow(ctx, maxSequenceSQL, conversationID).Scan(&seq)
	return seq, err
}

const insertMessageSQL = `
INSERT INTO conversation_messages (conversation_id, role, content, sequence_number)
VALUES ($1, $2, $3, $4)`

func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) error {
	_, err := q.db.Exec(ctx, insertMessageSQL,
		arg.ConversationID, arg.Role, arg.Content, arg.SequenceNumber)
	return err
}

const listMessagesSQL = `
SELECT id, conversation_id, role, content, sequence_number, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY sequence_number ASC`

func (q *Queries) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]MessageRow, error) {
	rows, err := q.db.Query(ctx, listMessagesSQL, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const touchConversationSQL = `
UPDATE conversations
SET updated_at = now(), message_count = $2
WHERE id = $1`

func (q *Queries) TouchConversation(ctx context.Context, id uuid.UUID, messageCount int32) error {
	_, err := q.db.Exec(ctx, touchConversationSQL, id, messageCount)
	return err
}
