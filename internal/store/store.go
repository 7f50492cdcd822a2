// Package store abstracts where a conversation's durable representation
// lives: authenticated identities get rows in the remote relational store,
// anonymous identities get ephemeral identifiers with no backing row at all.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"hierophant/backend/internal/auth"

	"github.com/google/uuid"
)

// DefaultTitle is the title a durable conversation is created with. The real
// title is set exactly once, from the first stored user message.
const DefaultTitle = "New Inquiry"

const titlePrefixRunes = 30

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is immutable once created; the store only ever appends.
type Message struct {
	ID             string
	ConversationID ConversationID
	Role           string
	Content        string
	Model          string
	CreatedAt      time.Time
}

type Conversation struct {
	ID        ConversationID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

// EnsureConversation returns an identifier new messages can be attached to.
// Authenticated identities get a durable row with the default title and empty
// history; anonymous identities get a fresh ephemeral id and no row.
func (s Store) EnsureConversation(ctx context.Context, identity auth.Identity) (ConversationID, error) {
	if !identity.Authenticated {
		return NewEphemeralID(), nil
	}

	id := uuid.NewString()
	now := timestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?);
`, id, identity.UserID, DefaultTitle, now, now)
	if err != nil {
		return ConversationID{}, fmt.Errorf("create conversation: %w", err)
	}

	return PersistedID(id), nil
}

// ListConversations returns the identity's durable conversations ordered by
// most recently updated first. Anonymous identities have none.
func (s Store) ListConversations(ctx context.Context, identity auth.Identity) ([]Conversation, error) {
	if !identity.Authenticated {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, created_at, updated_at
FROM conversations
WHERE user_id = ?
ORDER BY updated_at DESC;
`, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0, 16)
	for rows.Next() {
		var (
			id                   string
			title                string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&id, &title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, Conversation{
			ID:        PersistedID(id),
			Title:     title,
			CreatedAt: parseTimestamp(createdAt),
			UpdatedAt: parseTimestamp(updatedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read conversations: %w", err)
	}

	return conversations, nil
}

// LoadMessages reloads a persisted conversation's history in creation order.
// Ephemeral conversations have no reload path; their only history is the
// in-memory copy held by the chat controller.
func (s Store) LoadMessages(ctx context.Context, id ConversationID) ([]Message, error) {
	if !id.Persisted() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, role, content, COALESCE(model, ''), created_at
FROM messages
WHERE conversation_id = ?
ORDER BY created_at ASC, rowid ASC;
`, id.Value())
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, 32)
	for rows.Next() {
		var (
			messageID, role, content, model string
			createdAt                       string
		)
		if err := rows.Scan(&messageID, &role, &content, &model, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, Message{
			ID:             messageID,
			ConversationID: id,
			Role:           role,
			Content:        content,
			Model:          model,
			CreatedAt:      parseTimestamp(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	return messages, nil
}

// AppendMessage persists a message and advances the conversation's updated_at.
// It is a silent no-op for ephemeral ids and anonymous identities: in-memory
// state is authoritative there and nothing durable exists to write to.
func (s Store) AppendMessage(ctx context.Context, identity auth.Identity, id ConversationID, msg Message) error {
	if !identity.Authenticated || !id.Persisted() {
		return nil
	}

	messageID := msg.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var model any
	if strings.TrimSpace(msg.Model) != "" {
		model = msg.Model
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO messages (id, conversation_id, role, content, model, created_at)
VALUES (?, ?, ?, ?, ?, ?);
`, messageID, id.Value(), msg.Role, msg.Content, model, timestamp(createdAt)); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE conversations SET updated_at = ? WHERE id = ?;
`, timestamp(time.Now()), id.Value()); err != nil {
		return fmt.Errorf("advance conversation: %w", err)
	}

	return nil
}

// TouchConversation advances updated_at and, when titleIfFirst is non-empty,
// sets the title — but only while the conversation still carries the default
// title. A title, once set, is never overwritten. Like AppendMessage it is a
// silent no-op for anonymous identities and ephemeral ids.
func (s Store) TouchConversation(ctx context.Context, identity auth.Identity, id ConversationID, titleIfFirst string) error {
	if !identity.Authenticated || !id.Persisted() {
		return nil
	}

	now := timestamp(time.Now())
	if strings.TrimSpace(titleIfFirst) == "" {
		if _, err := s.db.ExecContext(ctx, `
UPDATE conversations SET updated_at = ? WHERE id = ?;
`, now, id.Value()); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET updated_at = ?,
    title = CASE WHEN title = ? THEN ? ELSE title END
WHERE id = ?;
`, now, DefaultTitle, titleIfFirst, id.Value()); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return nil
}

// UpsertProfile mirrors the identity provider's user record into the durable
// store, once per authenticated session.
func (s Store) UpsertProfile(ctx context.Context, identity auth.Identity) error {
	if !identity.Authenticated {
		return nil
	}

	now := timestamp(time.Now())
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (id, email, full_name, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  email = excluded.email,
  full_name = excluded.full_name,
  updated_at = excluded.updated_at;
`, identity.UserID, strings.ToLower(identity.Email), strings.TrimSpace(identity.Name), now, now); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}

	return nil
}

// DeriveTitle computes a conversation title from its first user message: a
// fixed-length prefix of the content.
func DeriveTitle(content string) string {
	trimmed := strings.TrimSpace(content)
	runes := []rune(trimmed)
	if len(runes) > titlePrefixRunes {
		runes = runes[:titlePrefixRunes]
	}
	return string(runes) + "..."
}

// timestampLayout keeps a fixed-width fraction so the TEXT columns compare
// lexicographically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	// CURRENT_TIMESTAMP default from rows created outside this process.
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
