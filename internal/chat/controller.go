// Package chat orchestrates one user turn: optimistic append, provider call,
// best-effort durable append.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"hierophant/backend/internal/auth"
	"hierophant/backend/internal/provider"
	"hierophant/backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApologyMessage is the only failure text ever shown in the transcript; raw
// upstream errors stay in the logs.
const ApologyMessage = "I apologize, but I encountered an error processing your inquiry. Please try again."

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

// Gateway is the normalized provider contract the controller sends turns
// through.
type Gateway interface {
	Send(ctx context.Context, messages []provider.Message, modelID string) (string, error)
}

// Identities yields the current identity. *session.Manager satisfies it.
type Identities interface {
	Identity() auth.Identity
}

// Turn is the outcome of one user-submit-to-assistant-reply cycle.
type Turn struct {
	ConversationID store.ConversationID
	User           store.Message
	Assistant      store.Message
	Failed         bool
}

// Controller owns the transient, user-visible copy of the active
// conversation's message list. At most one turn is in flight at a time; the
// sending flag is the sole concurrency control.
type Controller struct {
	store    store.Store
	gateway  Gateway
	sessions Identities
	log      *zap.SugaredLogger

	mu       sync.Mutex
	active   store.ConversationID
	messages []store.Message
	sending  bool
}

func NewController(st store.Store, gateway Gateway, sessions Identities, log *zap.SugaredLogger) *Controller {
	return &Controller{
		store:    st,
		gateway:  gateway,
		sessions: sessions,
		log:      log,
	}
}

// SendMessage runs one full turn. The user message is visible immediately;
// durable writes are best-effort and never block or roll back what the user
// already sees. A gateway failure appends the apology message instead of a
// reply and is not reported as an error.
func (c *Controller) SendMessage(ctx context.Context, text, modelID string) (Turn, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return Turn{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return Turn{}, ErrTurnInFlight
	}
	c.sending = true
	conversationID := c.active
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	// Identity is frozen here for the whole turn; a concurrent sign-in or
	// sign-out affects only subsequent turns.
	identity := c.sessions.Identity()

	if conversationID.IsZero() {
		created, err := c.store.EnsureConversation(ctx, identity)
		if err != nil {
			return Turn{}, fmt.Errorf("ensure conversation: %w", err)
		}
		conversationID = created

		c.mu.Lock()
		if c.active.IsZero() {
			c.active = created
		}
		c.mu.Unlock()
	}

	userMsg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	c.mu.Lock()
	var history []store.Message
	if c.active == conversationID {
		c.messages = append(c.messages, userMsg)
		history = make([]store.Message, len(c.messages))
		copy(history, c.messages)
	} else {
		// The user switched away before the turn got going; the turn still
		// completes against the conversation it captured.
		history = []store.Message{userMsg}
	}
	c.mu.Unlock()

	titleIfFirst := ""
	if len(history) == 1 {
		titleIfFirst = store.DeriveTitle(content)
	}
	c.persist(ctx, identity, conversationID, userMsg, titleIfFirst)

	reply, err := c.gateway.Send(ctx, stripForUpstream(history), modelID)
	if err != nil {
		c.log.Warnw("provider call failed",
			"conversation_id", conversationID.String(),
			"model", modelID,
			"error", err,
		)
		apology := store.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Role:           store.RoleAssistant,
			Content:        ApologyMessage,
			CreatedAt:      time.Now().UTC(),
		}
		c.appendVisible(conversationID, apology)
		return Turn{ConversationID: conversationID, User: userMsg, Assistant: apology, Failed: true}, nil
	}

	assistant := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        reply,
		Model:          modelID,
		CreatedAt:      time.Now().UTC(),
	}
	c.appendVisible(conversationID, assistant)
	c.persist(ctx, identity, conversationID, assistant, "")

	return Turn{ConversationID: conversationID, User: userMsg, Assistant: assistant}, nil
}

// SwitchConversation makes id the active conversation, reloading durable
// history for persisted ids. An in-flight turn is never cancelled; it
// completes against the conversation id it captured.
func (c *Controller) SwitchConversation(ctx context.Context, id store.ConversationID) error {
	c.mu.Lock()
	if c.active == id {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	messages, err := c.store.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	c.Activate(id, messages)
	return nil
}

// NewConversation clears the active selection; the next turn mints or creates
// a fresh conversation for whatever identity it captures.
func (c *Controller) NewConversation() {
	c.Clear()
}

// Activate installs a conversation and its history as the visible state.
func (c *Controller) Activate(id store.ConversationID, messages []store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = id
	c.messages = messages
}

// Clear returns the view to the empty, nothing-selected baseline.
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = store.ConversationID{}
	c.messages = nil
}

func (c *Controller) Active() store.ConversationID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Messages returns a copy of the visible transcript.
func (c *Controller) Messages() []store.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// appendVisible adds a message to the transcript unless the user has switched
// to a different conversation since the turn started.
func (c *Controller) appendVisible(id store.ConversationID, msg store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == id {
		c.messages = append(c.messages, msg)
	}
}

// persist is phase two of the turn: fire-and-forget durable writes. Failures
// are logged and swallowed; the in-memory transcript stays authoritative.
func (c *Controller) persist(ctx context.Context, identity auth.Identity, id store.ConversationID, msg store.Message, titleIfFirst string) {
	if err := c.store.AppendMessage(ctx, identity, id, msg); err != nil {
		c.log.Errorw("message persist failed",
			"conversation_id", id.String(),
			"role", msg.Role,
			"error", err,
		)
	}
	if err := c.store.TouchConversation(ctx, identity, id, titleIfFirst); err != nil {
		c.log.Errorw("conversation touch failed",
			"conversation_id", id.String(),
			"error", err,
		)
	}
}

// stripForUpstream drops everything the backends have no use for: ids,
// timestamps, conversation references.
func stripForUpstream(messages []store.Message) []provider.Message {
	out := make([]provider.Message, 0, len(messages))
	for _, msg := range messages {
		out = append(out, provider.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}
