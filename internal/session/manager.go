// Package session owns the process-wide identity and reacts to the external
// identity provider's change notifications.
package session

import (
	"context"
	"sync"

	"hierophant/backend/internal/auth"
	"hierophant/backend/internal/store"

	"go.uber.org/zap"
)

// IdentitySource is the slice of the identity provider the manager consumes.
// *auth.Provider satisfies it; tests inject fakes.
type IdentitySource interface {
	Current() auth.Identity
	Subscribe(fn func(auth.Identity))
}

// View is where the manager pushes the active conversation on sign-in and
// clears it on sign-out. The chat controller implements it.
type View interface {
	Activate(id store.ConversationID, messages []store.Message)
	Clear()
}

// Manager is the single source of truth for which storage mode new
// conversations use. It subscribes to identity changes exactly once, at
// construction.
type Manager struct {
	store store.Store
	log   *zap.SugaredLogger

	mu            sync.Mutex
	identity      auth.Identity
	conversations []store.Conversation
	view          View
}

func NewManager(source IdentitySource, st store.Store, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		store:    st,
		log:      log,
		identity: source.Current(),
	}
	source.Subscribe(m.handleIdentityChange)
	return m
}

// AttachView wires the view sink after construction; the manager and the
// controller reference each other, so one side has to attach late.
func (m *Manager) AttachView(view View) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = view
}

// Identity returns the current identity. Callers that need a stable identity
// for a whole operation must capture this once and not re-read it.
func (m *Manager) Identity() auth.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Conversations returns the cached conversation list for the signed-in user,
// most recently updated first.
func (m *Manager) Conversations() []store.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out
}

// RefreshConversations re-reads the durable conversation list for the current
// identity, keeping the cached ordering in step after new turns.
func (m *Manager) RefreshConversations(ctx context.Context) ([]store.Conversation, error) {
	identity := m.Identity()

	listed, err := m.store.ListConversations(ctx, identity)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.conversations = listed
	m.mu.Unlock()

	return listed, nil
}

func (m *Manager) handleIdentityChange(next auth.Identity) {
	m.mu.Lock()
	prev := m.identity
	m.identity = next
	view := m.view
	m.mu.Unlock()

	switch {
	case next.Authenticated && !prev.Authenticated:
		m.signIn(next, view)
	case !next.Authenticated && prev.Authenticated:
		m.signOut(view)
	}
}

// signIn loads the user's durable view: the conversation list, and the most
// recently updated conversation's history when there is one. An empty list
// leaves the view in its "no conversation selected" state.
func (m *Manager) signIn(identity auth.Identity, view View) {
	ctx := context.Background()

	if err := m.store.UpsertProfile(ctx, identity); err != nil {
		m.log.Warnw("profile upsert failed", "user_id", identity.UserID, "error", err)
	}

	listed, err := m.store.ListConversations(ctx, identity)
	if err != nil {
		m.log.Errorw("conversation list load failed", "user_id", identity.UserID, "error", err)
		return
	}

	m.mu.Lock()
	m.conversations = listed
	m.mu.Unlock()

	if len(listed) == 0 || view == nil {
		return
	}

	mostRecent := listed[0]
	messages, err := m.store.LoadMessages(ctx, mostRecent.ID)
	if err != nil {
		m.log.Errorw("conversation history load failed", "conversation_id", mostRecent.ID.String(), "error", err)
		return
	}
	view.Activate(mostRecent.ID, messages)
}

// signOut discards local view state only; durable rows are untouched.
func (m *Manager) signOut(view View) {
	m.mu.Lock()
	m.conversations = nil
	m.mu.Unlock()

	if view != nil {
		view.Clear()
	}
}
