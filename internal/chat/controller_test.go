package chat

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"hierophant/backend/internal/auth"
	"hierophant/backend/internal/db"
	"hierophant/backend/internal/provider"
	"hierophant/backend/internal/store"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type stubGateway struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  [][]provider.Message
	models []string
}

func (g *stubGateway) Send(_ context.Context, messages []provider.Message, modelID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snapshot := make([]provider.Message, len(messages))
	copy(snapshot, messages)
	g.calls = append(g.calls, snapshot)
	g.models = append(g.models, modelID)
	return g.reply, g.err
}

type blockingGateway struct {
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
}

func (g *blockingGateway) Send(context.Context, []provider.Message, string) (string, error) {
	g.enterOnce.Do(func() { close(g.entered) })
	<-g.release
	return "done", nil
}

type fixedIdentity struct {
	identity auth.Identity
}

func (f *fixedIdentity) Identity() auth.Identity { return f.identity }

type switchableIdentity struct {
	mu       sync.Mutex
	identity auth.Identity
}

func (s *switchableIdentity) Identity() auth.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *switchableIdentity) Set(identity auth.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

func newTestController(t *testing.T, gateway Gateway, identity auth.Identity) (*Controller, store.Store, *sql.DB) {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.NewStore(database)
	if identity.Authenticated {
		if err := st.UpsertProfile(context.Background(), identity); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}

	controller := NewController(st, gateway, &fixedIdentity{identity: identity}, zap.NewNop().Sugar())
	return controller, st, database
}

func authedIdentity() auth.Identity {
	return auth.Identity{
		UserID:        "user-1",
		Email:         "seeker@hierophant.ai",
		Name:          "Seeker",
		Authenticated: true,
	}
}

func TestSendMessageAppendsUserThenAssistant(t *testing.T) {
	gateway := &stubGateway{reply: "The cards suggest patience."}
	controller, _, _ := newTestController(t, gateway, auth.Anonymous())

	turn, err := controller.SendMessage(context.Background(), "What lies ahead?", "gpt-4o")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if turn.Failed {
		t.Fatal("expected successful turn")
	}
	if turn.Assistant.Content != "The cards suggest patience." {
		t.Fatalf("unexpected assistant content: %q", turn.Assistant.Content)
	}
	if turn.Assistant.Model != "gpt-4o" {
		t.Fatalf("expected model recorded on assistant message, got %q", turn.Assistant.Model)
	}

	messages := controller.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 visible messages, got %d", len(messages))
	}
	if messages[0].Role != store.RoleUser || messages[0].Content != "What lies ahead?" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != store.RoleAssistant {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}

	if len(gateway.calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(gateway.calls))
	}
	if len(gateway.calls[0]) != 1 || gateway.calls[0][0].Content != "What lies ahead?" {
		t.Fatalf("unexpected provider payload: %+v", gateway.calls[0])
	}
}

func TestSendMessageSendsFullHistoryUpstream(t *testing.T) {
	gateway := &stubGateway{reply: "reply"}
	controller, _, _ := newTestController(t, gateway, auth.Anonymous())

	if _, err := controller.SendMessage(context.Background(), "first", "gpt-4o"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := controller.SendMessage(context.Background(), "second", "gpt-4o"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	last := gateway.calls[len(gateway.calls)-1]
	if len(last) != 3 {
		t.Fatalf("expected user+assistant+user history, got %d messages", len(last))
	}
	if last[0].Content != "first" || last[1].Content != "reply" || last[2].Content != "second" {
		t.Fatalf("unexpected history order: %+v", last)
	}
}

func TestSendMessageRejectsEmptyInput(t *testing.T) {
	gateway := &stubGateway{}
	controller, _, _ := newTestController(t, gateway, auth.Anonymous())

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := controller.SendMessage(context.Background(), text, "gpt-4o"); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", text, err)
		}
	}
	if len(gateway.calls) != 0 {
		t.Fatalf("expected no provider calls, got %d", len(gateway.calls))
	}
	if len(controller.Messages()) != 0 {
		t.Fatal("expected transcript unchanged")
	}
}

func TestGatewayFailureAppendsApologyAndKeepsUserMessage(t *testing.T) {
	gateway := &stubGateway{err: &provider.UpstreamError{Backend: "openai", Status: 429, Detail: "rate limit exceeded"}}
	controller, _, database := newTestController(t, gateway, authedIdentity())

	turn, err := controller.SendMessage(context.Background(), "Tell me my fortune", "gpt-4o")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if !turn.Failed {
		t.Fatal("expected failed turn")
	}
	if turn.Assistant.Content != ApologyMessage {
		t.Fatalf("unexpected assistant content: %q", turn.Assistant.Content)
	}

	messages := controller.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected user message plus apology, got %d", len(messages))
	}
	if messages[0].Content != "Tell me my fortune" {
		t.Fatalf("user message lost: %+v", messages[0])
	}
	if messages[1].Content != ApologyMessage {
		t.Fatalf("expected apology, got %q", messages[1].Content)
	}

	// The user message is persisted before the provider call; the apology is
	// visible only, never durable.
	var roles []string
	rows, err := database.Query(`SELECT role FROM messages ORDER BY created_at;`)
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			t.Fatalf("scan role: %v", err)
		}
		roles = append(roles, role)
	}
	if len(roles) != 1 || roles[0] != store.RoleUser {
		t.Fatalf("expected only the user message persisted, got %v", roles)
	}
}

func TestSecondTurnWhileInFlightIsRejected(t *testing.T) {
	gateway := &blockingGateway{entered: make(chan struct{}), release: make(chan struct{})}
	controller, _, _ := newTestController(t, gateway, auth.Anonymous())

	done := make(chan error, 1)
	go func() {
		_, err := controller.SendMessage(context.Background(), "slow question", "gpt-4o")
		done <- err
	}()
	<-gateway.entered

	if _, err := controller.SendMessage(context.Background(), "impatient question", "gpt-4o"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(gateway.release)
	if err := <-done; err != nil {
		t.Fatalf("first turn: %v", err)
	}

	// The guard lifts once the turn completes.
	if _, err := controller.SendMessage(context.Background(), "next question", "gpt-4o"); err != nil {
		t.Fatalf("turn after release: %v", err)
	}
}

func TestAnonymousTurnWritesNothingDurable(t *testing.T) {
	gateway := &stubGateway{reply: "answer"}
	controller, _, database := newTestController(t, gateway, auth.Anonymous())

	if _, err := controller.SendMessage(context.Background(), "hello", "gpt-4o"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if !controller.Active().Ephemeral() {
		t.Fatalf("expected ephemeral conversation, got %s", controller.Active())
	}

	for _, table := range []string{"conversations", "messages"} {
		var count int
		if err := database.QueryRow(`SELECT COUNT(*) FROM ` + table + `;`).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected no rows in %s, got %d", table, count)
		}
	}
}

func TestAnonymousTurnAgainstPersistedConversationWritesNothing(t *testing.T) {
	gateway := &stubGateway{reply: "ok"}
	controller, st, database := newTestController(t, gateway, auth.Anonymous())

	owner := authedIdentity()
	if err := st.UpsertProfile(context.Background(), owner); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	id, err := st.EnsureConversation(context.Background(), owner)
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}

	var title, updatedAt string
	if err := database.QueryRow(`SELECT title, updated_at FROM conversations WHERE id = ?;`, id.Value()).Scan(&title, &updatedAt); err != nil {
		t.Fatalf("query conversation: %v", err)
	}

	// An anonymous session that somehow holds another user's persisted id must
	// still leave every durable row alone.
	controller.Activate(id, nil)
	if _, err := controller.SendMessage(context.Background(), "anonymous write attempt", "gpt-4o"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if len(controller.Messages()) != 2 {
		t.Fatalf("expected visible transcript to grow, got %d messages", len(controller.Messages()))
	}

	var titleAfter, updatedAtAfter string
	if err := database.QueryRow(`SELECT title, updated_at FROM conversations WHERE id = ?;`, id.Value()).Scan(&titleAfter, &updatedAtAfter); err != nil {
		t.Fatalf("query conversation again: %v", err)
	}
	if titleAfter != title || updatedAtAfter != updatedAt {
		t.Fatalf("durable row changed by anonymous turn: %q|%q -> %q|%q", updatedAt, title, updatedAtAfter, titleAfter)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM messages;`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no durable messages, got %d", count)
	}
}

func TestTurnCompletesWithIdentityCapturedAtStart(t *testing.T) {
	gateway := &blockingGateway{entered: make(chan struct{}), release: make(chan struct{})}
	identity := authedIdentity()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.NewStore(database)
	if err := st.UpsertProfile(context.Background(), identity); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	source := &switchableIdentity{identity: identity}
	controller := NewController(st, gateway, source, zap.NewNop().Sugar())

	done := make(chan error, 1)
	go func() {
		_, err := controller.SendMessage(context.Background(), "slow question", "gpt-4o")
		done <- err
	}()
	<-gateway.entered

	// Signing out mid-turn must not change the storage behavior of the turn
	// already in flight.
	source.Set(auth.Anonymous())
	close(gateway.release)
	if err := <-done; err != nil {
		t.Fatalf("turn: %v", err)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM messages;`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected user and assistant rows persisted under the captured identity, got %d", count)
	}
}

func TestAuthenticatedTurnPersistsAndDerivesTitle(t *testing.T) {
	gateway := &stubGateway{reply: "a considered answer"}
	controller, _, database := newTestController(t, gateway, authedIdentity())

	if _, err := controller.SendMessage(context.Background(), "What should I focus on this week in my studies?", "claude-3-5-sonnet"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if !controller.Active().Persisted() {
		t.Fatalf("expected persisted conversation, got %s", controller.Active())
	}

	var title string
	if err := database.QueryRow(`SELECT title FROM conversations WHERE id = ?;`, controller.Active().Value()).Scan(&title); err != nil {
		t.Fatalf("query title: %v", err)
	}
	if title != store.DeriveTitle("What should I focus on this week in my studies?") {
		t.Fatalf("unexpected title: %q", title)
	}

	var count int
	if err := database.QueryRow(`SELECT COUNT(*) FROM messages;`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected user and assistant rows, got %d", count)
	}
}

func TestSwitchConversationLoadsPersistedHistory(t *testing.T) {
	gateway := &stubGateway{reply: "noted"}
	identity := authedIdentity()
	controller, st, _ := newTestController(t, gateway, identity)

	other, err := st.EnsureConversation(context.Background(), identity)
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	if err := st.AppendMessage(context.Background(), identity, other, store.Message{Role: store.RoleUser, Content: "earlier thread"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if _, err := controller.SendMessage(context.Background(), "current thread", "gpt-4o"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	if err := controller.SwitchConversation(context.Background(), other); err != nil {
		t.Fatalf("switch conversation: %v", err)
	}
	if controller.Active() != other {
		t.Fatalf("expected active %s, got %s", other, controller.Active())
	}

	messages := controller.Messages()
	if len(messages) != 1 || messages[0].Content != "earlier thread" {
		t.Fatalf("unexpected history after switch: %+v", messages)
	}
}

func TestNewConversationClearsSelectionAndNextTurnMintsFresh(t *testing.T) {
	gateway := &stubGateway{reply: "ok"}
	controller, _, _ := newTestController(t, gateway, auth.Anonymous())

	if _, err := controller.SendMessage(context.Background(), "first thread", "gpt-4o"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	first := controller.Active()

	controller.NewConversation()
	if !controller.Active().IsZero() {
		t.Fatal("expected no active conversation after reset")
	}
	if len(controller.Messages()) != 0 {
		t.Fatal("expected empty transcript after reset")
	}

	if _, err := controller.SendMessage(context.Background(), "second thread", "gpt-4o"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if controller.Active() == first {
		t.Fatal("expected a fresh conversation id")
	}
}
