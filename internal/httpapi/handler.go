package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"hierophant/backend/internal/auth"
	"hierophant/backend/internal/chat"
	"hierophant/backend/internal/config"
	"hierophant/backend/internal/provider"
	"hierophant/backend/internal/session"
	"hierophant/backend/internal/store"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	cfg        config.Config
	store      store.Store
	gateway    provider.Gateway
	verifier   auth.Verifier
	identities *auth.Provider
	manager    *session.Manager
	controller *chat.Controller
}

func NewHandler(
	cfg config.Config,
	st store.Store,
	gateway provider.Gateway,
	verifier auth.Verifier,
	identities *auth.Provider,
	manager *session.Manager,
	controller *chat.Controller,
) Handler {
	return Handler{
		cfg:        cfg,
		store:      st,
		gateway:    gateway,
		verifier:   verifier,
		identities: identities,
		manager:    manager,
		controller: controller,
	}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Messages []chatCompletionMessage `json:"messages"`
	Model    string                  `json:"model"`
}

// ChatCompletion is the stateless completion surface: a raw message list in,
// normalized text out. Extra fields in message objects are ignored, so UI
// transcripts with ids and timestamps pass through unchanged. It touches no
// conversation state.
func (h Handler) ChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Error processing your request",
			"error":   err.Error(),
		})
		return
	}

	messages := make([]provider.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	content, err := h.gateway.Send(r.Context(), messages, req.Model)
	switch {
	case errors.Is(err, provider.ErrUnsupportedModel):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Unsupported model"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"message": "Error processing your request",
			"error":   err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"content": content})
	}
}

type loginRequest struct {
	IDToken string `json:"idToken"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (h Handler) AuthLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	identity, err := h.identityFromRequest(r.Context(), r, req.IDToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}

	h.identities.SignIn(identity)
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload{
		ID:    identity.UserID,
		Email: identity.Email,
		Name:  identity.Name,
	}})
}

func (h Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	identity := h.manager.Identity()
	if !identity.Authenticated {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload{
		ID:    identity.UserID,
		Email: identity.Email,
		Name:  identity.Name,
	}})
}

func (h Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.identities.SignOut(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "signout_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type conversationPayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	listed, err := h.manager.RefreshConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list conversations")
		return
	}

	conversations := make([]conversationPayload, 0, len(listed))
	for _, c := range listed {
		conversations = append(conversations, conversationPayload{
			ID:        c.ID.String(),
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (h Handler) ConversationMessages(w http.ResponseWriter, r *http.Request) {
	id, err := store.ParseConversationID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", err.Error())
		return
	}

	loaded, err := h.store.LoadMessages(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load messages")
		return
	}

	messages := make([]messagePayload, 0, len(loaded))
	for _, m := range loaded {
		messages = append(messages, toMessagePayload(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h Handler) NewConversation(w http.ResponseWriter, _ *http.Request) {
	h.controller.NewConversation()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type messagePayload struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessagePayload(m store.Message) messagePayload {
	return messagePayload{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Model:     m.Model,
		CreatedAt: m.CreatedAt,
	}
}

type chatMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	ModelID        string `json:"modelId"`
}

// ChatMessages drives one full turn: optional conversation switch, user
// append, provider call, assistant (or apology) append.
func (h Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if raw := strings.TrimSpace(req.ConversationID); raw != "" {
		id, err := store.ParseConversationID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_conversation_id", err.Error())
			return
		}
		if err := h.controller.SwitchConversation(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to load conversation")
			return
		}
	}

	modelID := req.ModelID
	if strings.TrimSpace(modelID) == "" {
		modelID = h.cfg.DefaultModel
	}

	turn, err := h.controller.SendMessage(r.Context(), req.Message, modelID)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	case errors.Is(err, chat.ErrTurnInFlight):
		writeError(w, http.StatusConflict, "turn_in_flight", "a turn is already in progress")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "turn_failed", "failed to start turn")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": turn.ConversationID.String(),
		"messages":       []messagePayload{toMessagePayload(turn.User), toMessagePayload(turn.Assistant)},
		"failed":         turn.Failed,
	})
}

func (h Handler) identityFromRequest(ctx context.Context, r *http.Request, idToken string) (auth.Identity, error) {
	if !h.cfg.InsecureSkipTokenVerify {
		return h.verifier.Verify(ctx, idToken)
	}

	email := strings.TrimSpace(r.Header.Get("X-Test-Email"))
	sub := strings.TrimSpace(r.Header.Get("X-Test-Google-Sub"))
	if email == "" || sub == "" {
		return auth.Identity{}, errors.New("insecure auth mode requires X-Test-Email and X-Test-Google-Sub headers")
	}
	return auth.Identity{
		UserID:        sub,
		Email:         strings.ToLower(email),
		Name:          strings.TrimSpace(r.Header.Get("X-Test-Name")),
		Authenticated: true,
	}, nil
}
