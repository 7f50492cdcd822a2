package httpapi

import (
	"database/sql"
	"net/http"

	"hierophant/backend/internal/auth"
	"hierophant/backend/internal/chat"
	"hierophant/backend/internal/config"
	"hierophant/backend/internal/provider"
	"hierophant/backend/internal/session"
	"hierophant/backend/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func NewRouter(cfg config.Config, database *sql.DB, log *zap.SugaredLogger) http.Handler {
	st := store.NewStore(database)
	verifier := auth.NewVerifier(cfg)
	identities := auth.NewProvider()
	gateway := provider.NewGateway(cfg, nil)

	manager := session.NewManager(identities, st, log)
	controller := chat.NewController(st, gateway, manager, log)
	manager.AttachView(controller)

	h := NewHandler(cfg, st, gateway, verifier, identities, manager, controller)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Test-Email", "X-Test-Google-Sub", "X-Test-Name"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Post("/api/chat", h.ChatCompletion)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/auth", func(authR chi.Router) {
			authR.Post("/login", h.AuthLogin)
			authR.Get("/me", h.AuthMe)
			authR.Post("/logout", h.AuthLogout)
		})

		v1.Get("/conversations", h.ListConversations)
		v1.Post("/conversations", h.NewConversation)
		v1.Get("/conversations/{id}/messages", h.ConversationMessages)
		v1.Post("/chat/messages", h.ChatMessages)
	})

	return r
}
