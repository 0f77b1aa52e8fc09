package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teamtalk/internal/config"
	"github.com/teamtalk/internal/middleware"
	"github.com/teamtalk/internal/repository"
	"github.com/teamtalk/internal/service"
	"github.com/teamtalk/internal/ws"
)

// Membership adapts the conversation repository to the hub's room guard.
type Membership struct {
	Convs *repository.ConversationRepository
}

func (m Membership) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	p, err := m.Convs.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Active(), nil
}

// Deps bundles everything the router mounts.
type Deps struct {
	Conversations *service.Conversations
	Messages      *service.Messages
	Hub           *ws.Hub
	Sessions      *middleware.SessionStore
	Push          *PushHandler
	Cfg           *config.Config
}

// NewRouter builds the api service's full route tree.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(d.Cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	limiter := middleware.NewRateLimiter(300, time.Minute)
	convH := NewConversationHandler(d.Conversations)
	msgH := NewMessageHandler(d.Messages)
	wsH := NewWSHandler(d.Hub, d.Cfg.WSSendBufferSize)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.Sessions))
		r.Use(limiter.Limit)

		r.Route("/api/conversations", func(r chi.Router) {
			convH.Routes(r)
			msgH.ConversationRoutes(r)
		})
		r.Route("/api/messages", msgH.Routes)
		r.Route("/api/push", d.Push.Routes)
		r.Get("/ws", wsH.Serve)
	})

	return r
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
