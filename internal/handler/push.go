package handler

import (
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/teamtalk/internal/apperr"
	"github.com/teamtalk/internal/notify"
)

// PushHandler manages push subscriptions and the notification email address,
// the worker's routing data.
type PushHandler struct {
	rdb *redis.Client
}

func NewPushHandler(rdb *redis.Client) *PushHandler {
	return &PushHandler{rdb: rdb}
}

func (h *PushHandler) Routes(r chi.Router) {
	r.Post("/subscriptions", h.subscribe)
	r.Delete("/subscriptions", h.unsubscribe)
	r.Put("/email", h.setEmail)
}

func (h *PushHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	var sub webpush.Subscription
	if err := decodeJSON(r, &sub); err != nil {
		writeError(w, err)
		return
	}
	if sub.Endpoint == "" {
		writeError(w, apperr.Validation("endpoint required"))
		return
	}
	if err := notify.SaveSubscription(r.Context(), h.rdb, identity(r).UserID, sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *PushHandler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Endpoint == "" {
		writeError(w, apperr.Validation("endpoint required"))
		return
	}
	if err := notify.RemoveSubscription(r.Context(), h.rdb, identity(r).UserID, req.Endpoint); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *PushHandler) setEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr := strings.TrimSpace(req.Email)
	if addr == "" || !strings.Contains(addr, "@") {
		writeError(w, apperr.Validation("a valid email address is required"))
		return
	}
	if err := notify.SaveEmail(r.Context(), h.rdb, identity(r).UserID, addr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
