package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/teamtalk/internal/apperr"
	"github.com/teamtalk/internal/model"
	"github.com/teamtalk/internal/service"
)

type MessageHandler struct {
	svc *service.Messages
}

func NewMessageHandler(svc *service.Messages) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// ConversationRoutes mounts the per-conversation message endpoints.
func (h *MessageHandler) ConversationRoutes(r chi.Router) {
	r.Post("/{conversationID}/messages", h.send)
	r.Get("/{conversationID}/messages", h.list)
}

// Routes mounts the message-id scoped endpoints.
func (h *MessageHandler) Routes(r chi.Router) {
	r.Post("/read", h.markRead)
	r.Get("/unread", h.unread)
	r.Get("/search", h.search)
	r.Route("/{messageID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/forward", h.forward)
		r.Post("/reactions", h.addReaction)
		r.Delete("/reactions/{emoji}", h.removeReaction)
	})
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content     string                    `json:"content"`
		Type        model.MessageType         `json:"type"`
		ReplyToID   *string                   `json:"reply_to_id"`
		Attachments []service.AttachmentInput `json:"attachments"`
		Mentions    []string                  `json:"mentions"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.svc.Send(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID, service.SendInput{
		Content:     req.Content,
		Type:        req.Type,
		ReplyToID:   req.ReplyToID,
		Attachments: req.Attachments,
		Mentions:    req.Mentions,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) list(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.List(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID, service.ListQuery{
		Page:     queryInt(r, "page", 1),
		Limit:    queryInt(r, "limit", 50),
		BeforeID: r.URL.Query().Get("before"),
		AfterID:  r.URL.Query().Get("after"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.Get(r.Context(), chi.URLParam(r, "messageID"), identity(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.svc.Update(r.Context(), chi.URLParam(r, "messageID"), identity(r).UserID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "messageID"), identity(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *MessageHandler) forward(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, err := h.svc.Forward(r.Context(), chi.URLParam(r, "messageID"), identity(r).UserID, req.ConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) addReaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := h.svc.AddReaction(r.Context(), chi.URLParam(r, "messageID"), identity(r).UserID, req.Emoji)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *MessageHandler) removeReaction(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveReaction(r.Context(), chi.URLParam(r, "messageID"), identity(r).UserID, chi.URLParam(r, "emoji"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *MessageHandler) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.MarkRead(r.Context(), identity(r).UserID, req.MessageIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *MessageHandler) unread(w http.ResponseWriter, r *http.Request) {
	total, err := h.svc.Unread(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": total})
}

func (h *MessageHandler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := service.SearchOptions{
		Query:          q.Get("q"),
		ConversationID: q.Get("conversation_id"),
		Type:           model.MessageType(q.Get("type")),
		Limit:          queryInt(r, "limit", 50),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperr.Validation("from must be RFC3339"))
			return
		}
		opts.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperr.Validation("to must be RFC3339"))
			return
		}
		opts.To = &t
	}
	msgs, err := h.svc.Search(r.Context(), identity(r).UserID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
