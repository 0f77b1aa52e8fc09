package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/teamtalk/internal/model"
	"github.com/teamtalk/internal/service"
)

type ConversationHandler struct {
	svc *service.Conversations
}

func NewConversationHandler(svc *service.Conversations) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

func (h *ConversationHandler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Route("/{conversationID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Patch("/", h.update)
		r.Delete("/", h.delete)
		r.Post("/participants", h.addParticipants)
		r.Delete("/participants/{userID}", h.removeParticipant)
		r.Post("/archive", h.setArchived(true))
		r.Post("/unarchive", h.setArchived(false))
		r.Post("/mute", h.setMuted(true))
		r.Post("/unmute", h.setMuted(false))
	})
}

func (h *ConversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type           model.ConversationType `json:"type"`
		ParticipantIDs []string               `json:"participant_ids"`
		Name           string                 `json:"name"`
		Description    string                 `json:"description"`
		Metadata       map[string]any         `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := identity(r)
	view, err := h.svc.Create(r.Context(), id.OrgID, id.UserID, service.CreateInput{
		Type:           req.Type,
		ParticipantIDs: req.ParticipantIDs,
		Name:           req.Name,
		Description:    req.Description,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	convs, err := h.svc.List(r.Context(), id.UserID, service.ListOptions{
		Type:            model.ConversationType(r.URL.Query().Get("type")),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
		Page:            queryInt(r, "page", 1),
		Limit:           queryInt(r, "limit", 20),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *ConversationHandler) get(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ConversationHandler) update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	conv, err := h.svc.Update(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID,
		service.UpdatePatch{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *ConversationHandler) addParticipants(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := h.svc.AddParticipants(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID, req.UserIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *ConversationHandler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	err := h.svc.RemoveParticipant(r.Context(),
		chi.URLParam(r, "conversationID"), identity(r).UserID, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *ConversationHandler) setArchived(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.svc.SetArchived(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID, archived)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	}
}

func (h *ConversationHandler) setMuted(muted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.svc.SetMuted(r.Context(), chi.URLParam(r, "conversationID"), identity(r).UserID, muted)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusNoContent, nil)
	}
}
