package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teamtalk/internal/apperr"
	"github.com/teamtalk/internal/cache"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/model"
	"github.com/teamtalk/internal/notify"
	"github.com/teamtalk/internal/repository"
	"github.com/teamtalk/internal/ws"
)

// Conversations is the Conversation Lifecycle Manager.
type Conversations struct {
	convs   ConversationStore
	msgs    MessageStore
	cache   *cache.Client
	bc      Broadcaster
	intents IntentPublisher
	now     func() time.Time
}

func NewConversations(convs ConversationStore, msgs MessageStore, c *cache.Client, bc Broadcaster, intents IntentPublisher) *Conversations {
	return &Conversations{convs: convs, msgs: msgs, cache: c, bc: bc, intents: intents, now: time.Now}
}

// CreateInput carries conversation creation parameters. ParticipantIDs need
// not include the creator.
type CreateInput struct {
	Type           model.ConversationType
	ParticipantIDs []string
	Name           string
	Description    string
	Metadata       map[string]any
}

// Create makes a conversation with the creator as admin. Creating a direct
// conversation for a pair that already has one returns the existing
// conversation instead of a duplicate.
func (s *Conversations) Create(ctx context.Context, orgID, creatorID string, in CreateInput) (*model.ConversationView, error) {
	defer logger.DeferLogDuration("Conversations.Create", time.Now())()

	members := dedupe(append([]string{creatorID}, in.ParticipantIDs...))

	switch in.Type {
	case model.ConversationDirect:
		if in.Name != "" {
			return nil, apperr.Validation("direct conversations cannot be named")
		}
		if len(members) > 2 {
			return nil, apperr.Conflict("direct conversations are limited to two participants")
		}
		if len(members) < 2 {
			return nil, apperr.Validation("a direct conversation needs exactly two participants")
		}
		existing, err := s.convs.FindDirect(ctx, orgID, members[0], members[1])
		if err == nil {
			return s.view(ctx, existing, creatorID)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	case model.ConversationGroup, model.ConversationChannel:
		if len(members) < 2 {
			return nil, apperr.Validation("at least two participants are required")
		}
		if in.Name == "" {
			return nil, apperr.Validation("name is required")
		}
	default:
		return nil, apperr.Validation("unknown conversation type")
	}

	now := s.now()
	md := in.Metadata
	if md == nil {
		md = map[string]any{}
	}
	conv := &model.Conversation{
		ID:             uuid.NewString(),
		OrgID:          orgID,
		Type:           in.Type,
		Name:           in.Name,
		Description:    in.Description,
		CreatedBy:      creatorID,
		Metadata:       md,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	parts := make([]model.Participant, 0, len(members))
	for _, uid := range members {
		role := model.RoleMember
		if uid == creatorID {
			role = model.RoleAdmin
		}
		parts = append(parts, model.Participant{
			ConversationID: conv.ID, UserID: uid, Role: role, JoinedAt: now,
		})
	}
	if err := s.convs.CreateWithParticipants(ctx, conv, parts); err != nil {
		return nil, err
	}

	if conv.Type == model.ConversationChannel {
		s.systemMessage(ctx, conv, model.SystemConversationCreated, creatorID, "",
			fmt.Sprintf("channel %q created", conv.Name))
	}
	for _, uid := range members {
		if uid == creatorID {
			continue
		}
		s.toUser(uid, ws.ConversationUpdatedEvent(conv))
		if s.bc == nil || !s.bc.Online(uid) {
			publishIntent(ctx, s.intents, notify.Intent{
				ID:        uuid.NewString(),
				Recipient: uid,
				Priority:  notify.PriorityNormal,
				Template:  notify.TemplateConversationEvent,
				Data: map[string]string{
					"conversation_id": conv.ID,
					"event":           string(model.SystemConversationCreated),
					"actor_id":        creatorID,
				},
				CreatedAt: now,
			})
		}
	}
	return &model.ConversationView{Conversation: *conv, Participants: parts}, nil
}

// ListOptions narrows List.
type ListOptions struct {
	Type            model.ConversationType
	IncludeArchived bool
	Page            int
	Limit           int
}

// List returns the caller's conversations, most recent activity first.
func (s *Conversations) List(ctx context.Context, userID string, opts ListOptions) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("Conversations.List", time.Now())()
	page, limit := normalizePage(opts.Page, opts.Limit)
	return s.convs.ListForUser(ctx, userID, repository.ListFilter{
		Type:            opts.Type,
		IncludeArchived: opts.IncludeArchived,
		Limit:           limit,
		Offset:          (page - 1) * limit,
	})
}

// Get returns the conversation with its active participants and the caller's
// unread count.
func (s *Conversations) Get(ctx context.Context, id, userID string) (*model.ConversationView, error) {
	defer logger.DeferLogDuration("Conversations.Get", time.Now())()
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, conv, userID)
}

func (s *Conversations) view(ctx context.Context, conv *model.Conversation, userID string) (*model.ConversationView, error) {
	p, err := s.activeParticipant(ctx, conv.ID, userID)
	if err != nil {
		return nil, err
	}
	parts, err := s.convs.ActiveParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &model.ConversationView{
		Conversation: *conv,
		Participants: parts,
		UnreadCount:  p.UnreadCount,
	}, nil
}

// UpdatePatch applies partial updates; nil fields keep the current value.
type UpdatePatch struct {
	Name        *string
	Description *string
}

// Update renames or re-describes a group/channel. Admin only.
func (s *Conversations) Update(ctx context.Context, id, userID string, patch UpdatePatch) (*model.Conversation, error) {
	defer logger.DeferLogDuration("Conversations.Update", time.Now())()
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.Type == model.ConversationDirect {
		return nil, apperr.InvalidOperation("cannot update direct conversations")
	}
	if err := s.requireAdmin(ctx, conv.ID, userID); err != nil {
		return nil, err
	}
	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, apperr.Validation("name is required")
		}
		conv.Name = *patch.Name
	}
	if patch.Description != nil {
		conv.Description = *patch.Description
	}
	if err := s.convs.Update(ctx, conv.ID, conv.Name, conv.Description); err != nil {
		return nil, err
	}
	s.toConversation(conv.ID, ws.ConversationUpdatedEvent(conv))
	return conv, nil
}

// AddParticipants adds members to a group/channel. Admin only; an already
// active participant in the batch rejects the whole call.
func (s *Conversations) AddParticipants(ctx context.Context, id, actorID string, newIDs []string) error {
	defer logger.DeferLogDuration("Conversations.AddParticipants", time.Now())()
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.Type == model.ConversationDirect {
		return apperr.Conflict("cannot add participants to a direct conversation")
	}
	if err := s.requireAdmin(ctx, conv.ID, actorID); err != nil {
		return err
	}
	newIDs = dedupe(newIDs)
	if len(newIDs) == 0 {
		return apperr.Validation("no participants given")
	}
	now := s.now()
	parts := make([]model.Participant, 0, len(newIDs))
	for _, uid := range newIDs {
		existing, err := s.convs.GetParticipant(ctx, conv.ID, uid)
		if err == nil && existing.Active() {
			return apperr.Conflict("already in the conversation")
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		parts = append(parts, model.Participant{
			ConversationID: conv.ID, UserID: uid, Role: model.RoleMember, JoinedAt: now,
		})
	}
	if err := s.convs.AddParticipants(ctx, parts); err != nil {
		return err
	}
	for _, uid := range newIDs {
		s.systemMessage(ctx, conv, model.SystemParticipantAdded, actorID, uid, "participant added")
		s.toUser(uid, ws.ConversationUpdatedEvent(conv))
		publishIntent(ctx, s.intents, notify.Intent{
			ID:        uuid.NewString(),
			Recipient: uid,
			Priority:  notify.PriorityNormal,
			Template:  notify.TemplateConversationEvent,
			Data: map[string]string{
				"conversation_id": conv.ID,
				"event":           string(model.SystemParticipantAdded),
				"actor_id":        actorID,
			},
			CreatedAt: now,
		})
	}
	s.toConversation(conv.ID, ws.ParticipantsChangedEvent(ws.ParticipantsChangedPayload{
		ConversationID: conv.ID,
		Event:          string(model.SystemParticipantAdded),
		ActorID:        actorID,
	}))
	return nil
}

// RemoveParticipant handles both self-leave (actor == target) and admin
// removal. Sole-admin departure promotes the oldest-joined active member;
// the last departure soft-deletes the conversation.
func (s *Conversations) RemoveParticipant(ctx context.Context, id, actorID, targetID string) error {
	defer logger.DeferLogDuration("Conversations.RemoveParticipant", time.Now())()
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.activeParticipant(ctx, conv.ID, actorID); err != nil {
		return err
	}
	if actorID != targetID {
		if err := s.requireAdmin(ctx, conv.ID, actorID); err != nil {
			return err
		}
	}
	target, err := s.convs.GetParticipant(ctx, conv.ID, targetID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("participant not found")
	}
	if err != nil {
		return err
	}
	if !target.Active() {
		return apperr.NotFound("participant not found")
	}

	outcome, err := s.convs.Leave(ctx, conv.ID, targetID, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("participant not found")
	}
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.UnreadKey(targetID))

	event := model.SystemParticipantRemoved
	content := "participant removed"
	if actorID == targetID {
		event = model.SystemParticipantLeft
		content = "participant left"
	}
	if outcome.ConversationDeleted {
		s.cache.DeleteByPattern(ctx, cache.ConversationPattern(conv.ID))
		s.toConversation(conv.ID, ws.ConversationDeletedEvent(conv.ID))
		return nil
	}
	s.systemMessage(ctx, conv, event, actorID, targetID, content)
	s.toConversation(conv.ID, ws.ParticipantsChangedEvent(ws.ParticipantsChangedPayload{
		ConversationID: conv.ID,
		Event:          string(event),
		ActorID:        actorID,
		TargetID:       targetID,
		PromotedUserID: outcome.PromotedUserID,
	}))
	return nil
}

// SetArchived archives or unarchives the conversation for the caller only.
func (s *Conversations) SetArchived(ctx context.Context, id, userID string, archived bool) error {
	defer logger.DeferLogDuration("Conversations.SetArchived", time.Now())()
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return err
	}
	err = s.convs.SetArchived(ctx, conv.ID, userID, archived, s.now())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Forbidden("not a participant")
	}
	return err
}

// SetMuted toggles notification intents for the caller in this conversation.
// Live events keep flowing either way.
func (s *Conversations) SetMuted(ctx context.Context, id, userID string, muted bool) error {
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return err
	}
	err = s.convs.SetMuted(ctx, conv.ID, userID, muted)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Forbidden("not a participant")
	}
	return err
}

// Delete soft-deletes a group/channel. Admin only; direct conversations close
// on their own when both sides have left.
func (s *Conversations) Delete(ctx context.Context, id, userID string) error {
	defer logger.DeferLogDuration("Conversations.Delete", time.Now())()
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv.Type == model.ConversationDirect {
		return apperr.InvalidOperation("direct conversations are closed automatically")
	}
	if err := s.requireAdmin(ctx, conv.ID, userID); err != nil {
		return err
	}
	if err := s.convs.SoftDelete(ctx, conv.ID, s.now()); err != nil {
		return err
	}
	s.cache.DeleteByPattern(ctx, cache.ConversationPattern(conv.ID))
	s.toConversation(conv.ID, ws.ConversationDeletedEvent(conv.ID))
	return nil
}

func (s *Conversations) getConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Conversations) activeParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	p, err := s.convs.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Forbidden("not a participant")
	}
	if err != nil {
		return nil, err
	}
	if !p.Active() {
		return nil, apperr.Forbidden("not a participant")
	}
	return p, nil
}

func (s *Conversations) requireAdmin(ctx context.Context, conversationID, userID string) error {
	p, err := s.activeParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if p.Role != model.RoleAdmin {
		return apperr.Forbidden("admin role required")
	}
	return nil
}

// systemMessage appends a membership event to the conversation timeline. The
// parent mutation has already committed; failures here are logged only.
func (s *Conversations) systemMessage(ctx context.Context, conv *model.Conversation, event model.SystemEventType, actorID, targetID, content string) {
	now := s.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       actorID,
		Content:        content,
		Type:           model.MessageSystem,
		Status:         model.MessageStatusSent,
		Metadata: model.Metadata{SystemEvent: &model.SystemEventDetail{
			Event: event, ActorID: actorID, TargetID: targetID,
		}},
		CreatedAt: now,
	}
	if err := s.msgs.Create(ctx, msg); err != nil {
		logger.Errorf("system message %s in %s: %v", event, conv.ID, err)
		return
	}
	if err := s.convs.TouchActivity(ctx, conv.ID, now); err != nil {
		logger.Errorf("touch activity %s: %v", conv.ID, err)
	}
	s.cache.DeleteByPattern(ctx, cache.ConversationPattern(conv.ID))
	s.toConversation(conv.ID, ws.NewMessageEvent(msg))
}

func (s *Conversations) toConversation(conversationID string, e ws.Event) {
	if s.bc != nil {
		s.bc.ToConversation(conversationID, e)
	}
}

func (s *Conversations) toUser(userID string, e ws.Event) {
	if s.bc != nil {
		s.bc.ToUser(userID, e)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
