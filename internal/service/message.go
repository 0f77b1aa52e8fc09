package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/teamtalk/internal/apperr"
	"github.com/teamtalk/internal/cache"
	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/metrics"
	"github.com/teamtalk/internal/model"
	"github.com/teamtalk/internal/notify"
	"github.com/teamtalk/internal/repository"
	"github.com/teamtalk/internal/ws"
)

// editWindow bounds how long after sending a message may still be edited.
const editWindow = time.Hour

// Messages is the Message Engine: send, list, mutate, react, read-track and
// search, with the cache in front of the hot read paths.
type Messages struct {
	convs     ConversationStore
	msgs      MessageStore
	reactions ReactionStore
	receipts  ReceiptStore
	cache     *cache.Client
	bc        Broadcaster
	intents   IntentPublisher
	hotTTL    time.Duration
	coldTTL   time.Duration
	now       func() time.Time
}

func NewMessages(convs ConversationStore, msgs MessageStore, reactions ReactionStore, receipts ReceiptStore,
	c *cache.Client, bc Broadcaster, intents IntentPublisher, hotTTL, coldTTL time.Duration) *Messages {
	return &Messages{
		convs: convs, msgs: msgs, reactions: reactions, receipts: receipts,
		cache: c, bc: bc, intents: intents,
		hotTTL: hotTTL, coldTTL: coldTTL, now: time.Now,
	}
}

// AttachmentInput describes one uploaded file reference on send.
type AttachmentInput struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	MimeType string `json:"mime_type"`
}

// SendInput carries message creation parameters. Forward provenance is only
// set by the Forward path, never from client input.
type SendInput struct {
	Content     string
	Type        model.MessageType
	ReplyToID   *string
	Attachments []AttachmentInput
	Mentions    []string

	forward *model.ForwardProvenance
}

// Send validates, persists and fans out a new message. The message is
// committed before any broadcast or intent leaves the engine.
func (s *Messages) Send(ctx context.Context, conversationID, senderID string, in SendInput) (*model.Message, error) {
	defer logger.DeferLogDuration("Messages.Send", time.Now())()
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeParticipant(ctx, conv.ID, senderID); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return nil, apperr.Validation("message content is empty")
	}
	// The ceiling is characters, not bytes.
	if utf8.RuneCountInString(content) > model.MaxContentLength {
		return nil, apperr.Validation("message content is too long")
	}
	msgType := in.Type
	switch msgType {
	case "":
		msgType = model.MessageText
		if len(in.Attachments) > 0 {
			msgType = model.MessageFile
		}
	case model.MessageText, model.MessageFile:
	case model.MessageSystem:
		return nil, apperr.Validation("system messages cannot be sent directly")
	default:
		return nil, apperr.Validation("unknown message type")
	}

	now := s.now()
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Type:           msgType,
		Status:         model.MessageStatusSent,
		Metadata:       model.Metadata{Forward: in.forward},
		CreatedAt:      now,
	}

	if in.ReplyToID != nil && *in.ReplyToID != "" {
		target, err := s.msgs.GetByID(ctx, *in.ReplyToID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("reply target not found")
		}
		if err != nil {
			return nil, err
		}
		if target.ConversationID != conv.ID {
			return nil, apperr.Validation("reply target is in another conversation")
		}
		msg.ReplyToID = &target.ID
		msg.ReplyTo = model.SnippetOf(target)
	}

	for _, a := range in.Attachments {
		if a.FileURL == "" || a.FileName == "" {
			return nil, apperr.Validation("attachment needs file_url and file_name")
		}
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID: uuid.NewString(), MessageID: msg.ID,
			FileURL: a.FileURL, FileName: a.FileName, FileSize: a.FileSize, MimeType: a.MimeType,
		})
	}

	parts, err := s.convs.ActiveParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	active := make(map[string]model.Participant, len(parts))
	for _, p := range parts {
		active[p.UserID] = p
	}
	mentioned := make(map[string]struct{})
	for _, uid := range dedupe(in.Mentions) {
		if uid == senderID {
			continue
		}
		if _, ok := active[uid]; !ok {
			continue
		}
		mentioned[uid] = struct{}{}
		msg.Mentions = append(msg.Mentions, uid)
	}

	if err := s.msgs.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.convs.TouchActivity(ctx, conv.ID, now); err != nil {
		logger.Errorf("touch activity %s: %v", conv.ID, err)
	}
	if err := s.convs.IncrementUnread(ctx, conv.ID, senderID); err != nil {
		logger.Errorf("increment unread %s: %v", conv.ID, err)
	}

	s.cache.DeleteByPattern(ctx, cache.ConversationPattern(conv.ID))
	for _, p := range parts {
		if p.UserID != senderID {
			s.cache.Delete(ctx, cache.UnreadKey(p.UserID))
		}
	}

	metrics.MessagesSent.Inc()
	s.toConversation(conv.ID, ws.NewMessageEvent(msg))
	s.publishSendIntents(ctx, msg, parts, mentioned)
	return msg, nil
}

// publishSendIntents queues notifications for recipients who will not see the
// live broadcast: everyone mentioned (high priority, regardless of presence)
// and every offline, unmuted participant.
func (s *Messages) publishSendIntents(ctx context.Context, msg *model.Message, parts []model.Participant, mentioned map[string]struct{}) {
	for _, p := range parts {
		if p.UserID == msg.SenderID {
			continue
		}
		_, isMentioned := mentioned[p.UserID]
		if p.Muted && !isMentioned {
			continue
		}
		online := s.bc != nil && s.bc.Online(p.UserID)
		if online && !isMentioned {
			continue
		}
		template, priority := notify.TemplateNewMessage, notify.PriorityNormal
		if isMentioned {
			template, priority = notify.TemplateMention, notify.PriorityHigh
		}
		publishIntent(ctx, s.intents, notify.Intent{
			ID:        uuid.NewString(),
			Recipient: p.UserID,
			Priority:  priority,
			Template:  template,
			Data: map[string]string{
				"conversation_id": msg.ConversationID,
				"message_id":      msg.ID,
				"sender_id":       msg.SenderID,
				"preview":         model.SnippetOf(msg).Content,
			},
			CreatedAt: msg.CreatedAt,
		})
		metrics.IntentsPublished.Inc()
	}
}

// ListQuery selects one of three modes: offset page (Page/Limit), BeforeID
// cursor, or AfterID cursor. Cursors are message ids resolved to their
// (created_at, id) position.
type ListQuery struct {
	Page     int
	Limit    int
	BeforeID string
	AfterID  string
}

// MessagePage is a list response. TotalPages is only set in page mode.
type MessagePage struct {
	Messages   []model.Message `json:"messages"`
	Page       int             `json:"page,omitempty"`
	Limit      int             `json:"limit"`
	Total      int             `json:"total,omitempty"`
	TotalPages int             `json:"total_pages,omitempty"`
}

// List returns message history with read-receipt and reaction annotations.
// The raw list goes through the cache; annotations are applied after so
// receipts and reactions stay fresh within a cached page.
func (s *Messages) List(ctx context.Context, conversationID, userID string, q ListQuery) (*MessagePage, error) {
	defer logger.DeferLogDuration("Messages.List", time.Now())()
	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeParticipant(ctx, conv.ID, userID); err != nil {
		return nil, err
	}
	if q.BeforeID != "" && q.AfterID != "" {
		return nil, apperr.Validation("before and after cursors are mutually exclusive")
	}
	page, limit := normalizePage(q.Page, q.Limit)

	var (
		key  string
		ttl  time.Duration
		load func(context.Context) ([]model.Message, error)
	)
	switch {
	case q.BeforeID != "":
		anchor, err := s.cursorAnchor(ctx, conv.ID, q.BeforeID)
		if err != nil {
			return nil, err
		}
		key, ttl = cache.MessageBeforeKey(conv.ID, anchor.ID, limit), s.coldTTL
		load = func(ctx context.Context) ([]model.Message, error) {
			return s.msgs.ListBefore(ctx, conv.ID, anchor.CreatedAt, anchor.ID, limit)
		}
	case q.AfterID != "":
		anchor, err := s.cursorAnchor(ctx, conv.ID, q.AfterID)
		if err != nil {
			return nil, err
		}
		key, ttl = cache.MessageAfterKey(conv.ID, anchor.ID, limit), s.hotTTL
		load = func(ctx context.Context) ([]model.Message, error) {
			return s.msgs.ListAfter(ctx, conv.ID, anchor.CreatedAt, anchor.ID, limit)
		}
	default:
		key, ttl = cache.MessagePageKey(conv.ID, page, limit), s.coldTTL
		if page == 1 {
			ttl = s.hotTTL
		}
		load = func(ctx context.Context) ([]model.Message, error) {
			return s.msgs.ListPage(ctx, conv.ID, limit, (page-1)*limit)
		}
	}

	var msgs []model.Message
	if !s.cache.GetJSON(ctx, key, &msgs) {
		msgs, err = load(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.SetJSON(ctx, key, msgs, ttl)
	}
	if err := s.annotate(ctx, msgs); err != nil {
		return nil, err
	}

	resp := &MessagePage{Messages: msgs, Limit: limit}
	if q.BeforeID == "" && q.AfterID == "" {
		total, err := s.msgs.Count(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		resp.Page = page
		resp.Total = total
		resp.TotalPages = (total + limit - 1) / limit
	}
	return resp, nil
}

func (s *Messages) cursorAnchor(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	anchor, err := s.msgs.GetByID(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("cursor message not found")
	}
	if err != nil {
		return nil, err
	}
	if anchor.ConversationID != conversationID {
		return nil, apperr.Validation("cursor message is in another conversation")
	}
	return anchor, nil
}

func (s *Messages) annotate(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	readers, err := s.receipts.ReadersFor(ctx, ids)
	if err != nil {
		return err
	}
	reactions, err := s.reactions.ListForMessages(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].ReadBy = readers[msgs[i].ID]
		msgs[i].Reactions = reactions[msgs[i].ID]
	}
	return nil
}

// Get returns one message with annotations; the caller must be an active
// participant of its conversation. The raw snapshot is cache-backed under the
// message-id key; annotations are applied after the cache so receipts and
// reactions stay fresh.
func (s *Messages) Get(ctx context.Context, messageID, userID string) (*model.Message, error) {
	defer logger.DeferLogDuration("Messages.Get", time.Now())()
	key := cache.MessageKey(messageID)
	msg := &model.Message{}
	if !s.cache.GetJSON(ctx, key, msg) {
		var err error
		msg, err = s.getMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		s.cache.SetJSON(ctx, key, msg, s.coldTTL)
	}
	if _, err := s.activeParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	readers, err := s.receipts.ReadersFor(ctx, []string{msg.ID})
	if err != nil {
		return nil, err
	}
	reactions, err := s.reactions.ListForMessages(ctx, []string{msg.ID})
	if err != nil {
		return nil, err
	}
	msg.ReadBy = readers[msg.ID]
	msg.Reactions = reactions[msg.ID]
	return msg, nil
}

// Update edits a message's content. Sender only, inside the edit window; the
// prior content is preserved in the metadata edit history.
func (s *Messages) Update(ctx context.Context, messageID, userID, content string) (*model.Message, error) {
	defer logger.DeferLogDuration("Messages.Update", time.Now())()
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, apperr.Forbidden("only the sender can edit a message")
	}
	if msg.Type == model.MessageSystem {
		return nil, apperr.InvalidOperation("system messages cannot be edited")
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) > editWindow {
		return nil, apperr.InvalidOperation("message can no longer be edited")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation("message content is empty")
	}
	if utf8.RuneCountInString(content) > model.MaxContentLength {
		return nil, apperr.Validation("message content is too long")
	}

	msg.Metadata.EditHistory = append(msg.Metadata.EditHistory, model.EditHistoryEntry{
		Content: msg.Content, EditedAt: now, EditedBy: userID,
	})
	if err := s.msgs.UpdateContent(ctx, msg.ID, content, now, userID, msg.Metadata); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &now
	msg.EditedBy = &userID

	s.cache.Delete(ctx, cache.MessageKey(msg.ID))
	s.cache.DeleteByPattern(ctx, cache.ConversationPattern(msg.ConversationID))
	s.toConversation(msg.ConversationID, ws.MessageUpdatedEvent(msg))
	return msg, nil
}

// Delete soft-deletes a message. Sender, or an admin of the conversation.
func (s *Messages) Delete(ctx context.Context, messageID, userID string) error {
	defer logger.DeferLogDuration("Messages.Delete", time.Now())()
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		p, err := s.activeParticipant(ctx, msg.ConversationID, userID)
		if err != nil {
			return err
		}
		if p.Role != model.RoleAdmin {
			return apperr.Forbidden("only the sender or an admin can delete a message")
		}
	}
	if err := s.msgs.SoftDelete(ctx, msg.ID, s.now(), userID); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.MessageKey(msg.ID))
	s.cache.DeleteByPattern(ctx, cache.ConversationPattern(msg.ConversationID))
	s.toConversation(msg.ConversationID, ws.MessageDeletedEvent(msg.ConversationID, msg.ID))
	return nil
}

// AddReaction records one (message, user, emoji) triple. Duplicates conflict;
// uniqueness is the store's constraint, not a read-then-write check.
func (s *Messages) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("Messages.AddReaction", time.Now())()
	if !model.ValidEmoji(emoji) {
		return apperr.Validation("invalid emoji")
	}
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.activeParticipant(ctx, msg.ConversationID, userID); err != nil {
		return err
	}
	err = s.reactions.Add(ctx, msg.ID, userID, emoji, s.now())
	if errors.Is(err, repository.ErrDuplicate) {
		return apperr.Conflict("already reacted")
	}
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.MessageKey(msg.ID))
	s.toConversation(msg.ConversationID, ws.ReactionAddedEvent(msg.ConversationID, msg.ID, userID, emoji))
	return nil
}

// RemoveReaction removes the caller's own reaction.
func (s *Messages) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	defer logger.DeferLogDuration("Messages.RemoveReaction", time.Now())()
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if _, err := s.activeParticipant(ctx, msg.ConversationID, userID); err != nil {
		return err
	}
	err = s.reactions.Remove(ctx, msg.ID, userID, emoji)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("reaction not found")
	}
	if err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.MessageKey(msg.ID))
	s.toConversation(msg.ConversationID, ws.ReactionRemovedEvent(msg.ConversationID, msg.ID, userID, emoji))
	return nil
}

// MarkRead upserts read receipts for the given messages. Idempotent: already
// read ids change nothing. Per affected conversation the unread counter is
// recomputed and a messages_read event is broadcast.
func (s *Messages) MarkRead(ctx context.Context, userID string, messageIDs []string) error {
	defer logger.DeferLogDuration("Messages.MarkRead", time.Now())()
	messageIDs = dedupe(messageIDs)
	if len(messageIDs) == 0 {
		return apperr.Validation("no message ids given")
	}
	affected, err := s.receipts.MarkRead(ctx, userID, messageIDs, s.now())
	if err != nil {
		return err
	}
	if len(affected) == 0 {
		return nil
	}
	for convID, ids := range affected {
		if _, err := s.convs.RecomputeUnread(ctx, convID, userID); err != nil {
			logger.Errorf("recompute unread %s/%s: %v", convID, userID, err)
		}
		s.toConversation(convID, ws.MessagesReadEvent(convID, userID, ids))
	}
	s.cache.Delete(ctx, cache.UnreadKey(userID))
	return nil
}

// Unread returns the user's total unread count across active conversations,
// cache first.
func (s *Messages) Unread(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("Messages.Unread", time.Now())()
	var total int
	key := cache.UnreadKey(userID)
	if s.cache.GetJSON(ctx, key, &total) {
		return total, nil
	}
	total, err := s.convs.TotalUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.cache.SetJSON(ctx, key, total, s.hotTTL)
	return total, nil
}

// SearchOptions narrows Search. A ConversationID outside the caller's
// membership is Forbidden, never an empty result.
type SearchOptions struct {
	Query          string
	ConversationID string
	Type           model.MessageType
	From           *time.Time
	To             *time.Time
	Limit          int
}

// Search matches message content, scoped to conversations the caller belongs
// or once belonged to.
func (s *Messages) Search(ctx context.Context, userID string, opts SearchOptions) ([]model.Message, error) {
	defer logger.DeferLogDuration("Messages.Search", time.Now())()
	if strings.TrimSpace(opts.Query) == "" {
		return nil, apperr.Validation("search query is empty")
	}
	if opts.ConversationID != "" {
		if _, err := s.getConversation(ctx, opts.ConversationID); err != nil {
			return nil, err
		}
		_, err := s.convs.GetParticipant(ctx, opts.ConversationID, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Forbidden("not a participant")
		}
		if err != nil {
			return nil, err
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.msgs.Search(ctx, userID, repository.SearchQuery{
		Query:          opts.Query,
		ConversationID: opts.ConversationID,
		Type:           opts.Type,
		From:           opts.From,
		To:             opts.To,
		Limit:          limit,
	})
}

// Forward re-sends an existing message into another conversation the caller
// belongs to, carrying provenance in the metadata.
func (s *Messages) Forward(ctx context.Context, messageID, userID, targetConversationID string) (*model.Message, error) {
	defer logger.DeferLogDuration("Messages.Forward", time.Now())()
	src, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.activeParticipant(ctx, src.ConversationID, userID); err != nil {
		return nil, err
	}
	if src.Type == model.MessageSystem {
		return nil, apperr.InvalidOperation("system messages cannot be forwarded")
	}
	return s.Send(ctx, targetConversationID, userID, SendInput{
		Content: src.Content,
		Type:    src.Type,
		forward: &model.ForwardProvenance{
			SourceConversationID: src.ConversationID,
			SourceMessageID:      src.ID,
			ForwardedBy:          userID,
			ForwardedAt:          s.now(),
		},
	})
}

func (s *Messages) getConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// getMessage returns the message; soft-deleted messages count as absent for
// every mutation entry point.
func (s *Messages) getMessage(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.msgs.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, err
	}
	if msg.Deleted() {
		return nil, apperr.NotFound("message not found")
	}
	return msg, nil
}

func (s *Messages) activeParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
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

func (s *Messages) toConversation(conversationID string, e ws.Event) {
	if s.bc != nil {
		s.bc.ToConversation(conversationID, e)
	}
}
