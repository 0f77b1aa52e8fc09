package ws

import "github.com/teamtalk/internal/model"

// Server-to-client event types.
const (
	EventNewMessage          = "new_message"
	EventMessageUpdated      = "message_updated"
	EventMessageDeleted      = "message_deleted"
	EventReactionAdded       = "reaction_added"
	EventReactionRemoved     = "reaction_removed"
	EventMessagesRead        = "messages_read"
	EventUserTyping          = "user_typing"
	EventPresenceUpdate      = "presence_update"
	EventConversationUpdated = "conversation_updated"
	EventConversationDeleted = "conversation_deleted"
	EventParticipantsChanged = "participants_changed"
	EventJoined              = "joined"
	EventError               = "error"
)

// Client-to-server message types.
const (
	ActionJoinConversation  = "join_conversation"
	ActionLeaveConversation = "leave_conversation"
	ActionTyping            = "typing"
)

// Event is the wire envelope for server-to-client traffic.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Incoming is the wire envelope for client-to-server traffic.
type Incoming struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Typing         bool   `json:"typing,omitempty"`
}

func NewMessageEvent(m *model.Message) Event {
	return Event{Type: EventNewMessage, Payload: m}
}

func MessageUpdatedEvent(m *model.Message) Event {
	return Event{Type: EventMessageUpdated, Payload: m}
}

type MessageRef struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

func MessageDeletedEvent(conversationID, messageID string) Event {
	return Event{Type: EventMessageDeleted, Payload: MessageRef{ConversationID: conversationID, MessageID: messageID}}
}

type ReactionPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id"`
	Emoji          string `json:"emoji"`
}

func ReactionAddedEvent(conversationID, messageID, userID, emoji string) Event {
	return Event{Type: EventReactionAdded, Payload: ReactionPayload{
		ConversationID: conversationID, MessageID: messageID, UserID: userID, Emoji: emoji,
	}}
}

func ReactionRemovedEvent(conversationID, messageID, userID, emoji string) Event {
	return Event{Type: EventReactionRemoved, Payload: ReactionPayload{
		ConversationID: conversationID, MessageID: messageID, UserID: userID, Emoji: emoji,
	}}
}

type MessagesReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	MessageIDs     []string `json:"message_ids"`
}

func MessagesReadEvent(conversationID, userID string, messageIDs []string) Event {
	return Event{Type: EventMessagesRead, Payload: MessagesReadPayload{
		ConversationID: conversationID, UserID: userID, MessageIDs: messageIDs,
	}}
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

func PresenceEvent(userID, status string) Event {
	return Event{Type: EventPresenceUpdate, Payload: PresencePayload{UserID: userID, Status: status}}
}

func ConversationUpdatedEvent(c *model.Conversation) Event {
	return Event{Type: EventConversationUpdated, Payload: c}
}

func ConversationDeletedEvent(conversationID string) Event {
	return Event{Type: EventConversationDeleted, Payload: map[string]string{"conversation_id": conversationID}}
}

type ParticipantsChangedPayload struct {
	ConversationID string `json:"conversation_id"`
	Event          string `json:"event"`
	ActorID        string `json:"actor_id"`
	TargetID       string `json:"target_id,omitempty"`
	PromotedUserID string `json:"promoted_user_id,omitempty"`
}

func ParticipantsChangedEvent(p ParticipantsChangedPayload) Event {
	return Event{Type: EventParticipantsChanged, Payload: p}
}

func ErrorEvent(reason string) Event {
	return Event{Type: EventError, Payload: map[string]string{"reason": reason}}
}
