// Package service holds the Conversation Lifecycle Manager and the Message
// Engine: every authorization decision, mutation rule, and fan-out decision
// lives here. Handlers stay thin and repositories stay dumb.
package service

import (
	"context"
	"time"

	"github.com/teamtalk/internal/logger"
	"github.com/teamtalk/internal/model"
	"github.com/teamtalk/internal/notify"
	"github.com/teamtalk/internal/repository"
	"github.com/teamtalk/internal/ws"
)

// ConversationStore is the conversation/participant persistence surface.
// *repository.ConversationRepository satisfies it.
type ConversationStore interface {
	CreateWithParticipants(ctx context.Context, c *model.Conversation, parts []model.Participant) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindDirect(ctx context.Context, orgID, userA, userB string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string, f repository.ListFilter) ([]model.Conversation, error)
	Update(ctx context.Context, id, name, description string) error
	TouchActivity(ctx context.Context, id string, t time.Time) error
	SoftDelete(ctx context.Context, id string, t time.Time) error
	GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	ActiveParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	AddParticipants(ctx context.Context, parts []model.Participant) error
	SetArchived(ctx context.Context, conversationID, userID string, archived bool, t time.Time) error
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	Leave(ctx context.Context, conversationID, userID string, now time.Time) (repository.LeaveOutcome, error)
	IncrementUnread(ctx context.Context, conversationID, senderID string) error
	RecomputeUnread(ctx context.Context, conversationID, userID string) (int, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
}

// MessageStore is the message persistence surface.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListPage(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	ListBefore(ctx context.Context, conversationID string, createdAt time.Time, id string, limit int) ([]model.Message, error)
	ListAfter(ctx context.Context, conversationID string, createdAt time.Time, id string, limit int) ([]model.Message, error)
	Count(ctx context.Context, conversationID string) (int, error)
	UpdateContent(ctx context.Context, id, content string, editedAt time.Time, editedBy string, md model.Metadata) error
	SoftDelete(ctx context.Context, id string, t time.Time, by string) error
	Search(ctx context.Context, userID string, q repository.SearchQuery) ([]model.Message, error)
}

type ReactionStore interface {
	Add(ctx context.Context, messageID, userID, emoji string, at time.Time) error
	Remove(ctx context.Context, messageID, userID, emoji string) error
	ListForMessages(ctx context.Context, messageIDs []string) (map[string][]model.Reaction, error)
}

type ReceiptStore interface {
	MarkRead(ctx context.Context, userID string, messageIDs []string, at time.Time) (map[string][]string, error)
	ReadersFor(ctx context.Context, messageIDs []string) (map[string][]string, error)
}

// Broadcaster fans events out to connected clients. The hub implements it;
// broadcasts are best-effort and never fail a mutation.
type Broadcaster interface {
	ToConversation(conversationID string, e ws.Event)
	ToUser(userID string, e ws.Event)
	Online(userID string) bool
}

// IntentPublisher hands notification intents to the delivery queue.
type IntentPublisher interface {
	Publish(ctx context.Context, in notify.Intent) error
}

// publishIntent is the fire-and-forget edge of the queue boundary: a broker
// outage degrades notifications, not messaging.
func publishIntent(ctx context.Context, pub IntentPublisher, in notify.Intent) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, in); err != nil {
		logger.Errorf("publish intent for %s: %v", in.Recipient, err)
	}
}
