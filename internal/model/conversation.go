package model

import "time"

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type Conversation struct {
	ID             string           `json:"id"`
	OrgID          string           `json:"org_id"`
	Type           ConversationType `json:"type"`
	Name           string           `json:"name,omitempty"`
	Description    string           `json:"description,omitempty"`
	CreatedBy      string           `json:"created_by"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	DeletedAt      *time.Time       `json:"deleted_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Deleted reports whether the conversation has been soft-deleted.
func (c *Conversation) Deleted() bool { return c.DeletedAt != nil }

// Participant links a user to a conversation. ArchivedAt and UnreadCount are
// private per-user state; archiving never affects the other participants.
type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	Role           Role       `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	UnreadCount    int        `json:"unread_count"`
	Muted          bool       `json:"muted"`
}

// Active reports whether the participant has not been removed.
func (p *Participant) Active() bool { return p.LeftAt == nil }

// ConversationView is the list/detail shape returned to clients.
type ConversationView struct {
	Conversation Conversation  `json:"conversation"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
}

// DepartureOutcome is the role-transition decision taken when a participant
// leaves or is removed.
type DepartureOutcome int

const (
	// DepartureNoRoleChange: a member left, or other admins remain.
	DepartureNoRoleChange DepartureOutcome = iota
	// DeparturePromoteOldest: the sole admin left and active participants
	// remain; the oldest-joined of them becomes admin.
	DeparturePromoteOldest
	// DepartureDeleteConversation: no active participants remain; the
	// conversation is soft-deleted.
	DepartureDeleteConversation
)

// DepartureTransition is the explicit state machine for participant
// departure. wasSoleAdmin is true when the departing user held the only
// active admin role; remaining is the count of active participants after
// the departure.
func DepartureTransition(wasSoleAdmin bool, remaining int) DepartureOutcome {
	switch {
	case remaining == 0:
		return DepartureDeleteConversation
	case wasSoleAdmin:
		return DeparturePromoteOldest
	default:
		return DepartureNoRoleChange
	}
}
