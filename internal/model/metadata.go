package model

import (
	"fmt"
	"time"
)

// Metadata is the message metadata bag. The known sub-shapes are typed so
// edit history and forward provenance stay machine-readable; unknown keys
// are rejected at the boundary rather than stored as an opaque blob.
type Metadata struct {
	EditHistory []EditHistoryEntry `json:"edit_history,omitempty"`
	Forward     *ForwardProvenance `json:"forward,omitempty"`
	SystemEvent *SystemEventDetail `json:"system_event,omitempty"`
}

// Empty reports whether no metadata is set.
func (m Metadata) Empty() bool {
	return len(m.EditHistory) == 0 && m.Forward == nil && m.SystemEvent == nil
}

// EditHistoryEntry preserves the content a message held before an edit.
type EditHistoryEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
	EditedBy string    `json:"edited_by"`
}

// ForwardProvenance records where a forwarded message originated.
type ForwardProvenance struct {
	SourceConversationID string    `json:"source_conversation_id"`
	SourceMessageID      string    `json:"source_message_id"`
	ForwardedBy          string    `json:"forwarded_by"`
	ForwardedAt          time.Time `json:"forwarded_at"`
}

type SystemEventType string

const (
	SystemConversationCreated SystemEventType = "conversation_created"
	SystemParticipantAdded    SystemEventType = "participant_added"
	SystemParticipantRemoved  SystemEventType = "participant_removed"
	SystemParticipantLeft     SystemEventType = "participant_left"
)

// SystemEventDetail describes the membership event a system message records.
type SystemEventDetail struct {
	Event   SystemEventType `json:"event"`
	ActorID string          `json:"actor_id"`
	// TargetID is the affected user for membership events; empty for
	// conversation_created.
	TargetID string `json:"target_id,omitempty"`
}

// Validate checks the known sub-shapes.
func (m Metadata) Validate() error {
	for i, e := range m.EditHistory {
		if e.EditedBy == "" || e.EditedAt.IsZero() {
			return fmt.Errorf("edit_history[%d]: edited_by and edited_at required", i)
		}
	}
	if f := m.Forward; f != nil {
		if f.SourceConversationID == "" || f.SourceMessageID == "" || f.ForwardedBy == "" {
			return fmt.Errorf("forward: source conversation, source message and forwarded_by required")
		}
	}
	if s := m.SystemEvent; s != nil {
		switch s.Event {
		case SystemConversationCreated, SystemParticipantAdded, SystemParticipantRemoved, SystemParticipantLeft:
		default:
			return fmt.Errorf("system_event: unknown event %q", s.Event)
		}
		if s.ActorID == "" {
			return fmt.Errorf("system_event: actor_id required")
		}
	}
	return nil
}
