package model

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
)

// MaxContentLength is the content ceiling enforced on send and edit.
const MaxContentLength = 5000

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	ReplyToID      *string       `json:"reply_to_id,omitempty"`
	ReplyTo        *ReplySnippet `json:"reply_to,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Mentions       []string      `json:"mentions,omitempty"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	EditedBy       *string       `json:"edited_by,omitempty"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
	DeletedBy      *string       `json:"deleted_by,omitempty"`
	Metadata       Metadata      `json:"metadata,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`

	// ReadBy and Reactions are read-path annotations, never persisted on the
	// message row itself.
	ReadBy    []string   `json:"read_by,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool { return m.DeletedAt != nil }

// ReplySnippet is the denormalized preview of the message being replied to,
// captured at send time so the reply survives edits of the original.
type ReplySnippet struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
}

const replySnippetMax = 160

// SnippetOf builds a reply snippet from the referenced message.
func SnippetOf(m *Message) *ReplySnippet {
	content := m.Content
	if m.Deleted() {
		content = ""
	} else if len(content) > replySnippetMax {
		cut := replySnippetMax
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	return &ReplySnippet{MessageID: m.ID, SenderID: m.SenderID, Content: content}
}

type Attachment struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	FileURL   string `json:"file_url"`
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Reaction is one (message, user, emoji) triple. Uniqueness is enforced by
// the store's primary key, not by read-then-write.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type Mention struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

const maxEmojiRunes = 8

// ValidEmoji reports whether s is acceptable reaction input: valid UTF-8, no
// whitespace or control characters, and at most a short emoji sequence
// (skin tones and ZWJ sequences span several runes).
func ValidEmoji(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	if utf8.RuneCountInString(s) > maxEmojiRunes {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}
