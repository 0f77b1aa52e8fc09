// Package notify defines the notification-intent contract between the engine
// and the background delivery worker. The engine decides WHO should be told
// about WHAT; the worker owns channels, retries, and delivery mechanics.
package notify

import "time"

// Channel hints which delivery path the worker should prefer. Empty lets the
// worker pick based on the recipient's subscriptions.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// Priority levels. High skips batching in the worker.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Intent templates.
const (
	TemplateNewMessage        = "new_message"
	TemplateMention           = "mention"
	TemplateConversationEvent = "conversation_event"
)

// Intent is one queued notification: a recipient, a template, and the data
// needed to render it on whichever channel the worker selects.
type Intent struct {
	ID        string            `json:"id"`
	Recipient string            `json:"recipient"`
	Channel   string            `json:"channel,omitempty"`
	Priority  string            `json:"priority"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
