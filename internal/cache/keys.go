package cache

import "strconv"

// Typed key builders. Every cached domain derives its keys here so the
// invalidation patterns cannot drift from the read-path keys.

// MessagePageKey keys an offset-paginated message list snapshot.
func MessagePageKey(conversationID string, page, limit int) string {
	return "msgs:" + conversationID + ":page:" + strconv.Itoa(page) + ":" + strconv.Itoa(limit)
}

// MessageBeforeKey keys a before-cursor message list snapshot.
func MessageBeforeKey(conversationID, beforeID string, limit int) string {
	return "msgs:" + conversationID + ":before:" + beforeID + ":" + strconv.Itoa(limit)
}

// MessageAfterKey keys an after-cursor message list snapshot.
func MessageAfterKey(conversationID, afterID string, limit int) string {
	return "msgs:" + conversationID + ":after:" + afterID + ":" + strconv.Itoa(limit)
}

// MessageKey keys a single message snapshot.
func MessageKey(messageID string) string {
	return "msg:" + messageID
}

// UnreadKey keys a user's total unread counter.
func UnreadKey(userID string) string {
	return "unread:" + userID
}

// ConversationPattern matches every list snapshot of a conversation, for
// bulk invalidation after a mutation of its message set.
func ConversationPattern(conversationID string) string {
	return "msgs:" + conversationID + ":*"
}
