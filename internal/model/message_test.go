package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnippetOf(t *testing.T) {
	t.Run("short content kept whole", func(t *testing.T) {
		m := &Message{ID: "m1", SenderID: "u1", Content: "hello"}
		s := SnippetOf(m)
		assert.Equal(t, "m1", s.MessageID)
		assert.Equal(t, "u1", s.SenderID)
		assert.Equal(t, "hello", s.Content)
	})

	t.Run("long content truncated", func(t *testing.T) {
		m := &Message{ID: "m1", Content: strings.Repeat("a", 500)}
		s := SnippetOf(m)
		assert.Len(t, s.Content, 160)
	})

	t.Run("truncation never splits a rune", func(t *testing.T) {
		m := &Message{ID: "m1", Content: strings.Repeat("я", 200)}
		s := SnippetOf(m)
		assert.LessOrEqual(t, len(s.Content), 160)
		assert.True(t, strings.HasPrefix(m.Content, s.Content))
		for _, r := range s.Content {
			assert.Equal(t, 'я', r)
		}
	})

	t.Run("deleted message yields empty snippet", func(t *testing.T) {
		at := time.Now()
		m := &Message{ID: "m1", Content: "secret", DeletedAt: &at}
		assert.Empty(t, SnippetOf(m).Content)
	})
}

func TestValidEmoji(t *testing.T) {
	valid := []string{"👍", "❤️", "🙂", "👨‍👩‍👧", "👍🏽", ":)", "+1"}
	for _, e := range valid {
		assert.True(t, ValidEmoji(e), "expected %q to be valid", e)
	}

	invalid := []string{
		"",
		" ",
		"👍 👍",
		"hello world",
		"\n",
		string([]byte{0xff, 0xfe}),
		strings.Repeat("👍", 9),
	}
	for _, e := range invalid {
		assert.False(t, ValidEmoji(e), "expected %q to be invalid", e)
	}
}

func TestMetadataValidate(t *testing.T) {
	t.Run("empty is valid", func(t *testing.T) {
		var md Metadata
		assert.True(t, md.Empty())
		require.NoError(t, md.Validate())
	})

	t.Run("edit history requires editor and time", func(t *testing.T) {
		md := Metadata{EditHistory: []EditHistoryEntry{{Content: "old"}}}
		assert.Error(t, md.Validate())

		md.EditHistory[0].EditedBy = "u1"
		md.EditHistory[0].EditedAt = time.Now()
		assert.NoError(t, md.Validate())
	})

	t.Run("forward requires provenance fields", func(t *testing.T) {
		md := Metadata{Forward: &ForwardProvenance{SourceMessageID: "m1"}}
		assert.Error(t, md.Validate())

		md.Forward.SourceConversationID = "c1"
		md.Forward.ForwardedBy = "u1"
		assert.NoError(t, md.Validate())
	})

	t.Run("system event requires known type and actor", func(t *testing.T) {
		md := Metadata{SystemEvent: &SystemEventDetail{Event: "bogus", ActorID: "u1"}}
		assert.Error(t, md.Validate())

		md.SystemEvent.Event = SystemParticipantAdded
		assert.NoError(t, md.Validate())

		md.SystemEvent.ActorID = ""
		assert.Error(t, md.Validate())
	})
}
