package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDepartureTransition(t *testing.T) {
	cases := []struct {
		name         string
		wasSoleAdmin bool
		remaining    int
		want         DepartureOutcome
	}{
		{"member leaves, others remain", false, 3, DepartureNoRoleChange},
		{"admin leaves, another admin remains", false, 2, DepartureNoRoleChange},
		{"sole admin leaves, members remain", true, 2, DeparturePromoteOldest},
		{"sole admin leaves, one member remains", true, 1, DeparturePromoteOldest},
		{"last participant leaves", false, 0, DepartureDeleteConversation},
		{"sole admin is also last participant", true, 0, DepartureDeleteConversation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DepartureTransition(tc.wasSoleAdmin, tc.remaining))
		})
	}
}

func TestParticipantActive(t *testing.T) {
	p := Participant{UserID: "u1"}
	assert.True(t, p.Active())

	left := time.Now()
	p.LeftAt = &left
	assert.False(t, p.Active())
}

func TestConversationDeleted(t *testing.T) {
	c := Conversation{ID: "c1"}
	assert.False(t, c.Deleted())

	at := time.Now()
	c.DeletedAt = &at
	assert.True(t, c.Deleted())
}
