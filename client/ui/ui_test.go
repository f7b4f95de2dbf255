package ui

import (
	"strings"
	"testing"
	"time"

	"tourchat/client/channel"
	"tourchat/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"glhf", command{name: "send", text: "glhf"}},
		{"  see you in round 2  ", command{name: "send", text: "see you in round 2"}},
		{"/edit 42 gg wp", command{name: "edit", id: 42, text: "gg wp"}},
		{"/edit #42 gg", command{name: "edit", id: 42, text: "gg"}},
		{"/delete 7", command{name: "delete", id: 7}},
		{"/attach 42 /tmp/bracket.png", command{name: "attach", id: 42, text: "/tmp/bracket.png"}},
		{"/new 9 ready?", command{name: "new", id: 9, text: "ready?"}},
		{"/reload", command{name: "reload"}},
		{"/logout", command{name: "logout"}},
		{"/quit", command{name: "quit"}},
		{"/help", command{name: "help"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, line := range []string{"/edit 42", "/edit x hi", "/delete", "/delete -3", "/attach 5", "/new 0 hi", "/new 9"} {
		_, err := parseCommand(line)
		assert.ErrorIs(t, err, errUsage, line)
	}

	_, err := parseCommand("/kick sara")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command /kick")
}

func TestFormatMessage(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	msg := models.Message{
		ID:        42,
		Sender:    models.User{ID: 9, Username: "sara"},
		Content:   "glhf [gg]",
		Timestamp: time.Date(2026, 3, 14, 17, 45, 0, 0, time.UTC),
	}

	out := formatMessage(msg, 7, now)
	assert.Contains(t, out, "#42 17:45")
	assert.Contains(t, out, tagOther+"sara")
	assert.Contains(t, out, "glhf [gg[]")
	assert.NotContains(t, out, "(edited)")

	own := formatMessage(models.Message{ID: 43, Sender: models.User{ID: 7, Username: "ali"}, Content: "ty", IsEdited: true}, 7, now)
	assert.Contains(t, own, tagOwn+"ali")
	assert.Contains(t, own, "--:--")
	assert.Contains(t, own, "(edited)")

	// An unresolved viewer never colours a message as their own.
	anon := formatMessage(models.Message{ID: 44, Content: "hi"}, 0, now)
	assert.Contains(t, anon, tagOther+"unknown")
}

func TestFormatMessageDeletedAndAttachments(t *testing.T) {
	now := time.Now()

	deleted := formatMessage(models.Message{ID: 5, Sender: models.User{Username: "sara"}, Content: "secret", IsDeleted: true}, 7, now)
	assert.Contains(t, deleted, "message deleted")
	assert.NotContains(t, deleted, "secret")

	withFile := formatMessage(models.Message{
		ID:          6,
		Sender:      models.User{Username: "sara"},
		Content:     "bracket",
		Attachments: []models.Attachment{{ID: 1, File: "/media/attachments/a.png"}},
	}, 7, now)
	lines := strings.Split(withFile, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "/media/attachments/a.png")
}

func TestRenderLogDateSeparators(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: 1, Content: "a", Timestamp: time.Date(2026, 3, 13, 22, 0, 0, 0, time.UTC)},
		{ID: 2, Content: "b", Timestamp: time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC)},
		{ID: 3, Content: "c", Timestamp: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)},
	}

	out := renderLog(msgs, 0, now)
	assert.Equal(t, 1, strings.Count(out, "Yesterday"))
	assert.Equal(t, 1, strings.Count(out, "Today"))
	assert.Less(t, strings.Index(out, "Yesterday"), strings.Index(out, "#1 "))
	assert.Less(t, strings.Index(out, "#2 "), strings.Index(out, "Today"))
}

func TestFormatDateSeparator(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, "Today", formatDateSeparator(now.Add(-time.Hour), now))
	assert.Equal(t, "Yesterday", formatDateSeparator(now.AddDate(0, 0, -1), now))
	assert.Equal(t, "February 2", formatDateSeparator(time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC), now))
	assert.Equal(t, "December 31, 2025", formatDateSeparator(time.Date(2025, 12, 31, 12, 0, 0, 0, time.UTC), now))
}

func TestConversationItem(t *testing.T) {
	now := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	conv := models.Conversation{
		ID:           3,
		Participants: []models.User{{ID: 7, Username: "ali"}, {ID: 9, Username: "sara"}},
		LastMessage: &models.Message{
			ID:        42,
			Content:   "see you at the final table tonight",
			Timestamp: now.Add(-2 * time.Hour),
		},
	}

	main, secondary := conversationItem(conv, 7, true, now)
	assert.Equal(t, "▶ #3 sara", main)
	assert.Contains(t, secondary, "see you at the fi…")
	assert.Contains(t, secondary, "2 hours ago")

	conv.LastMessage = nil
	main, secondary = conversationItem(conv, 7, false, now)
	assert.Equal(t, "  #3 sara", main)
	assert.Contains(t, secondary, "no messages yet")
}

func TestConversationItemShowsTombstone(t *testing.T) {
	conv := models.Conversation{
		ID:           4,
		Participants: []models.User{{ID: 12, Username: "reza"}},
		LastMessage:  &models.Message{ID: 1, Content: "oops", IsDeleted: true},
	}
	_, secondary := conversationItem(conv, 7, false, time.Now())
	assert.NotContains(t, secondary, "oops")
	assert.NotContains(t, secondary, "·")
}

func TestConnectionText(t *testing.T) {
	assert.Contains(t, connectionText(channel.Open, "http://localhost:8000"), "connected")
	assert.Contains(t, connectionText(channel.Error, "x"), "error")
	assert.Contains(t, connectionText(channel.State("bogus"), "x"), "closed")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "a b", preview("a\n  b", 10))
	assert.Equal(t, "abcd…", preview("abcdefgh", 5))
}
