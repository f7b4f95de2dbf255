package ui

import (
	"fmt"
	"strings"
	"time"

	"tourchat/client/chatlog"
	"tourchat/models"

	"github.com/rivo/tview"
)

func (a *App) RenderConversations(convs []models.Conversation, activeID int64) {
	a.mu.Lock()
	a.convs = convs
	a.activeID = activeID
	a.mu.Unlock()

	a.queue(a.refreshConversations)
}

func (a *App) refreshConversations() {
	a.mu.Lock()
	convs := a.convs
	activeID := a.activeID
	selfID := a.user.ID
	a.mu.Unlock()

	now := time.Now()
	a.convList.Clear()
	current := -1
	for i, conv := range convs {
		main, secondary := conversationItem(conv, selfID, conv.ID == activeID, now)
		a.convList.AddItem(main, secondary, 0, nil)
		if conv.ID == activeID {
			current = i
		}
	}
	if current >= 0 {
		a.convList.SetCurrentItem(current)
	}
}

// conversationItem returns the list entry for conv: the id and the other
// participants, then a preview of the last message and its age.
func conversationItem(conv models.Conversation, selfID int64, active bool, now time.Time) (string, string) {
	var others []string
	for _, p := range conv.Participants {
		if p.ID != selfID {
			others = append(others, p.Username)
		}
	}
	who := strings.Join(others, ", ")
	if who == "" {
		who = "(just you)"
	}

	marker := " "
	if active {
		marker = "▶"
	}
	main := fmt.Sprintf("%s #%d %s", marker, conv.ID, tview.Escape(who))

	if conv.LastMessage == nil {
		return main, "   no messages yet"
	}
	text := preview(chatlog.Display(*conv.LastMessage), 18)
	secondary := "   " + tview.Escape(text)
	if age := formatAge(conv.LastMessage.Timestamp, now); age != "" {
		secondary += " · " + age
	}
	return main, secondary
}
