package ui

import (
	"fmt"
	"strings"
	"time"

	"tourchat/client/chatlog"
	"tourchat/client/controller"
	"tourchat/models"

	"github.com/rivo/tview"
)

func (a *App) RenderMessages(msgs []models.Message, currentUserID int64, h chatlog.Handlers) {
	a.mu.Lock()
	a.messages = msgs
	a.viewerID = currentUserID
	a.handlers = h
	a.mu.Unlock()

	a.queue(a.refreshChatView)
}

func (a *App) SetTitle(title string) {
	a.queue(func() {
		a.chatView.SetTitle(" " + tview.Escape(title) + " ")
	})
}

func (a *App) SetTyping(text string) {
	a.queue(func() {
		if text == "" {
			a.typingView.SetText("")
			return
		}
		a.typingView.SetText(" " + tagMuted + tview.Escape(text) + tagReset)
	})
}

func (a *App) refreshChatView() {
	a.mu.Lock()
	msgs := a.messages
	userID := a.viewerID
	a.mu.Unlock()

	a.chatView.SetText(renderLog(msgs, userID, time.Now()))
	a.chatView.ScrollToEnd()
}

// renderLog lays out the whole history with a label at every change of day.
func renderLog(msgs []models.Message, currentUserID int64, now time.Time) string {
	var sb strings.Builder
	var lastDate string

	for _, m := range msgs {
		if !m.Timestamp.IsZero() {
			date := m.Timestamp.In(now.Location()).Format("2006-01-02")
			if date != lastDate {
				fmt.Fprintf(&sb, "%s─── %s ───%s\n", tagMuted, formatDateSeparator(m.Timestamp, now), tagReset)
				lastDate = date
			}
		}
		sb.WriteString(formatMessage(m, currentUserID, now))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// formatMessage renders one message line. Message ids are shown because
// the edit, delete and attach commands address messages by id.
func formatMessage(m models.Message, currentUserID int64, now time.Time) string {
	var sb strings.Builder

	clock := "--:--"
	if !m.Timestamp.IsZero() {
		clock = m.Timestamp.In(now.Location()).Format("15:04")
	}
	name := m.Sender.Username
	if name == "" {
		name = "unknown"
	}
	color := tagOther
	if currentUserID != 0 && m.Sender.ID == currentUserID {
		color = tagOwn
	}

	fmt.Fprintf(&sb, "%s#%d %s%s %s%s%s: ", tagMuted, m.ID, clock, tagReset, color, tview.Escape(name), tagReset)

	if m.IsDeleted {
		sb.WriteString(tagDeleted + tview.Escape(chatlog.Display(m)) + tagReset)
		return sb.String()
	}

	sb.WriteString(tview.Escape(m.Content))
	if m.IsEdited {
		sb.WriteString(" " + tagEdited + "(edited)" + tagReset)
	}
	for _, att := range m.Attachments {
		fmt.Fprintf(&sb, "\n      %s+ %s%s", tagAttach, tview.Escape(att.File), tagReset)
	}
	return sb.String()
}

// submit handles one line from the message input. It runs on the event
// loop, so every action that may block is started on its own goroutine.
func (a *App) submit(line string) {
	cmd, err := parseCommand(line)
	if err != nil {
		a.showError(err)
		return
	}

	a.mu.Lock()
	h := a.handlers
	a.mu.Unlock()

	switch cmd.name {
	case "send":
		go a.actions.SendMessage(cmd.text)
	case "new":
		go a.actions.CreateConversation(a.ctx, cmd.id, cmd.text)
	case "edit":
		if h.Edit == nil {
			a.showError(controller.ErrNotLoggedIn)
			return
		}
		go h.Edit(cmd.id, cmd.text)
	case "delete":
		if h.Delete == nil {
			a.showError(controller.ErrNotLoggedIn)
			return
		}
		go h.Delete(cmd.id)
	case "attach":
		if h.Attach == nil {
			a.showError(controller.ErrNotLoggedIn)
			return
		}
		a.statusBar.SetText(fmt.Sprintf(" Uploading %s... ", tview.Escape(cmd.text)))
		go h.Attach(cmd.id, cmd.text)
	case "reload":
		go a.actions.ReloadConversations(a.ctx)
	case "logout":
		go a.actions.Logout()
	case "quit":
		a.quit()
	case "help":
		a.showHelp()
	}
}
