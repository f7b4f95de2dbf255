package ui

import (
	"fmt"
	"time"

	"tourchat/client/channel"
	"tourchat/models"

	"github.com/rivo/tview"
)

// SetUser shows the chat screen for a signed-in user and the sign-in form
// otherwise.
func (a *App) SetUser(u models.User) {
	a.mu.Lock()
	a.user = u
	if !u.Resolved() {
		a.messages = nil
		a.convs = nil
	}
	a.mu.Unlock()

	a.queue(func() {
		if !u.Resolved() {
			a.input.SetText("")
			a.chatView.Clear()
			a.pages.SwitchToPage("auth")
			return
		}
		a.authStatus.SetText("")
		a.convList.SetTitle(fmt.Sprintf(" Conversations [%s] ", tview.Escape(u.Username)))
		a.statusBar.SetText(mainKeys)
		a.pages.SwitchToPage("main")
		a.app.SetFocus(a.convList)
	})
}

func (a *App) SetStatus(s channel.State) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()

	a.queue(a.renderConnection)
}

// Notify shows err on whichever screen is visible.
func (a *App) Notify(err error) {
	if err == nil {
		return
	}
	a.queue(func() { a.showError(err) })
}

func (a *App) showError(err error) {
	text := tagError + tview.Escape(err.Error()) + tagReset
	a.authStatus.SetText(text)
	a.statusBar.SetText(" " + text + " ")
}

func (a *App) renderConnection() {
	a.mu.Lock()
	s := a.status
	a.mu.Unlock()

	a.connView.SetText(connectionText(s, a.serverURL) + " ")
}

func connectionText(s channel.State, server string) string {
	style, ok := statusStyles[s]
	if !ok {
		style = statusStyles[channel.Closed]
	}
	return fmt.Sprintf("%s%s%s %s│ %s%s", style.tag, style.label, tagReset, tagMuted, tview.Escape(server), tagReset)
}

// startTicker keeps the relative message ages in the conversation list
// current.
func (a *App) startTicker() {
	if a.ticker != nil {
		return
	}
	a.tickerDone = make(chan struct{})
	a.ticker = time.NewTicker(30 * time.Second)
	go func() {
		for {
			select {
			case <-a.tickerDone:
				return
			case <-a.ticker.C:
				a.queue(a.refreshConversations)
			}
		}
	}()
}

func (a *App) stopTicker() {
	if a.ticker != nil {
		a.ticker.Stop()
		close(a.tickerDone)
		a.ticker = nil
	}
}
