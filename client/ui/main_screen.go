package ui

import (
	"strings"

	"tourchat/client/controller"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const mainKeys = " Enter:Send | Tab:Switch | PgUp/PgDn:Scroll | F1:Help | F5:Reload | F8:Logout | F10:Quit "

func (a *App) createMainPage() tview.Primitive {
	// Conversations on the left
	a.convList = tview.NewList()
	a.convList.SetBorder(true)
	a.convList.SetBorderColor(ColorBorder)
	a.convList.SetBackgroundColor(ColorBg)
	a.convList.SetTitle(" Conversations ")
	a.convList.SetTitleColor(ColorTitle)
	a.convList.SetMainTextColor(ColorFg)
	a.convList.SetMainTextStyle(tcell.StyleDefault.Foreground(ColorFg).Background(ColorBg))
	a.convList.SetSecondaryTextColor(tcell.ColorGray)
	a.convList.SetSelectedTextColor(ColorTitle)
	a.convList.SetSelectedBackgroundColor(ColorBar)
	a.convList.SetHighlightFullLine(true)
	a.convList.ShowSecondaryText(true)

	a.convList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		a.mu.Lock()
		if index >= len(a.convs) {
			a.mu.Unlock()
			return
		}
		id := a.convs[index].ID
		a.mu.Unlock()

		go a.actions.SelectConversation(a.ctx, id)
		a.app.SetFocus(a.input)
	})

	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(" " + controller.DefaultTitle + " ")
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)
	a.chatView.SetWordWrap(true)

	a.typingView = tview.NewTextView()
	a.typingView.SetBackgroundColor(ColorBg)
	a.typingView.SetTextColor(tcell.ColorGray)
	a.typingView.SetDynamicColors(true)

	a.input = tview.NewInputField()
	a.input.SetLabel("> ")
	a.input.SetFieldWidth(0)
	a.input.SetBackgroundColor(ColorBg)
	a.input.SetFieldBackgroundColor(ColorField)
	a.input.SetFieldTextColor(ColorFg)
	a.input.SetLabelColor(ColorHighlight)
	a.input.SetBorder(true)
	a.input.SetBorderColor(ColorBorder)
	a.input.SetTitle(" Message ")
	a.input.SetTitleColor(ColorTitle)

	a.input.SetChangedFunc(func(text string) {
		if text == "" || strings.HasPrefix(text, "/") {
			return
		}
		go a.actions.InputChanged()
	})
	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		a.input.SetText("")
		a.submit(text)
	})

	a.connView = tview.NewTextView()
	a.connView.SetBackgroundColor(ColorBg)
	a.connView.SetDynamicColors(true)
	a.connView.SetTextAlign(tview.AlignRight)

	a.statusBar = tview.NewTextView()
	a.statusBar.SetBackgroundColor(ColorBar)
	a.statusBar.SetTextColor(ColorTitle)
	a.statusBar.SetTextAlign(tview.AlignCenter)
	a.statusBar.SetDynamicColors(true)
	a.statusBar.SetText(mainKeys)

	chatColumn := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.typingView, 1, 0, false).
		AddItem(a.input, 3, 0, true)

	body := tview.NewFlex().
		AddItem(a.convList, 34, 0, false).
		AddItem(chatColumn, 0, 1, true)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(a.connView, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	mainFlex.SetBackgroundColor(ColorBg)
	a.renderConnection()

	mainFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			a.showHelp()
			return nil
		case tcell.KeyF5:
			go a.actions.ReloadConversations(a.ctx)
			return nil
		case tcell.KeyF8:
			go a.actions.Logout()
			return nil
		case tcell.KeyF10:
			a.quit()
			return nil
		case tcell.KeyTab:
			if a.input.HasFocus() {
				a.app.SetFocus(a.convList)
			} else {
				a.app.SetFocus(a.input)
			}
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		}
		return event
	})

	return mainFlex
}

// showHelp lists the slash commands in the status bar until the next
// notification.
func (a *App) showHelp() {
	a.statusBar.SetText(" " + commandHelp + " ")
}
