package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func (a *App) createAuthPage() tview.Primitive {
	form := tview.NewForm()
	form.SetBackgroundColor(ColorBg)
	form.SetFieldBackgroundColor(ColorField)
	form.SetFieldTextColor(ColorFg)
	form.SetLabelColor(ColorHighlight)
	form.SetButtonBackgroundColor(ColorBar)
	form.SetButtonTextColor(ColorTitle)
	form.SetBorder(true)
	form.SetBorderColor(ColorBorder)
	form.SetTitle(fmt.Sprintf(" tourchat ─ %s ", a.serverURL))
	form.SetTitleColor(ColorTitle)

	a.authStatus = tview.NewTextView()
	a.authStatus.SetBackgroundColor(ColorBg)
	a.authStatus.SetTextColor(tcell.ColorRed)
	a.authStatus.SetTextAlign(tview.AlignCenter)
	a.authStatus.SetDynamicColors(true)

	loginField := tview.NewInputField()
	loginField.SetLabel("Username: ")
	loginField.SetFieldWidth(30)
	loginField.SetBackgroundColor(ColorBg)

	passwordField := tview.NewInputField()
	passwordField.SetLabel("Password: ")
	passwordField.SetFieldWidth(30)
	passwordField.SetMaskCharacter('*')
	passwordField.SetBackgroundColor(ColorBg)

	form.AddFormItem(loginField)
	form.AddFormItem(passwordField)

	submit := func(register bool) {
		login := loginField.GetText()
		password := passwordField.GetText()
		if login == "" || password == "" {
			a.authStatus.SetText(tagError + "Please enter username and password" + tagReset)
			return
		}
		passwordField.SetText("")
		if register {
			a.authStatus.SetText(tagMuted + "Registering..." + tagReset)
			go a.actions.Register(a.ctx, login, password)
		} else {
			a.authStatus.SetText(tagMuted + "Authenticating..." + tagReset)
			go a.actions.Login(a.ctx, login, password)
		}
	}

	form.AddButton("Login", func() { submit(false) })
	form.AddButton("Register", func() { submit(true) })
	form.AddButton("Quit", a.quit)

	formFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(form, 0, 1, true).
		AddItem(a.authStatus, 2, 0, false)

	width := 56
	height := 13

	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			AddItem(nil, 0, 1, false).
			AddItem(formFlex, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
}
