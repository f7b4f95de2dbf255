// Package ui is the terminal front end of the chat client. App implements
// controller.View; every user action is handed to Actions on its own
// goroutine so the event loop never waits on the network.
package ui

import (
	"context"
	"errors"
	"sync"
	"time"

	"tourchat/client/channel"
	"tourchat/client/chatlog"
	"tourchat/models"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var errNoActions = errors.New("ui: no actions attached")

// Actions is what the UI can ask of the chat session.
type Actions interface {
	Bootstrap(ctx context.Context) error
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, username, password string) error
	Logout() error
	ReloadConversations(ctx context.Context) error
	SelectConversation(ctx context.Context, id int64) error
	SendMessage(content string) error
	CreateConversation(ctx context.Context, recipientID int64, content string) error
	InputChanged()
}

// App is the main application
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	actions   Actions
	serverURL string
	ctx       context.Context

	mu       sync.Mutex
	user     models.User
	convs    []models.Conversation
	activeID int64
	messages []models.Message
	viewerID int64
	handlers chatlog.Handlers
	status   channel.State

	authStatus *tview.TextView
	convList   *tview.List
	chatView   *tview.TextView
	typingView *tview.TextView
	input      *tview.InputField
	connView   *tview.TextView
	statusBar  *tview.TextView

	ticker     *time.Ticker
	tickerDone chan struct{}
}

// New builds every screen up front so the View methods can be called
// before Run.
func New(serverURL string) *App {
	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		serverURL: serverURL,
		ctx:       context.Background(),
		status:    channel.Closed,
	}

	background := tview.NewBox()
	background.SetBackgroundColor(tcell.NewRGBColor(64, 64, 64))
	a.pages.AddPage("background", background, true, true)
	a.pages.AddPage("main", a.createMainPage(), true, false)
	a.pages.AddPage("auth", a.createAuthPage(), true, true)
	return a
}

// Attach sets the receiver of user actions. It must be called before Run.
func (a *App) Attach(actions Actions) {
	a.actions = actions
}

// Run starts the event loop and restores any cached session. It returns
// when the user quits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.actions == nil {
		return errNoActions
	}
	a.ctx = ctx

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			a.app.Stop()
		case <-stop:
		}
	}()

	go a.actions.Bootstrap(ctx)
	a.startTicker()
	defer a.stopTicker()

	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// quit exits the application
func (a *App) quit() {
	a.app.Stop()
}

// queue runs fn on the event loop and redraws.
func (a *App) queue(fn func()) {
	a.app.QueueUpdateDraw(fn)
}
