// Package controller drives the chat client: sign-in, conversation
// selection, the realtime channel and the typing signal.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tourchat/client/api"
	"tourchat/client/channel"
	"tourchat/client/chatlog"
	"tourchat/client/session"
	"tourchat/models"
	"tourchat/protocol"

	"go.uber.org/zap"
)

var (
	ErrEmptyMessage        = errors.New("message is empty")
	ErrMissingRecipient    = errors.New("recipient is required")
	ErrMissingCredentials  = errors.New("username and password are required")
	ErrNotConnected        = errors.New("chat connection is not open")
	ErrNotLoggedIn         = errors.New("log in first")
	ErrNoConversation      = errors.New("no conversation selected")
	ErrUnknownConversation = errors.New("unknown conversation")
)

const (
	DefaultTitle       = "No conversation selected"
	DefaultQuietPeriod = 1200 * time.Millisecond
)

// View is whatever presents the chat. Implementations must not call back
// into the Controller synchronously.
type View interface {
	SetUser(u models.User)
	RenderConversations(convs []models.Conversation, activeID int64)
	RenderMessages(msgs []models.Message, currentUserID int64, h chatlog.Handlers)
	SetTitle(title string)
	SetTyping(text string)
	SetStatus(s channel.State)
	Notify(err error)
}

type API interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) (models.User, error)
	Me(ctx context.Context) (models.User, error)
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID int64) ([]models.Message, error)
	CreateConversation(ctx context.Context, recipientID int64, content string) (models.Message, error)
	UploadAttachment(ctx context.Context, conversationID, messageID int64, name string, r io.Reader) (models.Attachment, error)
}

// Channel is an open realtime handle.
type Channel interface {
	Send(f protocol.Frame) bool
	Close()
	ConversationID() int64
}

type Transport interface {
	Open(conversationID int64, obs channel.Observer) Channel
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(conversationID int64, obs channel.Observer) Channel

func (f TransportFunc) Open(conversationID int64, obs channel.Observer) Channel {
	return f(conversationID, obs)
}

type Options struct {
	Store             *session.Store
	API               API
	Transport         Transport
	View              View
	Logger            *zap.Logger
	TypingQuietPeriod time.Duration
}

type Controller struct {
	store     *session.Store
	log       *chatlog.Log
	api       API
	transport Transport
	view      View
	logger    *zap.Logger
	quiet     time.Duration

	// selMu serializes selection and logout.
	selMu sync.Mutex

	// typingMu keeps typing frames in order. Frames are sent with it held
	// and mu released, so a slow socket never stalls event handling.
	typingMu sync.Mutex

	// mu guards the fields below and is held while channel events are
	// applied, so an event can never land in a newer selection's log.
	mu        sync.Mutex
	gen       uint64
	conn      Channel
	status    channel.State
	cancelSel context.CancelFunc
	typing    bool
	typingSeq uint64
}

func New(opts Options) *Controller {
	c := &Controller{
		store:     opts.Store,
		api:       opts.API,
		transport: opts.Transport,
		view:      opts.View,
		logger:    opts.Logger,
		quiet:     opts.TypingQuietPeriod,
		status:    channel.Closed,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.quiet <= 0 {
		c.quiet = DefaultQuietPeriod
	}
	c.log = chatlog.New(c.view.RenderMessages)
	return c
}

// Messages returns the current log.
func (c *Controller) Messages() []models.Message {
	return c.log.Snapshot()
}

func (c *Controller) fail(err error) error {
	c.view.Notify(err)
	return err
}

// failAuth is fail for calls made on behalf of the whole session: a 401
// means the stored token is dead, so the session is discarded.
func (c *Controller) failAuth(err error) error {
	if api.IsUnauthorized(err) {
		c.logger.Info("token rejected, signing out")
		c.Logout()
	}
	return c.fail(err)
}

// Bootstrap restores a cached session.
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.view.SetStatus(channel.Closed)
	c.view.SetTitle(DefaultTitle)
	if c.store.Token() == "" {
		c.view.SetUser(models.User{})
		return nil
	}
	return c.hydrate(ctx)
}

func (c *Controller) Login(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return c.fail(ErrMissingCredentials)
	}

	token, err := c.api.Login(ctx, username, password)
	if err != nil {
		return c.fail(fmt.Errorf("login: %w", err))
	}
	if err := c.store.SetToken(token); err != nil {
		c.logger.Warn("token not persisted", zap.Error(err))
	}
	return c.hydrate(ctx)
}

func (c *Controller) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return c.fail(ErrMissingCredentials)
	}
	if _, err := c.api.Register(ctx, username, password); err != nil {
		return c.fail(fmt.Errorf("register: %w", err))
	}
	return c.Login(ctx, username, password)
}

func (c *Controller) hydrate(ctx context.Context) error {
	u, err := c.api.Me(ctx)
	if err != nil {
		c.view.SetUser(models.User{})
		return c.failAuth(fmt.Errorf("load profile: %w", err))
	}

	c.store.SetUser(u)
	c.log.Bind(u.ID, c.handlers())
	c.view.SetUser(u)
	c.logger.Info("signed in", zap.String("user", u.Username))

	return c.ReloadConversations(ctx)
}

// Logout drops the session and returns every view to its empty state.
func (c *Controller) Logout() error {
	c.mu.Lock()
	if c.cancelSel != nil {
		c.cancelSel()
	}
	c.mu.Unlock()

	c.selMu.Lock()
	defer c.selMu.Unlock()

	c.mu.Lock()
	old := c.detachLocked()
	c.status = channel.Closed
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	err := c.store.Reset()
	c.log.Reset()

	c.view.SetUser(models.User{})
	c.view.RenderConversations(nil, 0)
	c.view.SetTitle(DefaultTitle)
	c.view.SetTyping("")
	c.view.SetStatus(channel.Closed)

	if err != nil {
		return c.fail(fmt.Errorf("clear session: %w", err))
	}
	return nil
}

// detachLocked starts a new generation: the current channel, selection
// context and typing timer are abandoned. The caller closes the returned
// channel after releasing mu.
func (c *Controller) detachLocked() Channel {
	c.gen++
	c.typing = false
	c.typingSeq++
	if c.cancelSel != nil {
		c.cancelSel()
		c.cancelSel = nil
	}
	old := c.conn
	c.conn = nil
	return old
}

func (c *Controller) ReloadConversations(ctx context.Context) error {
	if c.store.Token() == "" {
		return c.fail(ErrNotLoggedIn)
	}

	convs, err := c.api.Conversations(ctx)
	if err != nil {
		return c.failAuth(fmt.Errorf("load conversations: %w", err))
	}
	c.store.SetConversations(convs)
	c.view.RenderConversations(c.store.Conversations(), c.store.Active())
	return nil
}

// SelectConversation loads a conversation's history and moves the channel
// to it. Requests of the previous selection are cancelled and its channel
// is closed before the new one opens.
func (c *Controller) SelectConversation(ctx context.Context, id int64) error {
	c.mu.Lock()
	if c.cancelSel != nil {
		c.cancelSel()
	}
	c.mu.Unlock()

	c.selMu.Lock()
	defer c.selMu.Unlock()

	if c.store.Token() == "" {
		return c.fail(ErrNotLoggedIn)
	}
	conv, ok := c.store.Conversation(id)
	if !ok {
		return c.fail(fmt.Errorf("%w: %d", ErrUnknownConversation, id))
	}

	selCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	old := c.detachLocked()
	gen := c.gen
	c.cancelSel = cancel
	c.status = channel.Closed
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	c.store.SetActive(id)
	c.view.SetTitle(Title(conv, c.store.User().ID))
	c.view.SetTyping("")
	c.view.RenderConversations(c.store.Conversations(), id)

	msgs, err := c.api.Messages(selCtx, id)
	if err != nil && selCtx.Err() != nil {
		return selCtx.Err()
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return context.Canceled
	}
	c.log.Replace(id, msgs)
	c.mu.Unlock()

	if err != nil {
		// The channel still opens so new messages show up.
		c.fail(fmt.Errorf("load history: %w", err))
	}

	conn := c.transport.Open(id, c.observer(gen))

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		conn.Close()
		return context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug("conversation selected", zap.Int64("conversation", id))
	return err
}

func (c *Controller) observer(gen uint64) channel.Observer {
	return channel.Observer{
		OnEvent:  func(ev protocol.Event) { c.handleEvent(gen, ev) },
		OnStatus: func(s channel.State) { c.handleStatus(gen, s) },
	}
}

func (c *Controller) handleStatus(gen uint64, s channel.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.status = s
	if s != channel.Open {
		c.typing = false
		c.typingSeq++
	}
	c.view.SetStatus(s)
}

func (c *Controller) handleEvent(gen uint64, ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}

	switch ev := ev.(type) {
	case protocol.TypingEvent:
		if ev.IsTyping {
			c.view.SetTyping(TypingText(ev.User))
		} else {
			c.view.SetTyping("")
		}
	case protocol.EditedEvent:
		c.log.Edit(ev.ID, ev.Content)
	case protocol.DeletedEvent:
		c.log.Delete(ev.MessageID)
	case protocol.MessageEvent:
		self := c.store.User()
		msg, ok := c.log.Append(ev, &self)
		if !ok {
			return
		}
		if c.store.TouchLastMessage(msg.ConversationID, msg) {
			c.view.RenderConversations(c.store.Conversations(), c.store.Active())
		}
	}
}

func (c *Controller) openConn() Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != channel.Open {
		return nil
	}
	return c.conn
}

func (c *Controller) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return c.fail(ErrEmptyMessage)
	}
	conn := c.openConn()
	if conn == nil || !conn.Send(protocol.ChatMessage{Message: content}) {
		return c.fail(ErrNotConnected)
	}
	return nil
}

// EditMessage asks the server to change a message. The log changes only
// when the server's edit event comes back.
func (c *Controller) EditMessage(id int64, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return c.fail(ErrEmptyMessage)
	}
	conn := c.openConn()
	if conn == nil || !conn.Send(protocol.EditMessage{MessageID: id, Content: content}) {
		return c.fail(ErrNotConnected)
	}
	return nil
}

func (c *Controller) DeleteMessage(id int64) error {
	conn := c.openConn()
	if conn == nil || !conn.Send(protocol.DeleteMessage{MessageID: id}) {
		return c.fail(ErrNotConnected)
	}
	return nil
}

// AttachFile uploads r to a message of the active conversation and reloads
// its history.
func (c *Controller) AttachFile(ctx context.Context, messageID int64, name string, r io.Reader) error {
	active := c.store.Active()
	if active == 0 {
		return c.fail(ErrNoConversation)
	}

	if _, err := c.api.UploadAttachment(ctx, active, messageID, name, r); err != nil {
		return c.fail(fmt.Errorf("upload attachment: %w", err))
	}

	msgs, err := c.api.Messages(ctx, active)
	if err != nil {
		return c.fail(fmt.Errorf("load history: %w", err))
	}

	c.mu.Lock()
	if c.store.Active() == active {
		c.log.Replace(active, msgs)
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) attachPath(messageID int64, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return c.fail(fmt.Errorf("open attachment: %w", err))
	}
	defer f.Close()
	return c.AttachFile(context.Background(), messageID, filepath.Base(path), f)
}

func (c *Controller) handlers() chatlog.Handlers {
	return chatlog.Handlers{
		Edit:   c.EditMessage,
		Delete: c.DeleteMessage,
		Attach: c.attachPath,
	}
}

// CreateConversation sends a first message to recipientID and switches to
// the newest conversation that includes the recipient.
func (c *Controller) CreateConversation(ctx context.Context, recipientID int64, content string) error {
	if c.store.Token() == "" {
		return c.fail(ErrNotLoggedIn)
	}
	if recipientID <= 0 {
		return c.fail(ErrMissingRecipient)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return c.fail(ErrEmptyMessage)
	}

	if _, err := c.api.CreateConversation(ctx, recipientID, content); err != nil {
		return c.fail(fmt.Errorf("start conversation: %w", err))
	}
	if err := c.ReloadConversations(ctx); err != nil {
		return err
	}

	var candidates []models.Conversation
	for _, conv := range c.store.Conversations() {
		if conv.HasParticipant(recipientID) {
			candidates = append(candidates, conv)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID > candidates[j].ID })
	return c.SelectConversation(ctx, candidates[0].ID)
}

// Title names a conversation for its header.
func Title(conv models.Conversation, selfID int64) string {
	var others []string
	for _, p := range conv.Participants {
		if p.ID != selfID {
			others = append(others, p.Username)
		}
	}
	if len(others) == 0 {
		return fmt.Sprintf("Conversation #%d", conv.ID)
	}
	return fmt.Sprintf("Conversation #%d with %s", conv.ID, strings.Join(others, ", "))
}

func TypingText(user string) string {
	return user + " is typing..."
}
