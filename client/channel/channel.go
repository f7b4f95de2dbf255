// Package channel is the realtime link to one conversation. Each Conn owns
// a single goroutine that dials, reads and delivers callbacks, so observers
// see statuses and events in arrival order.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tourchat/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type State string

const (
	Connecting State = "connecting"
	Open       State = "open"
	Closed     State = "closed"
	Error      State = "error"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 64 << 10
)

// Observer receives everything a Conn reports. Either field may be nil.
// Callbacks run one at a time and must not call Close on their own Conn;
// Close waits for a running callback to return.
type Observer struct {
	OnEvent  func(protocol.Event)
	OnStatus func(State)
}

type TokenSource interface {
	Token() string
}

// Client opens channels against one server.
type Client struct {
	baseURL string
	tokens  TokenSource
	dialer  *websocket.Dialer
	log     *zap.Logger
}

func New(baseURL string, handshakeTimeout time.Duration, tokens TokenSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log: log,
	}
}

// ChatURL maps the server base URL onto the channel endpoint of a
// conversation, switching http to ws and https to wss.
func ChatURL(baseURL string, conversationID int64) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + strconv.FormatInt(conversationID, 10) + "/"
	u.RawQuery = ""
	return u.String(), nil
}

// Conn is one channel handle. It never reconnects.
type Conn struct {
	conversationID int64
	client         *Client
	obs            Observer
	cancel         context.CancelFunc
	done           chan struct{}

	mu     sync.Mutex
	state  State
	ws     *websocket.Conn
	closed bool

	writeMu sync.Mutex

	// cbMu is held across the closed check and the observer call.
	cbMu sync.Mutex
}

// Open reports Connecting before it returns and dials in the background.
func (c *Client) Open(conversationID int64, obs Observer) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		conversationID: conversationID,
		client:         c,
		obs:            obs,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	conn.report(Connecting)
	go conn.run(ctx)
	return conn
}

func (c *Conn) ConversationID() int64 {
	return c.conversationID
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the background goroutine has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes f if the channel is open. It reports false, without error
// detail, when the frame could not be written.
func (c *Conn) Send(f protocol.Frame) bool {
	c.mu.Lock()
	ws := c.ws
	open := c.state == Open && !c.closed
	c.mu.Unlock()
	if !open {
		return false
	}

	data, err := protocol.Encode(f)
	if err != nil {
		c.client.log.Error("encode frame", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.client.log.Debug("send failed", zap.Int64("conversation", c.conversationID), zap.Error(err))
		return false
	}
	return true
}

// Close is idempotent and does not wait for the reader to exit. It waits
// for a callback already in progress, so once it returns no callback of
// this handle runs or starts.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = Closed
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}

	c.cbMu.Lock()
	c.cbMu.Unlock()
}

func (c *Conn) report(s State) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	if c.obs.OnStatus != nil {
		c.obs.OnStatus(s)
	}
}

func (c *Conn) deliver(ev protocol.Event) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	if !c.isClosed() && c.obs.OnEvent != nil {
		c.obs.OnEvent(ev)
	}
}

func (c *Conn) fail(err error) {
	c.client.log.Warn("channel failed", zap.Int64("conversation", c.conversationID), zap.Error(err))
	c.report(Error)
	c.report(Closed)
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	target, err := ChatURL(c.client.baseURL, c.conversationID)
	if err != nil {
		c.fail(err)
		return
	}

	header := http.Header{}
	if c.client.tokens != nil {
		if token := c.client.tokens.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, resp, err := c.client.dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.fail(fmt.Errorf("dial %s: %w", target, err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	c.report(Open)
	c.client.log.Debug("channel open", zap.Int64("conversation", c.conversationID))

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(ws, stopPing)

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			switch {
			case c.isClosed():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.report(Closed)
			default:
				c.fail(err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := protocol.Decode(data)
		if err != nil {
			c.client.log.Debug("dropping frame", zap.Int64("conversation", c.conversationID), zap.Error(err))
			continue
		}
		c.deliver(ev)
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
