package channel

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tourchat/protocol"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

type recorder struct {
	mu       sync.Mutex
	statuses []State
	events   []protocol.Event
}

func (r *recorder) observer() Observer {
	return Observer{
		OnEvent: func(ev protocol.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
		OnStatus: func(s State) {
			r.mu.Lock()
			r.statuses = append(r.statuses, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]State, []protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.statuses...), append([]protocol.Event(nil), r.events...)
}

var upgrader = websocket.Upgrader{}

func chatServer(t *testing.T, handle func(ws *websocket.Conn)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/ws/chat/3/" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func waitDone(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel goroutine did not exit")
	}
}

func TestChatURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/ws/chat/3/"},
		{"https://play.example.com/", "wss://play.example.com/ws/chat/3/"},
		{"https://example.com/tour", "wss://example.com/tour/ws/chat/3/"},
	}
	for _, tt := range tests {
		got, err := ChatURL(tt.base, 3)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ChatURL("ftp://example.com", 3)
	assert.Error(t, err)
}

func TestEventsArriveInOrder(t *testing.T) {
	ts := chatServer(t, func(ws *websocket.Conn) {
		typing, _ := protocol.EncodeEvent(protocol.TypingEvent{User: "sara", IsTyping: true})
		ws.WriteMessage(websocket.TextMessage, typing)
		ws.WriteMessage(websocket.TextMessage, []byte("garbage"))

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			return
		}
		echo, _ := protocol.EncodeEvent(protocol.MessageEvent{
			ID:      101,
			Sender:  "ali",
			Content: frame.(protocol.ChatMessage).Message,
		})
		ws.WriteMessage(websocket.TextMessage, echo)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ws.ReadMessage()
	})

	rec := &recorder{}
	conn := New(ts.URL, time.Second, staticToken("tok"), nil).Open(3, rec.observer())
	assert.Equal(t, int64(3), conn.ConversationID())

	require.Eventually(t, func() bool { return conn.State() == Open }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, conn.Send(protocol.ChatMessage{Message: "gg"}))

	waitDone(t, conn)
	statuses, events := rec.snapshot()
	assert.Equal(t, []State{Connecting, Open, Closed}, statuses)
	require.Len(t, events, 2)
	assert.Equal(t, protocol.TypingEvent{User: "sara", IsTyping: true}, events[0])
	assert.Equal(t, "gg", events[1].(protocol.MessageEvent).Content)

	assert.False(t, conn.Send(protocol.ChatMessage{Message: "late"}))
	conn.Close()
}

func TestDialFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	rec := &recorder{}
	conn := New(base, time.Second, staticToken("tok"), nil).Open(3, rec.observer())
	waitDone(t, conn)

	statuses, _ := rec.snapshot()
	assert.Equal(t, []State{Connecting, Error, Closed}, statuses)
	assert.Equal(t, Closed, conn.State())
	assert.False(t, conn.Send(protocol.Typing{IsTyping: true}))
}

func TestRejectedHandshake(t *testing.T) {
	ts := chatServer(t, func(ws *websocket.Conn) {})

	rec := &recorder{}
	conn := New(ts.URL, time.Second, staticToken("wrong"), nil).Open(3, rec.observer())
	waitDone(t, conn)

	statuses, _ := rec.snapshot()
	assert.Equal(t, []State{Connecting, Error, Closed}, statuses)
}

func TestAbnormalDropReportsError(t *testing.T) {
	ts := chatServer(t, func(ws *websocket.Conn) {
		ws.UnderlyingConn().Close()
	})

	rec := &recorder{}
	conn := New(ts.URL, time.Second, staticToken("tok"), nil).Open(3, rec.observer())
	waitDone(t, conn)

	statuses, _ := rec.snapshot()
	assert.Equal(t, []State{Connecting, Open, Error, Closed}, statuses)
}

func TestCloseStopsCallbacks(t *testing.T) {
	ts := chatServer(t, func(ws *websocket.Conn) {
		typing, _ := protocol.EncodeEvent(protocol.TypingEvent{User: "sara", IsTyping: true})
		for {
			ws.SetWriteDeadline(time.Now().Add(time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, typing); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	rec := &recorder{}
	conn := New(ts.URL, time.Second, staticToken("tok"), nil).Open(3, rec.observer())
	require.Eventually(t, func() bool {
		_, events := rec.snapshot()
		return len(events) > 0
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	conn.Close()
	_, eventsAtClose := rec.snapshot()
	waitDone(t, conn)

	statuses, events := rec.snapshot()
	assert.Equal(t, []State{Connecting, Open}, statuses)
	assert.Equal(t, len(eventsAtClose), len(events))
	assert.Equal(t, Closed, conn.State())
}

func TestNoEventAfterCloseReturns(t *testing.T) {
	ts := chatServer(t, func(ws *websocket.Conn) {
		typing, _ := protocol.EncodeEvent(protocol.TypingEvent{User: "sara", IsTyping: true})
		for {
			ws.SetWriteDeadline(time.Now().Add(time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, typing); err != nil {
				return
			}
		}
	})
	client := New(ts.URL, time.Second, staticToken("tok"), nil)

	for i := 0; i < 50; i++ {
		var closed, late atomic.Int32
		received := make(chan struct{}, 1)
		conn := client.Open(3, Observer{
			OnEvent: func(protocol.Event) {
				if closed.Load() == 1 {
					late.Add(1)
				}
				select {
				case received <- struct{}{}:
				default:
				}
			},
		})

		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("no event before close")
		}
		conn.Close()
		closed.Store(1)
		waitDone(t, conn)

		require.Zero(t, late.Load(), "iteration %d", i)
	}
}
