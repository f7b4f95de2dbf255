package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tourchat/db"
	"tourchat/models"
	"tourchat/protocol"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxFrameSize = 64 << 10
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin admits non-browser clients, which send no Origin, and pages
// served from the server's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// peer is one channel connection bound to a single conversation.
type peer struct {
	conn           *websocket.Conn
	user           models.User
	conversationID int64
	send           chan []byte
	done           chan struct{}
	once           sync.Once
}

func newPeer(conn *websocket.Conn, user models.User, conversationID int64) *peer {
	return &peer{
		conn:           conn,
		user:           user,
		conversationID: conversationID,
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		deadline := time.Now().Add(time.Second)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = p.conn.Close()
	})
}

// enqueue hands data to the write pump. A peer whose buffer is full is
// disconnected rather than allowed to stall the room.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	case p.send <- data:
		return true
	default:
		p.close()
		return false
	}
}

func (s *Server) handleChatSocket(c *gin.Context) {
	convID, ok := s.conversationParam(c)
	if !ok {
		return
	}
	user := currentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Int64("conversation", convID), zap.Error(err))
		return
	}

	p := newPeer(conn, user, convID)
	s.join(p)
	go s.writePump(p)
	s.readPump(p)
}

func (s *Server) join(p *peer) {
	s.mu.Lock()
	room, ok := s.rooms[p.conversationID]
	if !ok {
		room = make(map[*peer]struct{})
		s.rooms[p.conversationID] = room
	}
	room[p] = struct{}{}
	s.mu.Unlock()

	s.log.Info("peer joined",
		zap.String("user", p.user.Username),
		zap.Int64("conversation", p.conversationID))
}

func (s *Server) leave(p *peer) {
	s.mu.Lock()
	if room, ok := s.rooms[p.conversationID]; ok {
		delete(room, p)
		if len(room) == 0 {
			delete(s.rooms, p.conversationID)
		}
	}
	s.mu.Unlock()
	p.close()

	s.log.Info("peer left",
		zap.String("user", p.user.Username),
		zap.Int64("conversation", p.conversationID))
}

// broadcast delivers ev to every peer in the conversation except skip.
func (s *Server) broadcast(conversationID int64, ev protocol.Event, skip *peer) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		s.log.Error("encode event", zap.Error(err))
		return
	}

	s.mu.RLock()
	targets := make([]*peer, 0, len(s.rooms[conversationID]))
	for p := range s.rooms[conversationID] {
		if p != skip {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	for _, p := range targets {
		if !p.enqueue(data) {
			s.log.Warn("dropping slow peer", zap.String("user", p.user.Username))
		}
	}
}

func (s *Server) readPump(p *peer) {
	defer s.leave(p)

	p.conn.SetReadLimit(maxFrameSize)
	extend := func() error {
		return p.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	_ = extend()
	p.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", zap.String("user", p.user.Username), zap.Error(err))
			}
			return
		}
		_ = extend()

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			s.log.Debug("dropping frame", zap.String("user", p.user.Username), zap.Error(err))
			continue
		}
		s.handleFrame(p, frame)
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(s.config.ReadTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(p *peer, frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.ChatMessage:
		if strings.TrimSpace(f.Message) == "" {
			return
		}
		msg, err := s.db.SaveMessage(p.conversationID, p.user.ID, f.Message, time.Now().UTC())
		if err != nil {
			s.log.Error("save message failed", zap.Int64("conversation", p.conversationID), zap.Error(err))
			return
		}
		s.broadcast(p.conversationID, messageEvent(msg), nil)

	case protocol.Typing:
		s.broadcast(p.conversationID, protocol.TypingEvent{User: p.user.Username, IsTyping: f.IsTyping}, p)

	case protocol.EditMessage:
		if strings.TrimSpace(f.Content) == "" || !s.ownsMessage(p, f.MessageID) {
			return
		}
		if err := s.db.EditMessage(f.MessageID, f.Content); err != nil {
			s.log.Error("edit message failed", zap.Int64("message", f.MessageID), zap.Error(err))
			return
		}
		s.broadcast(p.conversationID, protocol.EditedEvent{ID: f.MessageID, Content: f.Content}, nil)

	case protocol.DeleteMessage:
		if !s.ownsMessage(p, f.MessageID) {
			return
		}
		if err := s.db.DeleteMessage(f.MessageID); err != nil {
			s.log.Error("delete message failed", zap.Int64("message", f.MessageID), zap.Error(err))
			return
		}
		s.broadcast(p.conversationID, protocol.DeletedEvent{MessageID: f.MessageID}, nil)
	}
}

// ownsMessage reports whether the peer sent a live message in its own
// conversation. Anything else is ignored without a reply.
func (s *Server) ownsMessage(p *peer, messageID int64) bool {
	msg, err := s.db.GetMessage(messageID)
	if err != nil {
		if err != db.ErrNoRows {
			s.log.Error("message lookup failed", zap.Int64("message", messageID), zap.Error(err))
		}
		return false
	}
	if msg.ConversationID != p.conversationID || msg.Sender.ID != p.user.ID || msg.IsDeleted {
		s.log.Debug("rejecting change to foreign message",
			zap.String("user", p.user.Username),
			zap.Int64("message", messageID))
		return false
	}
	return true
}
