// Package chatlog keeps the ordered message history of the active
// conversation and applies channel events to it.
package chatlog

import (
	"sync"

	"tourchat/models"
	"tourchat/protocol"
)

// Tombstone replaces the content of deleted messages on display.
const Tombstone = "[message deleted]"

// Handlers are the per-message actions a renderer may offer.
type Handlers struct {
	Edit   func(id int64, content string) error
	Delete func(id int64) error
	Attach func(id int64, path string) error
}

// RenderFunc receives a private copy of the whole log after every change.
// It runs under the log's lock and must not call back into the Log.
type RenderFunc func(msgs []models.Message, currentUserID int64, h Handlers)

type Log struct {
	mu             sync.Mutex
	conversationID int64
	messages       []models.Message
	index          map[int64]int
	userID         int64
	handlers       Handlers
	render         RenderFunc
}

func New(render RenderFunc) *Log {
	return &Log{render: render, index: make(map[int64]int)}
}

// Bind sets the viewer whose id and actions accompany every render.
func (l *Log) Bind(userID int64, h Handlers) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.userID = userID
	l.handlers = h
}

func (l *Log) ConversationID() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conversationID
}

// Replace discards the log and loads msgs in the given order.
func (l *Log) Replace(conversationID int64, msgs []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.conversationID = conversationID
	l.messages = make([]models.Message, 0, len(msgs))
	l.index = make(map[int64]int, len(msgs))
	for _, m := range msgs {
		if _, dup := l.index[m.ID]; dup {
			continue
		}
		l.index[m.ID] = len(l.messages)
		l.messages = append(l.messages, m.Clone())
	}
	l.emit()
}

// Append adds a newly arrived message at the end. The wire carries only the
// sender's name, so the id is filled in when that name is self's and left
// unresolved otherwise. A repeated id is ignored.
func (l *Log) Append(ev protocol.MessageEvent, self *models.User) (models.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.index[ev.ID]; dup {
		return models.Message{}, false
	}

	msg := models.Message{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		Sender:         models.User{Username: ev.Sender},
		Content:        ev.Content,
		Timestamp:      ev.Timestamp,
		Attachments:    append([]models.Attachment(nil), ev.Attachments...),
	}
	if msg.ConversationID == 0 {
		msg.ConversationID = l.conversationID
	}
	if self != nil && self.Resolved() && ev.Sender == self.Username {
		msg.Sender.ID = self.ID
	}

	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	l.emit()
	return msg.Clone(), true
}

// Edit replaces the content of a known message and marks it edited.
func (l *Log) Edit(id int64, content string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages[i].Content = content
	l.messages[i].IsEdited = true
	l.emit()
	return true
}

// Delete marks a known message deleted. Its content is kept.
func (l *Log) Delete(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return false
	}
	l.messages[i].IsDeleted = true
	l.emit()
	return true
}

func (l *Log) Snapshot() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked()
}

// Reset empties the log and unbinds the viewer.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conversationID = 0
	l.messages = nil
	l.index = make(map[int64]int)
	l.userID = 0
	l.handlers = Handlers{}
	l.emit()
}

func (l *Log) copyLocked() []models.Message {
	out := make([]models.Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.Clone()
	}
	return out
}

func (l *Log) emit() {
	if l.render != nil {
		l.render(l.copyLocked(), l.userID, l.handlers)
	}
}

// Display is the text shown for m.
func Display(m models.Message) string {
	if m.IsDeleted {
		return Tombstone
	}
	return m.Content
}
