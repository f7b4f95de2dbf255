package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourchat/models"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// Inbound event types. New messages carry no type on the wire.
const (
	TypeTyping  = "user.typing"
	TypeEdited  = "message.edited"
	TypeDeleted = "message.deleted"
)

// Outbound frame types
const (
	TypeChatMessage   = "chat_message"
	TypeTypingSignal  = "typing"
	TypeEditMessage   = "edit_message"
	TypeDeleteMessage = "delete_message"
)

// Event is a decoded server-to-client frame.
type Event interface {
	EventType() string
}

type TypingEvent struct {
	User     string
	IsTyping bool
}

type EditedEvent struct {
	ID      int64
	Content string
}

// DeletedEvent identifies its message through message_id on the wire,
// unlike edits and appends which use id.
type DeletedEvent struct {
	MessageID int64
}

type MessageEvent struct {
	ID             int64
	ConversationID int64
	Sender         string
	Content        string
	Timestamp      time.Time
	Attachments    []models.Attachment
}

func (TypingEvent) EventType() string  { return TypeTyping }
func (EditedEvent) EventType() string  { return TypeEdited }
func (DeletedEvent) EventType() string { return TypeDeleted }

// EventType is empty: appends are recognised by the presence of id and sender.
func (MessageEvent) EventType() string { return "" }

// Frame is a client-to-server command.
type Frame interface {
	FrameType() string
}

type ChatMessage struct {
	Message string `json:"message"`
}

type Typing struct {
	IsTyping bool `json:"is_typing"`
}

type EditMessage struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageID int64 `json:"message_id"`
}

func (ChatMessage) FrameType() string   { return TypeChatMessage }
func (Typing) FrameType() string        { return TypeTypingSignal }
func (EditMessage) FrameType() string   { return TypeEditMessage }
func (DeleteMessage) FrameType() string { return TypeDeleteMessage }

// envelope is the union of every field that appears in either direction.
type envelope struct {
	Type         string              `json:"type"`
	User         string              `json:"user"`
	IsTyping     bool                `json:"is_typing"`
	Message      json.RawMessage     `json:"message"`
	MessageID    int64               `json:"message_id"`
	ID           int64               `json:"id"`
	Conversation int64               `json:"conversation"`
	Sender       string              `json:"sender"`
	Content      string              `json:"content"`
	Timestamp    string              `json:"timestamp"`
	Attachments  []models.Attachment `json:"attachments"`
}

type editedPayload struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// Decode parses one inbound frame. Frames that are not JSON objects yield
// ErrMalformedFrame; well-formed frames matching no known event yield
// ErrUnknownEvent. Callers drop the frame in both cases.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeTyping:
		return TypingEvent{User: env.User, IsTyping: env.IsTyping}, nil
	case TypeEdited:
		var p editedPayload
		if len(env.Message) == 0 {
			return nil, fmt.Errorf("%w: %s without message", ErrMalformedFrame, env.Type)
		}
		if err := json.Unmarshal(env.Message, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return EditedEvent{ID: p.ID, Content: p.Content}, nil
	case TypeDeleted:
		return DeletedEvent{MessageID: env.MessageID}, nil
	}

	if env.ID != 0 && env.Sender != "" {
		ev := MessageEvent{
			ID:             env.ID,
			ConversationID: env.Conversation,
			Sender:         env.Sender,
			Content:        env.Content,
			Attachments:    env.Attachments,
		}
		if env.Timestamp != "" {
			// An unparseable timestamp is not worth losing the message over.
			if ts, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
				ev.Timestamp = ts
			}
		}
		return ev, nil
	}

	return nil, fmt.Errorf("%w: type %q", ErrUnknownEvent, env.Type)
}

// Encode serialises an outbound frame with its type tag.
func Encode(f Frame) ([]byte, error) {
	switch f := f.(type) {
	case ChatMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			ChatMessage
		}{TypeChatMessage, f})
	case Typing:
		return json.Marshal(struct {
			Type string `json:"type"`
			Typing
		}{TypeTypingSignal, f})
	case EditMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			EditMessage
		}{TypeEditMessage, f})
	case DeleteMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			DeleteMessage
		}{TypeDeleteMessage, f})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
	}
}

// DecodeFrame parses a client command on the server side.
func DecodeFrame(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case TypeChatMessage:
		var text string
		if err := json.Unmarshal(env.Message, &text); err != nil {
			return nil, fmt.Errorf("%w: chat_message needs a string message", ErrMalformedFrame)
		}
		return ChatMessage{Message: text}, nil
	case TypeTypingSignal:
		return Typing{IsTyping: env.IsTyping}, nil
	case TypeEditMessage:
		return EditMessage{MessageID: env.MessageID, Content: env.Content}, nil
	case TypeDeleteMessage:
		return DeleteMessage{MessageID: env.MessageID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, env.Type)
	}
}

type typingWire struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	IsTyping bool   `json:"is_typing"`
}

type editedWire struct {
	Type    string        `json:"type"`
	Message editedPayload `json:"message"`
}

type deletedWire struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

type messageWire struct {
	ID           int64               `json:"id"`
	Conversation int64               `json:"conversation,omitempty"`
	Sender       string              `json:"sender"`
	Content      string              `json:"content"`
	Timestamp    string              `json:"timestamp"`
	Attachments  []models.Attachment `json:"attachments,omitempty"`
}

// EncodeEvent serialises a server-to-client event. New messages are sent
// bare, without a type field.
func EncodeEvent(e Event) ([]byte, error) {
	switch e := e.(type) {
	case TypingEvent:
		return json.Marshal(typingWire{Type: TypeTyping, User: e.User, IsTyping: e.IsTyping})
	case EditedEvent:
		return json.Marshal(editedWire{Type: TypeEdited, Message: editedPayload{ID: e.ID, Content: e.Content}})
	case DeletedEvent:
		return json.Marshal(deletedWire{Type: TypeDeleted, MessageID: e.MessageID})
	case MessageEvent:
		return json.Marshal(messageWire{
			ID:           e.ID,
			Conversation: e.ConversationID,
			Sender:       e.Sender,
			Content:      e.Content,
			Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
			Attachments:  e.Attachments,
		})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
}
