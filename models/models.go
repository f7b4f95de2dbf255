package models

import "time"

// User is a chat participant. ID 0 means the identity is not resolved yet.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (u User) Resolved() bool {
	return u.ID != 0
}

type Conversation struct {
	ID           int64     `json:"id"`
	Participants []User    `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	LastMessage  *Message  `json:"last_message"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation"`
	Sender         User         `json:"sender"`
	Content        string       `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	IsEdited       bool         `json:"is_edited"`
	IsDeleted      bool         `json:"is_deleted"`
	Attachments    []Attachment `json:"attachments"`
}

type Attachment struct {
	ID         int64     `json:"id"`
	MessageID  int64     `json:"message,omitempty"`
	File       string    `json:"file"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}
