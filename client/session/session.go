// Package session holds the client's authenticated state: the bearer
// token, the resolved identity, the conversation list and the active
// conversation.
package session

import (
	"sync"

	"tourchat/models"
)

// Store is safe for concurrent use. Every accessor copies, so callers never
// share slices with the store.
type Store struct {
	mu            sync.RWMutex
	cache         TokenCache
	token         string
	user          models.User
	conversations []models.Conversation
	active        int64
}

// Open restores the persisted token, if any. A nil cache keeps the token
// in memory only.
func Open(cache TokenCache) (*Store, error) {
	s := &Store{cache: cache}
	if cache == nil {
		return s, nil
	}

	token, err := cache.Load()
	if err != nil {
		return nil, err
	}
	s.token = token
	return s, nil
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken stores and persists token. The empty token signs out: the cache
// is purged and the identity forgotten.
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	if token == "" {
		s.user = models.User{}
	}
	if s.cache == nil {
		return nil
	}
	if token == "" {
		return s.cache.Purge()
	}
	return s.cache.Save(token)
}

// Reset returns the store to its signed-out state in one step: no reader
// sees the token without the rest of the session or the reverse.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.user = models.User{}
	s.conversations = nil
	s.active = 0
	if s.cache == nil {
		return nil
	}
	return s.cache.Purge()
}

func (s *Store) User() models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Store) SetUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

func (s *Store) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Conversation(nil), s.conversations...)
}

func (s *Store) SetConversations(convs []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = append([]models.Conversation(nil), convs...)
}

// Active returns the selected conversation id, 0 when none is selected.
func (s *Store) Active() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) SetActive(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}

func (s *Store) Conversation(id int64) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return models.Conversation{}, false
}

// TouchLastMessage records msg as the newest message of its conversation.
// It reports false when the conversation is not in the list.
func (s *Store) TouchLastMessage(conversationID int64, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			m := msg.Clone()
			s.conversations[i].LastMessage = &m
			return true
		}
	}
	return false
}
