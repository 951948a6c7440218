package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parallax-ai/chat-platform/internal/model"
)

// MemoryStore is an in-memory ChatStore. It backs tests and local
// development without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*model.Chat
	messages map[string][]model.Message // chatID -> ordered messages
	handles  map[string]*model.StreamHandle
	docs     map[string]*model.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string][]model.Message),
		handles:  make(map[string]*model.StreamHandle),
		docs:     make(map[string]*model.Document),
	}
}

// GetChat retrieves a chat by ID.
func (s *MemoryStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *chat
	return &copied, nil
}

// SaveChat inserts a chat record. Existing ids are left untouched.
func (s *MemoryStore) SaveChat(ctx context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chat.ID]; ok {
		return nil
	}
	copied := *chat
	s.chats[chat.ID] = &copied
	return nil
}

// DeleteChat removes a chat and its messages, returning the deleted record.
func (s *MemoryStore) DeleteChat(ctx context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.chats, id)
	delete(s.messages, id)
	copied := *chat
	return &copied, nil
}

// ListChatsByUser returns the user's chats, newest first.
func (s *MemoryStore) ListChatsByUser(ctx context.Context, userID string, limit int) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chats []model.Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			chats = append(chats, *chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	return chats, nil
}

// UpdateChatLastContext overwrites the chat's usage context.
func (s *MemoryStore) UpdateChatLastContext(ctx context.Context, chatID string, usage *model.AppUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	copied := *usage
	chat.LastContext = &copied
	return nil
}

// GetMessages returns a chat's messages in creation order.
func (s *MemoryStore) GetMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[chatID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AppendMessages appends messages, skipping ids that already exist.
func (s *MemoryStore) AppendMessages(ctx context.Context, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range messages {
		exists := false
		for _, existing := range s.messages[msg.ChatID] {
			if existing.ID == msg.ID {
				exists = true
				break
			}
		}
		if !exists {
			s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
		}
	}
	return nil
}

// CountMessagesByUserSince counts user-authored messages across the user's
// chats since the given time.
func (s *MemoryStore) CountMessagesByUserSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for chatID, msgs := range s.messages {
		chat, ok := s.chats[chatID]
		if !ok || chat.UserID != userID {
			continue
		}
		for _, msg := range msgs {
			if msg.Role == model.RoleUser && !msg.CreatedAt.Before(since) {
				count++
			}
		}
	}
	return count, nil
}

// CreateStreamHandle records a new stream handle.
func (s *MemoryStore) CreateStreamHandle(ctx context.Context, handle *model.StreamHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *handle
	s.handles[handle.ID] = &copied
	return nil
}

// GetStreamHandle retrieves a stream handle by ID.
func (s *MemoryStore) GetStreamHandle(ctx context.Context, id string) (*model.StreamHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handle, ok := s.handles[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *handle
	return &copied, nil
}

// SaveDocument inserts or updates a document.
func (s *MemoryStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

// GetDocument retrieves a document by ID.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	return &copied, nil
}
