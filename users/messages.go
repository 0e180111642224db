package users

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/pipeline"
)

// MaxMessagePageSize caps how many messages one request may return.
const MaxMessagePageSize = 50

// Message is one user-facing message. CreatedAt is epoch milliseconds, the
// same timestamp form the cache metadata uses.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// MessageStore publishes messages through the message-family change log.
// Creation and soft-deletion append stream entries; read status is
// client-local state and never touches the stream.
type MessageStore struct {
	users     *Store
	cache     *cache.Cache
	committer *pipeline.Committer
}

// NewMessageStore creates a message store.
func NewMessageStore(users *Store, c *cache.Cache, committer *pipeline.Committer) *MessageStore {
	return &MessageStore{users: users, cache: c, committer: committer}
}

// Create stores a message for a user and appends its change entry.
func (m *MessageStore) Create(ctx context.Context, userID, title, body string) (*Message, error) {
	if _, err := m.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}

	if _, err := m.committer.Commit(ctx, cache.FamilyMessage, msg.ID, msg); err != nil {
		return nil, err
	}
	if err := m.users.store.SAdd(ctx, userMessagesKey(userID), msg.ID); err != nil {
		return nil, err
	}
	return msg, nil
}

// Get loads one message.
func (m *MessageStore) Get(ctx context.Context, id string) (*Message, error) {
	raw, err := m.cache.ReadSimple(ctx, cache.FamilyMessage, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrMessageNotFound
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SoftDelete replaces the message with its deletion marker and appends the
// marker entry, so every client cursor eventually observes the deletion.
// The ownership set keeps the id: the tombstone remains listable as deleted.
func (m *MessageStore) SoftDelete(ctx context.Context, id string) error {
	if _, err := m.Get(ctx, id); err != nil {
		return err
	}

	marker := map[string]interface{}{
		"deleted":   true,
		"entity_id": id,
	}
	_, err := m.committer.Commit(ctx, cache.FamilyMessage, id, marker)
	return err
}

// ListForUser returns the user's messages, newest first, excluding deleted
// ones. limit is clamped to MaxMessagePageSize.
func (m *MessageStore) ListForUser(ctx context.Context, userID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}

	ids, err := m.users.store.SMembers(ctx, userMessagesKey(userID))
	if err != nil {
		return nil, err
	}

	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		msg, err := m.Get(ctx, id)
		if err == ErrMessageNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if msg.Deleted || msg.ID == "" {
			// Tombstone: the simple key now holds the deletion marker.
			continue
		}
		messages = append(messages, msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt > messages[j].CreatedAt
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}
