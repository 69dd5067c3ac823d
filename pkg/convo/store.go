package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists Conversation state. Loss of the store abandons an
// in-progress flow but never corrupts a committed booking, since
// bookings are only written at the flow's transaction points.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Clear(ctx context.Context, chatID int64) error
}

// MemStore is an in-process Store: the degenerate single-worker
// implementation of the Store interface.
type MemStore struct {
	mu   sync.Mutex
	data map[int64]*Conversation
}

// NewMemStore builds an empty in-process conversation store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[int64]*Conversation)}
}

func (m *MemStore) Get(_ context.Context, chatID int64) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.data[chatID]
	if !ok {
		return nil, nil
	}
	clone := *conv
	clone.Context = cloneContext(conv.Context)
	return &clone, nil
}

func (m *MemStore) Save(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *conv
	clone.Context = cloneContext(conv.Context)
	m.data[conv.ChatID] = &clone
	return nil
}

func (m *MemStore) Clear(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, chatID)
	return nil
}

func cloneContext(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// redisKeyPrefix namespaces conversation keys in a shared Redis instance.
const redisKeyPrefix = "tripdesk:convo:"

// redisTTL bounds how long an abandoned conversation lingers before Redis
// reclaims it; well beyond any flow's realistic completion time.
const redisTTL = 30 * time.Minute

// RedisStore is the shared-KV Store for multi-worker deployments,
// grounded on the same key-prefix/TTL idiom used elsewhere in this
// codebase for Redis-backed per-identity state.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore builds a Store backed by rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(chatID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, chatID)
}

func (s *RedisStore) Get(ctx context.Context, chatID int64) (*Conversation, error) {
	val, err := s.rdb.Get(ctx, redisKey(chatID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("convo: redis get: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal(val, &conv); err != nil {
		return nil, fmt.Errorf("convo: unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (s *RedisStore) Save(ctx context.Context, conv *Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("convo: marshal conversation: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(conv.ChatID), raw, redisTTL).Err(); err != nil {
		return fmt.Errorf("convo: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, redisKey(chatID)).Err(); err != nil {
		return fmt.Errorf("convo: redis del: %w", err)
	}
	return nil
}
