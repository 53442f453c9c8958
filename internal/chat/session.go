package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aethra/lowcode/internal/functions"
)

// Session limits
const (
	DefaultMaxMessages   = 50
	DefaultMaxAge        = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of a conversation
type Message struct {
	ID            string                     `json:"id"`
	Role          string                     `json:"role"`
	Content       string                     `json:"content"`
	Timestamp     time.Time                  `json:"timestamp"`
	FunctionCalls []functions.FunctionResult `json:"functionCalls,omitempty"`
}

// SessionStore keeps the recent messages of each conversation. Appends to
// one key are atomic; different keys never block each other.
type SessionStore interface {
	Get(ctx context.Context, key string) ([]Message, error)
	Append(ctx context.Context, key string, msgs ...Message) error
	Clear(ctx context.Context, key string) error
}

// SessionKey is the store key of a user's conversation
func SessionKey(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// trim drops messages older than maxAge, then keeps the newest max
func trim(msgs []Message, max int, maxAge time.Duration, now time.Time) []Message {
	cutoff := now.Add(-maxAge)
	i := 0
	for i < len(msgs) && msgs[i].Timestamp.Before(cutoff) {
		i++
	}
	msgs = msgs[i:]
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs
}

// =============================================================================
// MEMORY STORE
// =============================================================================

type memorySession struct {
	mu       sync.Mutex
	messages []Message
}

// MemoryStore is the in-process SessionStore
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession

	maxMessages int
	maxAge      time.Duration
	now         func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryStore creates a store capped at maxMessages per key, dropping
// messages older than maxAge
func NewMemoryStore(maxMessages int, maxAge time.Duration) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &MemoryStore{
		sessions:    map[string]*memorySession{},
		maxMessages: maxMessages,
		maxAge:      maxAge,
		now:         time.Now,
	}
}

// WithClock overrides the time source
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) session(key string, create bool) *memorySession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok && create {
		sess = &memorySession{}
		s.sessions[key] = sess
	}
	return sess
}

// Get returns a copy of the messages under key
func (s *MemoryStore) Get(_ context.Context, key string) ([]Message, error) {
	sess := s.session(key, false)
	if sess == nil {
		return nil, nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = trim(sess.messages, s.maxMessages, s.maxAge, s.now())
	return append([]Message(nil), sess.messages...), nil
}

// Append adds messages under key
func (s *MemoryStore) Append(_ context.Context, key string, msgs ...Message) error {
	sess := s.session(key, true)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = trim(append(sess.messages, msgs...), s.maxMessages, s.maxAge, s.now())
	return nil
}

// Clear removes the conversation under key
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired messages everywhere and forgets empty sessions
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	removed := 0
	now := s.now()
	for _, key := range keys {
		sess := s.session(key, false)
		if sess == nil {
			continue
		}
		sess.mu.Lock()
		sess.messages = trim(sess.messages, s.maxMessages, s.maxAge, now)
		empty := len(sess.messages) == 0
		sess.mu.Unlock()
		if !empty {
			continue
		}
		s.mu.Lock()
		if s.sessions[key] == sess {
			delete(s.sessions, key)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper sweeps every interval until ctx is done or Close is called
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Close stops the sweeper
func (s *MemoryStore) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// =============================================================================
// REDIS STORE
// =============================================================================

// RedisStore keeps each conversation in a Redis list. The key expires
// maxAge after the last append; older messages are filtered on read.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxMessages int
	maxAge      time.Duration
	now         func() time.Time
}

// NewRedisStore creates a store over client
func NewRedisStore(client redis.UniversalClient, prefix string, maxMessages int, maxAge time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "lowcode:chat:"
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &RedisStore{client: client, prefix: prefix, maxMessages: maxMessages, maxAge: maxAge, now: time.Now}
}

func (s *RedisStore) key(key string) string { return s.prefix + key }

// Get returns the messages under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]Message, error) {
	items, err := s.client.LRange(ctx, s.key(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange error: %w", err)
	}
	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("json unmarshal error: %w", err)
		}
		msgs = append(msgs, m)
	}
	return trim(msgs, s.maxMessages, s.maxAge, s.now()), nil
}

// Append pushes messages, trims the list and refreshes its expiry in one
// transaction
func (s *RedisStore) Append(ctx context.Context, key string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("json marshal error: %w", err)
		}
		values[i] = data
	}
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, values...)
		pipe.LTrim(ctx, k, int64(-s.maxMessages), -1)
		pipe.Expire(ctx, k, s.maxAge)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append error: %w", err)
	}
	return nil
}

// Clear deletes the conversation under key
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
