package notification

import (
	"context"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Form-Ingestion-Pipeline/pkg/redis"
)

// SubscriptionState is the handshake state of one topic.
type SubscriptionState string

const (
	StateUnknown   SubscriptionState = ""
	StateAwaiting  SubscriptionState = "awaiting-confirmation"
	StateConfirmed SubscriptionState = "confirmed"
)

// Subscriptions records handshake state per topic.
type Subscriptions interface {
	State(ctx context.Context, topic string) (SubscriptionState, error)
	SetState(ctx context.Context, topic string, state SubscriptionState) error
}

// Deduper remembers processed message ids for a while.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string, ttl time.Duration) error
}

const (
	subscriptionPrefix = "ocr:subscription:"
	messagePrefix      = "ocr:message:"
)

// RedisState keeps subscriptions and message markers in Redis so every
// pipeline replica sees them.
type RedisState struct {
	client *redis.Client
}

func NewRedisState(client *redis.Client) *RedisState {
	return &RedisState{client: client}
}

func (s *RedisState) State(ctx context.Context, topic string) (SubscriptionState, error) {
	v, err := s.client.Get(ctx, subscriptionPrefix+topic)
	if redis.IsNilError(err) {
		return StateUnknown, nil
	}
	if err != nil {
		return StateUnknown, err
	}
	return SubscriptionState(v), nil
}

func (s *RedisState) SetState(ctx context.Context, topic string, state SubscriptionState) error {
	return s.client.Set(ctx, subscriptionPrefix+topic, string(state), 0)
}

func (s *RedisState) Seen(ctx context.Context, messageID string) (bool, error) {
	return s.client.Exists(ctx, messagePrefix+messageID)
}

func (s *RedisState) Mark(ctx context.Context, messageID string, ttl time.Duration) error {
	_, err := s.client.SetNX(ctx, messagePrefix+messageID, "1", ttl)
	return err
}

// MemoryState is the single-process fallback used when Redis is disabled.
type MemoryState struct {
	mu       sync.Mutex
	topics   map[string]SubscriptionState
	messages map[string]time.Time
	now      func() time.Time
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		topics:   make(map[string]SubscriptionState),
		messages: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *MemoryState) State(_ context.Context, topic string) (SubscriptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic], nil
}

func (s *MemoryState) SetState(_ context.Context, topic string, state SubscriptionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = state
	return nil
}

func (s *MemoryState) Seen(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.messages[messageID]
	if ok && s.now().After(expires) {
		delete(s.messages, messageID)
		return false, nil
	}
	return ok, nil
}

func (s *MemoryState) Mark(_ context.Context, messageID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[messageID] = s.now().Add(ttl)
	return nil
}
