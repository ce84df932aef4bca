// Package objectstore stores uploaded payloads. The pipeline only needs
// put, best-effort delete, signed read URLs and raw reads for local engines.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("object not found")

// Store is implemented by the GCS and in-memory backends.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	SignedReadURL(ctx context.Context, key string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// URI returns the backend-native reference for key, e.g. gs://bucket/key.
	URI(key string) string
	Ping(ctx context.Context) error
}

type object struct {
	data        []byte
	contentType string
}

// Memory keeps objects in process. Signed URLs use the memory:// scheme and
// cannot be fetched over HTTP, so remote OCR engines need the GCS backend.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
	ttl     time.Duration
}

// NewMemory creates an empty in-memory object store.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{objects: make(map[string]object), ttl: ttl}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return key, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *Memory) SignedReadURL(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	expires := time.Now().Add(m.ttl).Unix()
	return fmt.Sprintf("%s?expires=%d", m.URI(key), expires), nil
}

func (m *Memory) URI(key string) string {
	return "memory://" + (&url.URL{Path: key}).EscapedPath()
}

func (m *Memory) Ping(context.Context) error { return nil }

// Len reports how many objects are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
