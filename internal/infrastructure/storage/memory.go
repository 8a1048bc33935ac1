package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore keeps artifacts in process. Useful for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (m *MemoryStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, &ctxReader{ctx: ctx, r: body}); err != nil {
		return "", fmt.Errorf("failed to read artifact data: %w", err)
	}

	m.mu.Lock()
	m.objects[key] = memoryObject{contentType: contentType, data: buf.Bytes()}
	m.mu.Unlock()
	return "mem://" + key, nil
}

// Get returns a stored object and its content type.
func (m *MemoryStore) Get(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.data, obj.contentType, ok
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}
