package storage

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, ownerID, fileName, contentType string, data []byte) (string, error) {
	key, err := objectKey(uploadsPrefix, ownerID, fileName)
	if err != nil {
		return "", err
	}
	m.store(key, data)
	return key, nil
}

func (m *Memory) PutText(ctx context.Context, subdir, ownerID, fileName, text string) (string, error) {
	key, err := objectKey(strings.TrimRight(subdir, "/")+"/", ownerID, fileName)
	if err != nil {
		return "", err
	}
	m.store(key, []byte(text))
	return key, nil
}

func (m *Memory) store(key string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.objects[key] = cp
	m.mu.Unlock()
}

func (m *Memory) Get(ctx context.Context, ownerID, key string) ([]byte, error) {
	if err := checkOwner(key, ownerID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) Delete(ctx context.Context, ownerID, key string) error {
	if err := checkOwner(key, ownerID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
