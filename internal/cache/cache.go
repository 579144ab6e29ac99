package cache

import (
	"context"
	"sync"

	"github.com/local/extractor/internal/extract"
)

// Cache maps a content fingerprint to the raw extraction result produced for
// those bytes. A miss is a normal branch, never an error. Invalidate of an
// absent key is a no-op. Concurrent put races on the same key are tolerated:
// both writers computed the same deterministic result, so last writer wins.
type Cache interface {
	Get(ctx context.Context, fp string) (extract.Result, bool, error)
	Put(ctx context.Context, fp string, res extract.Result) error
	Invalidate(ctx context.Context, fp string) error
	Len(ctx context.Context) (int64, error)
}

// Memory is the single-process reference cache. Duplicate work across
// processes is safe, not wrong, so per-process scope is an accepted
// throughput trade-off.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]extract.Result
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]extract.Result)}
}

func (m *Memory) Get(_ context.Context, fp string) (extract.Result, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.entries[fp]
	return res, ok, nil
}

func (m *Memory) Put(_ context.Context, fp string, res extract.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fp] = res
	return nil
}

func (m *Memory) Invalidate(_ context.Context, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, fp)
	return nil
}

func (m *Memory) Len(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}
