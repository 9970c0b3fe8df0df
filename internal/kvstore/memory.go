package kvstore

import (
	"context"
	"sync"
)

// MemoryBackend is a non-durable backend for tests and dry runs.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (b *MemoryBackend) Read(_ context.Context, keys []string) (map[string]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := b.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *MemoryBackend) Upsert(_ context.Context, data map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range data {
		b.data[k] = v
	}
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
