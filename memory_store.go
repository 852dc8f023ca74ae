package telemdb

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu           sync.RWMutex
	values       map[Key]string
	hashes       map[Key]string
	descriptions map[Key]CaptureDescription
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:       make(map[Key]string),
		hashes:       make(map[Key]string),
		descriptions: make(map[Key]CaptureDescription),
	}
}

func (m *MemoryStore) Read(_ context.Context, key Key) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) Write(_ context.Context, key Key, value string) error {
	hash := hashValue(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	m.hashes[key] = hash
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	delete(m.hashes, key)
	return nil
}

// Keys lists a snapshot of keys in byte order. fn may mutate the store.
func (m *MemoryStore) Keys(ctx context.Context, fn func(Key) error) error {
	m.mu.RLock()
	keys := make([]Key, 0, len(m.values))
	for key := range m.values {
		if key != LegacyIndexKey {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	sortKeys(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return storeErr("keys", NilKey, err)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Hashes(_ context.Context, keys []Key) (map[Key]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Key]string, len(keys))
	for _, key := range keys {
		if hash, ok := m.hashes[key]; ok {
			out[key] = hash
		}
	}
	return out, nil
}

func (m *MemoryStore) AddCaptureDescription(_ context.Context, desc CaptureDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.descriptions[desc.Location] = desc
	return nil
}

func (m *MemoryStore) CaptureDescriptions(_ context.Context, fn func(CaptureDescription) error) error {
	m.mu.RLock()
	descs := make([]CaptureDescription, 0, len(m.descriptions))
	for _, desc := range m.descriptions {
		descs = append(descs, desc)
	}
	m.mu.RUnlock()

	sortDescriptions(descs)
	for _, desc := range descs {
		if err := fn(desc); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) RemoveCaptureDescription(_ context.Context, location Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.descriptions, location)
	return nil
}

// Len returns the number of records held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *MemoryStore) Close() error { return nil }
