package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	meta    []byte
	version int64
	expiry  time.Time
}

// MemoryStore keeps entries in-process. Intended for tests and single-node dev.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) liveLocked(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiry.IsZero() && !m.now().Before(e.expiry) {
		return memoryEntry{}, false
	}
	return e, true
}

// Get returns a copy of the value stored at key.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(e.value), true, nil
}

// Put replaces the value and metadata at key.
func (m *MemoryStore) Put(_ context.Context, key string, value []byte, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, _ := m.liveLocked(key)
	e := memoryEntry{
		value:   cloneBytes(value),
		meta:    cloneBytes(opts.Meta),
		version: prev.version + 1,
	}
	if opts.TTL > 0 {
		e.expiry = m.now().Add(opts.TTL)
	}
	m.entries[key] = e
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) GetVersioned(_ context.Context, key string) ([]byte, string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return nil, "", false, nil
	}
	return cloneBytes(e.value), strconv.FormatInt(e.version, 10), true, nil
}

func (m *MemoryStore) PutIfVersion(_ context.Context, key string, value []byte, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	current := ""
	if ok {
		current = strconv.FormatInt(e.version, 10)
	}
	if current != version {
		return ErrVersionConflict
	}
	e.value = cloneBytes(value)
	e.version++
	m.entries[key] = e
	return nil
}

// List walks live keys in lexicographic order starting after the cursor.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) (ListResult, error) {
	limit := normalizeLimit(opts.Limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		if opts.Cursor != "" && k <= opts.Cursor {
			continue
		}
		if _, ok := m.liveLocked(k); !ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := ListResult{Complete: true}
	if len(keys) > limit {
		keys = keys[:limit]
		res.Complete = false
	}
	res.Items = make([]Item, 0, len(keys))
	for _, k := range keys {
		res.Items = append(res.Items, Item{Key: k, Meta: cloneBytes(m.entries[k].meta)})
	}
	if !res.Complete {
		res.Cursor = keys[len(keys)-1]
	}
	return res, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
