package kv

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// memStore is an in-memory Store with JetStream-like global revisions.
type memStore struct {
	mu       sync.Mutex
	entries  map[string]Entry
	revision uint64
	closed   bool

	// beforeWrite runs before every conditional write, outside the lock.
	beforeWrite func(key string)
	// getErr is returned by Get when set.
	getErr error
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]Entry)}
}

func (m *memStore) Get(ctx context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Entry{}, m.getErr
	}
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	e.Value = append([]byte(nil), e.Value...)
	return e, nil
}

func (m *memStore) hook(key string) {
	if m.beforeWrite != nil {
		m.beforeWrite(key)
	}
}

func (m *memStore) write(key string, value []byte) uint64 {
	m.revision++
	m.entries[key] = Entry{Key: key, Value: append([]byte(nil), value...), Revision: m.revision}
	return m.revision
}

func (m *memStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	m.hook(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return 0, ErrKeyExists
	}
	return m.write(key, value), nil
}

func (m *memStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.hook(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.Revision != revision {
		return 0, ErrRevisionMismatch
	}
	return m.write(key, value), nil
}

func (m *memStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(key, value), nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *memStore) Increment(ctx context.Context, key string, delta, initial int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := initial
	if e, ok := m.entries[key]; ok {
		n, err := strconv.ParseInt(string(e.Value), 10, 64)
		if err != nil {
			return 0, err
		}
		v = n
	}
	v += delta
	m.write(key, []byte(strconv.FormatInt(v, 10)))
	return v, nil
}

func (m *memStore) Keys(ctx context.Context, prefix string) (KeyIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &sliceKeys{keys: keys, pos: -1}, nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memStore) count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}

type sliceKeys struct {
	keys   []string
	pos    int
	closed bool
}

func (s *sliceKeys) Next(ctx context.Context) bool {
	if s.closed || ctx.Err() != nil {
		return false
	}
	s.pos++
	return s.pos < len(s.keys)
}

func (s *sliceKeys) Key() string { return s.keys[s.pos] }
func (s *sliceKeys) Err() error  { return nil }

func (s *sliceKeys) Close() error {
	s.closed = true
	return nil
}
