package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// watchBuffer is the per-watcher channel capacity. Changes are hints to
// re-query, so a watcher that falls this far behind drops notifications.
const watchBuffer = 256

type memoryWatcher struct {
	table string
	ch    chan Change
}

// MemoryStore is a process-local Store. Every agent sharing one MemoryStore
// sees the same data, which makes it the store used by tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	tables   map[string]map[string]Entry
	watchers map[*memoryWatcher]struct{}
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:   make(map[string]map[string]Entry),
		watchers: make(map[*memoryWatcher]struct{}),
	}
}

func (m *MemoryStore) Get(ctx context.Context, table, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.tables[table][key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) Put(ctx context.Context, table, key string, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.tables[table][key].Version + 1
	m.write(table, key, value, version)
	return version, nil
}

func (m *MemoryStore) CompareAndSet(ctx context.Context, table, key string, expected int64, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.tables[table][key].Version
	if current != expected {
		return current, ErrVersionMismatch
	}
	m.write(table, key, value, expected+1)
	return expected + 1, nil
}

func (m *MemoryStore) List(ctx context.Context, table, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for k, e := range m.tables[table] {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Watch registers a watcher that is removed when ctx is done
func (m *MemoryStore) Watch(ctx context.Context, table string) (<-chan Change, error) {
	w := &memoryWatcher{table: table, ch: make(chan Change, watchBuffer)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(w.ch)
		return w.ch, nil
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[w]; ok {
			delete(m.watchers, w)
			close(w.ch)
		}
	}()

	return w.ch, nil
}

// Close ends every open watch
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for w := range m.watchers {
		delete(m.watchers, w)
		close(w.ch)
	}
	return nil
}

// write must be called with mu held
func (m *MemoryStore) write(table, key string, value []byte, version int64) {
	t, ok := m.tables[table]
	if !ok {
		t = make(map[string]Entry)
		m.tables[table] = t
	}
	t[key] = Entry{Key: key, Value: append([]byte(nil), value...), Version: version}

	change := Change{Table: table, Key: key, Version: version}
	for w := range m.watchers {
		if w.table != table {
			continue
		}
		select {
		case w.ch <- change:
		default:
		}
	}
}

func copyEntry(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
