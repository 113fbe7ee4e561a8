package tracing

import (
	"container/list"
	"context"
	"sync"

	"github.com/hiydavid/dbx-agent-on-app/types"
)

// Store persists finished trace documents.
type Store interface {
	Save(ctx context.Context, doc *TraceDocument) error
	// Load returns a TRACE_NOT_FOUND error when traceID is unknown.
	Load(ctx context.Context, traceID string) (*TraceDocument, error)
	Close() error
}

// ErrTraceNotFound builds the not-found error for traceID.
func ErrTraceNotFound(traceID string) error {
	return types.Errorf(types.ErrTraceNotFound, "trace %q not found", traceID)
}

// DefaultMemoryCapacity is the number of traces kept in process.
const DefaultMemoryCapacity = 1000

// MemoryStore is a bounded LRU of trace documents. Evicted traces can no
// longer be materialized from memory.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	index    map[string]*list.Element
}

type memoryEntry struct {
	id  string
	doc *TraceDocument
}

// NewMemoryStore creates a MemoryStore; capacity <= 0 selects the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (m *MemoryStore) Save(_ context.Context, doc *TraceDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := doc.Info.TraceID
	if el, ok := m.index[id]; ok {
		el.Value.(*memoryEntry).doc = doc
		m.order.MoveToFront(el)
		return nil
	}
	m.index[id] = m.order.PushFront(&memoryEntry{id: id, doc: doc})
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.index, oldest.Value.(*memoryEntry).id)
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, traceID string) (*TraceDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.index[traceID]
	if !ok {
		return nil, ErrTraceNotFound(traceID)
	}
	m.order.MoveToFront(el)
	return el.Value.(*memoryEntry).doc, nil
}

// Len returns the number of stored traces.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryStore) Close() error { return nil }
