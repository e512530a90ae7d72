package docstore

import (
	"context"
	"sync"
	"time"

	"chattersync/internal/util"
)

// MemoryStore keeps documents in-process. It backs local runs and tests and
// delivers live updates for every write made through it.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[string]Record              // path -> data
	collections map[string]map[string]struct{} // collection -> ids
	hub         *hub
	now         func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]Record),
		collections: make(map[string]map[string]struct{}),
		hub:         newHub(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	_, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, Transport("get "+path, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Document{ID: id, Path: path, Data: cloneRecord(m.docs[path])}, nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, data Record, mode WriteMode) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return Transport("set "+path, err)
	}
	m.mu.Lock()
	resolved := resolveRecord(data, m.now())
	if resolved == nil {
		resolved = Record{}
	}
	if existing, ok := m.docs[path]; ok && mode == Merge {
		resolved = mergeRecords(existing, resolved)
	}
	m.putLocked(collection, id, path, resolved)
	m.mu.Unlock()

	m.hub.publish(path, collection)
	return nil
}

func (m *MemoryStore) Add(ctx context.Context, collection string, data Record) (string, error) {
	if _, err := splitCollection(collection); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Transport("add "+collection, err)
	}
	id := util.NewID()
	path := Join(collection, id)
	m.mu.Lock()
	resolved := resolveRecord(data, m.now())
	if resolved == nil {
		resolved = Record{}
	}
	m.putLocked(collection, id, path, resolved)
	m.mu.Unlock()

	m.hub.publish(path, collection)
	return id, nil
}

func (m *MemoryStore) putLocked(collection, id, path string, data Record) {
	m.docs[path] = data
	ids, ok := m.collections[collection]
	if !ok {
		ids = make(map[string]struct{})
		m.collections[collection] = ids
	}
	ids[id] = struct{}{}
}

func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Transport("query "+q.Collection, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.collections[q.Collection]
	docs := make([]Document, 0, len(ids))
	for id := range ids {
		path := Join(q.Collection, id)
		docs = append(docs, Document{ID: id, Path: path, Data: cloneRecord(m.docs[path])})
	}
	return applyQuery(q, docs), nil
}

func (m *MemoryStore) WatchDocument(ctx context.Context, path string, fn DocumentListener) (Registration, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}
	return m.hub.watch(ctx, path, func(ctx context.Context) {
		doc, err := m.Get(ctx, path)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	}), nil
}

func (m *MemoryStore) WatchQuery(ctx context.Context, q Query, fn QueryListener) (Registration, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	return m.hub.watch(ctx, q.Collection, func(ctx context.Context) {
		docs, err := m.Query(ctx, q)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	}), nil
}

// Close stops every live registration.
func (m *MemoryStore) Close() error {
	m.hub.closeAll()
	return nil
}
