// Package docstoretest provides a counting, fault-injecting document store
// for tests of packages built on docstore.
package docstoretest

import (
	"context"
	"sync"

	"chattersync/pkg/docstore"
)

// Store wraps a MemoryStore, counts calls and fails operations on demand.
type Store struct {
	*docstore.MemoryStore

	mu        sync.Mutex
	sets      []string
	adds      []string
	queries   int
	watches   int
	failGet   map[string]error
	failSet   map[string]error
	failAdd   map[string]error
	failQuery error
	failWatch error
}

func New() *Store {
	return &Store{
		MemoryStore: docstore.NewMemoryStore(),
		failGet:     make(map[string]error),
		failSet:     make(map[string]error),
		failAdd:     make(map[string]error),
	}
}

// FailGet makes point reads of path return err. A nil err clears the fault.
func (s *Store) FailGet(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failGet, path)
		return
	}
	s.failGet[path] = err
}

// FailSet makes writes to path return err. A nil err clears the fault.
func (s *Store) FailSet(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failSet, path)
		return
	}
	s.failSet[path] = err
}

// FailAdd makes appends to collection return err.
func (s *Store) FailAdd(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failAdd, collection)
		return
	}
	s.failAdd[collection] = err
}

// FailQuery makes queries and query listener deliveries fail with err.
func (s *Store) FailQuery(err error) {
	s.mu.Lock()
	s.failQuery = err
	s.mu.Unlock()
}

// FailWatch makes new registrations fail with err.
func (s *Store) FailWatch(err error) {
	s.mu.Lock()
	s.failWatch = err
	s.mu.Unlock()
}

// Writes counts successful and failed Set and Add calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets) + len(s.adds)
}

// SetPaths lists the paths passed to Set in call order.
func (s *Store) SetPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sets...)
}

// Reads counts Query calls and registrations.
func (s *Store) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries + s.watches
}

func (s *Store) Get(ctx context.Context, path string) (docstore.Document, error) {
	s.mu.Lock()
	err := s.failGet[path]
	s.mu.Unlock()
	if err != nil {
		return docstore.Document{}, docstore.Transport("get "+path, err)
	}
	return s.MemoryStore.Get(ctx, path)
}

func (s *Store) Set(ctx context.Context, path string, data docstore.Record, mode docstore.WriteMode) error {
	s.mu.Lock()
	s.sets = append(s.sets, path)
	err := s.failSet[path]
	s.mu.Unlock()
	if err != nil {
		return docstore.Transport("set "+path, err)
	}
	return s.MemoryStore.Set(ctx, path, data, mode)
}

func (s *Store) Add(ctx context.Context, collection string, data docstore.Record) (string, error) {
	s.mu.Lock()
	s.adds = append(s.adds, collection)
	err := s.failAdd[collection]
	s.mu.Unlock()
	if err != nil {
		return "", docstore.Transport("add "+collection, err)
	}
	return s.MemoryStore.Add(ctx, collection, data)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	s.queries++
	err := s.failQuery
	s.mu.Unlock()
	if err != nil {
		return nil, docstore.Transport("query "+q.Collection, err)
	}
	return s.MemoryStore.Query(ctx, q)
}

func (s *Store) WatchDocument(ctx context.Context, path string, fn docstore.DocumentListener) (docstore.Registration, error) {
	s.mu.Lock()
	s.watches++
	err := s.failWatch
	s.mu.Unlock()
	if err != nil {
		return nil, docstore.Transport("watch "+path, err)
	}
	return s.MemoryStore.WatchDocument(ctx, path, fn)
}

func (s *Store) WatchQuery(ctx context.Context, q docstore.Query, fn docstore.QueryListener) (docstore.Registration, error) {
	s.mu.Lock()
	s.watches++
	err := s.failWatch
	s.mu.Unlock()
	if err != nil {
		return nil, docstore.Transport("watch "+q.Collection, err)
	}
	return s.MemoryStore.WatchQuery(ctx, q, func(docs []docstore.Document, err error) {
		s.mu.Lock()
		fault := s.failQuery
		s.mu.Unlock()
		if fault != nil {
			fn(nil, docstore.Transport("query "+q.Collection, fault))
			return
		}
		fn(docs, err)
	})
}

