package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Backend) {
	t.Run("get missing document", func(t *testing.T) {
		s := newStore(t)
		doc, err := s.Get(context.Background(), "users/nobody")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc.Exists() || doc.ID != "nobody" {
			t.Fatalf("expected absent document with id, got %+v", doc)
		}
	})

	t.Run("merge keeps untouched fields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "users/u1", Record{"username": "alice", "photoUrl": "p"}, Overwrite); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := s.Set(ctx, "users/u1", Record{"username": "Alice"}, Merge); err != nil {
			t.Fatalf("merge: %v", err)
		}
		doc, err := s.Get(ctx, "users/u1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc.Data["username"] != "Alice" || doc.Data["photoUrl"] != "p" {
			t.Fatalf("unexpected merged data: %+v", doc.Data)
		}
		if err := s.Set(ctx, "users/u1", Record{"username": "bob"}, Overwrite); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		doc, _ = s.Get(ctx, "users/u1")
		if _, ok := doc.Data["photoUrl"]; ok {
			t.Fatalf("overwrite should drop photoUrl: %+v", doc.Data)
		}
	})

	t.Run("merge creates missing document", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "chats/a_b", Record{"lastSenderId": "a"}, Merge); err != nil {
			t.Fatalf("merge: %v", err)
		}
		doc, _ := s.Get(ctx, "chats/a_b")
		if doc.Data["lastSenderId"] != "a" {
			t.Fatalf("unexpected data: %+v", doc.Data)
		}
	})

	t.Run("server timestamp is resolved", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "chats/a_b", Record{"updatedAt": ServerTimestamp}, Merge); err != nil {
			t.Fatalf("set: %v", err)
		}
		doc, _ := s.Get(ctx, "chats/a_b")
		v := doc.Data["updatedAt"]
		if v == nil || IsServerTimestamp(v) {
			t.Fatalf("expected resolved timestamp, got %#v", v)
		}
	})

	t.Run("query orders filters and limits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for id, key := range map[string]string{"u1": "jo", "u2": "john", "u3": "jane", "u4": "kim"} {
			if err := s.Set(ctx, Join("users", id), Record{"searchKey": key}, Overwrite); err != nil {
				t.Fatalf("set %s: %v", id, err)
			}
		}
		if err := s.Set(ctx, "users/u5", Record{"username": "nokey"}, Overwrite); err != nil {
			t.Fatalf("set: %v", err)
		}

		docs, err := s.Query(ctx, Query{Collection: "users", OrderBy: "searchKey", StartAt: "jo", EndBefore: "jo\uffff"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if got := ids(docs); len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
			t.Fatalf("unexpected range result: %v", got)
		}

		docs, err = s.Query(ctx, Query{Collection: "users", OrderBy: "searchKey", Direction: Desc, Limit: 1})
		if err != nil {
			t.Fatalf("query desc: %v", err)
		}
		if got := ids(docs); len(got) != 1 || got[0] != "u4" {
			t.Fatalf("unexpected desc result: %v", got)
		}

		docs, err = s.Query(ctx, Query{Collection: "users", OrderBy: "searchKey"})
		if err != nil {
			t.Fatalf("query all: %v", err)
		}
		if len(docs) != 4 {
			t.Fatalf("documents without the order field must be excluded, got %v", ids(docs))
		}
	})

	t.Run("add assigns ids in subcollections", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.Add(ctx, "chats/a_b/messages", Record{"body": "hi"})
		if err != nil || id == "" {
			t.Fatalf("add: id=%q err=%v", id, err)
		}
		doc, err := s.Get(ctx, Join("chats/a_b/messages", id))
		if err != nil || doc.Data["body"] != "hi" {
			t.Fatalf("get added: %+v %v", doc, err)
		}
	})

	t.Run("invalid paths are rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Set(ctx, "users", Record{}, Merge); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath, got %v", err)
		}
		if _, err := s.Add(ctx, "users/u1", Record{}); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath, got %v", err)
		}
		if _, err := s.Query(ctx, Query{Collection: "users"}); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("expected ErrInvalidQuery, got %v", err)
		}
	})

	t.Run("watch document delivers current state then changes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		events := make(chan Document, 16)
		reg, err := s.WatchDocument(ctx, "users/u1", func(doc Document, err error) {
			if err == nil {
				events <- doc
			}
		})
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
		defer reg.Remove()

		first := waitDocument(t, events, func(d Document) bool { return true })
		if first.Exists() {
			t.Fatalf("expected initial absent document, got %+v", first)
		}
		if err := s.Set(ctx, "users/u1", Record{"username": "alice"}, Merge); err != nil {
			t.Fatalf("set: %v", err)
		}
		waitDocument(t, events, func(d Document) bool { return d.Data["username"] == "alice" })
	})

	t.Run("watch query follows the collection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		events := make(chan []Document, 16)
		q := Query{Collection: "chats/a_b/messages", OrderBy: "body"}
		reg, err := s.WatchQuery(ctx, q, func(docs []Document, err error) {
			if err == nil {
				events <- docs
			}
		})
		if err != nil {
			t.Fatalf("watch query: %v", err)
		}
		defer reg.Remove()

		waitDocs(t, events, func(docs []Document) bool { return len(docs) == 0 })
		if _, err := s.Add(ctx, q.Collection, Record{"body": "b"}); err != nil {
			t.Fatalf("add: %v", err)
		}
		if _, err := s.Add(ctx, q.Collection, Record{"body": "a"}); err != nil {
			t.Fatalf("add: %v", err)
		}
		waitDocs(t, events, func(docs []Document) bool {
			return len(docs) == 2 && docs[0].Data["body"] == "a" && docs[1].Data["body"] == "b"
		})
	})

	t.Run("removed registration stays silent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		events := make(chan Document, 16)
		reg, err := s.WatchDocument(ctx, "users/u1", func(doc Document, err error) {
			events <- doc
		})
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
		waitDocument(t, events, func(Document) bool { return true })
		reg.Remove()
		reg.Remove()

		if err := s.Set(ctx, "users/u1", Record{"username": "late"}, Merge); err != nil {
			t.Fatalf("set: %v", err)
		}
		select {
		case doc := <-events:
			t.Fatalf("unexpected delivery after remove: %+v", doc)
		case <-time.After(150 * time.Millisecond):
		}
	})
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func waitDocument(t *testing.T, events <-chan Document, match func(Document) bool) Document {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case doc := <-events:
			if match(doc) {
				return doc
			}
		case <-deadline:
			t.Fatalf("timed out waiting for document event")
		}
	}
}

func waitDocs(t *testing.T, events <-chan []Document, match func([]Document) bool) []Document {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case docs := <-events:
			if match(docs) {
				return docs
			}
		case <-deadline:
			t.Fatalf("timed out waiting for query event")
		}
	}
}
