package docstore

import "context"

// DocumentEvent is one delivery of a document registration.
type DocumentEvent struct {
	Doc Document
	Err error
}

// QueryEvent is one delivery of a query registration.
type QueryEvent struct {
	Docs []Document
	Err  error
}

// StreamDocument turns a document registration into a channel that closes
// when ctx is done. A failed registration yields one error event and closes.
func StreamDocument(ctx context.Context, s Store, path string) <-chan DocumentEvent {
	out := make(chan DocumentEvent)
	reg, err := s.WatchDocument(ctx, path, func(doc Document, err error) {
		select {
		case out <- DocumentEvent{Doc: doc, Err: err}:
		case <-ctx.Done():
		}
	})
	go forward(ctx, reg, err, out, DocumentEvent{Err: err})
	return out
}

// StreamQuery is StreamDocument for ordered query results.
func StreamQuery(ctx context.Context, s Store, q Query) <-chan QueryEvent {
	out := make(chan QueryEvent)
	reg, err := s.WatchQuery(ctx, q, func(docs []Document, err error) {
		select {
		case out <- QueryEvent{Docs: docs, Err: err}:
		case <-ctx.Done():
		}
	})
	go forward(ctx, reg, err, out, QueryEvent{Err: err})
	return out
}

func forward[E any](ctx context.Context, reg Registration, err error, out chan E, failed E) {
	defer close(out)
	if err != nil {
		select {
		case out <- failed:
		case <-ctx.Done():
		}
		return
	}
	<-ctx.Done()
	reg.Remove()
}
