package docstore

import (
	"context"
	"errors"
	"time"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chattersync/internal/util"
)

const defaultListenRetry = 2 * time.Second

// FirestoreStore adapts a Cloud Firestore client. Timestamps are assigned by
// the server and live updates come from Firestore snapshot listeners.
type FirestoreStore struct {
	client      *gfs.Client
	listenRetry time.Duration
}

func NewFirestoreStore(client *gfs.Client) *FirestoreStore {
	return &FirestoreStore{client: client, listenRetry: defaultListenRetry}
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (Document, error) {
	_, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	snap, err := s.client.Doc(path).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Document{ID: id, Path: path}, nil
	}
	if err != nil {
		return Document{}, Transport("get "+path, err)
	}
	return fromSnapshot(path, snap), nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, data Record, mode WriteMode) error {
	if _, _, err := SplitPath(path); err != nil {
		return err
	}
	var opts []gfs.SetOption
	if mode == Merge {
		opts = append(opts, gfs.MergeAll)
	}
	if _, err := s.client.Doc(path).Set(ctx, toFirestore(data), opts...); err != nil {
		return Transport("set "+path, err)
	}
	return nil
}

func (s *FirestoreStore) Add(ctx context.Context, collection string, data Record) (string, error) {
	if _, err := splitCollection(collection); err != nil {
		return "", err
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestore(data))
	if err != nil {
		return "", Transport("add "+collection, err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) query(q Query) gfs.Query {
	dir := gfs.Asc
	if q.Direction == Desc {
		dir = gfs.Desc
	}
	fq := s.client.Collection(q.Collection).OrderBy(q.OrderBy, dir)
	if q.StartAt != nil {
		fq = fq.StartAt(q.StartAt)
	}
	if q.EndBefore != nil {
		fq = fq.EndBefore(q.EndBefore)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func (s *FirestoreStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	iter := s.query(q).Documents(ctx)
	defer iter.Stop()
	docs := make([]Document, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, Transport("query "+q.Collection, err)
		}
		docs = append(docs, fromSnapshot(Join(q.Collection, snap.Ref.ID), snap))
	}
	return docs, nil
}

func (s *FirestoreStore) WatchDocument(ctx context.Context, path string, fn DocumentListener) (Registration, error) {
	_, id, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	ref := s.client.Doc(path)
	return s.listen(ctx, path, func(ctx context.Context) error {
		it := ref.Snapshots(ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if snap == nil || !snap.Exists() {
				fn(Document{ID: id, Path: path}, nil)
				continue
			}
			fn(fromSnapshot(path, snap), nil)
		}
	}, func(err error) {
		fn(Document{}, err)
	}), nil
}

func (s *FirestoreStore) WatchQuery(ctx context.Context, q Query, fn QueryListener) (Registration, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	fq := s.query(q)
	return s.listen(ctx, q.Collection, func(ctx context.Context) error {
		it := fq.Snapshots(ctx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				return err
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			docs := make([]Document, 0, len(snaps))
			for _, snap := range snaps {
				docs = append(docs, fromSnapshot(Join(q.Collection, snap.Ref.ID), snap))
			}
			fn(docs, nil)
		}
	}, func(err error) {
		fn(nil, err)
	}), nil
}

type listenRegistration struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *listenRegistration) Remove() {
	r.cancel()
	<-r.done
}

// listen runs stream until the registration is removed. A broken stream is
// reported once through fail and re-opened after listenRetry.
func (s *FirestoreStore) listen(ctx context.Context, key string, stream func(context.Context) error, fail func(error)) Registration {
	wctx, cancel := context.WithCancel(ctx)
	reg := &listenRegistration{cancel: cancel, done: make(chan struct{})}
	logger := util.LoggerFromContext(ctx)
	go func() {
		defer close(reg.done)
		for {
			err := stream(wctx)
			if wctx.Err() != nil || status.Code(err) == codes.Canceled {
				return
			}
			logger.Warn("firestore listener broken", "key", key, "err", err)
			fail(Transport("watch "+key, err))
			select {
			case <-wctx.Done():
				return
			case <-time.After(s.listenRetry):
			}
		}
	}()
	return reg
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func fromSnapshot(path string, snap *gfs.DocumentSnapshot) Document {
	doc := Document{ID: snap.Ref.ID, Path: path}
	if snap.Exists() {
		doc.Data = Record(snap.Data())
	}
	return doc
}

// toFirestore swaps the ServerTimestamp sentinel for Firestore's transform.
func toFirestore(data Record) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v any) any {
	switch val := v.(type) {
	case serverTimestamp:
		return gfs.ServerTimestamp
	case Record:
		return toFirestore(val)
	case map[string]any:
		return toFirestore(Record(val))
	default:
		return v
	}
}
