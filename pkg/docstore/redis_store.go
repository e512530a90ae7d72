package docstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"chattersync/internal/util"
)

const defaultRedisPrefix = "chattersync"

// RedisStore keeps each document as a JSON string and tracks collection
// membership in a set. Writes publish on per-document and per-collection
// channels, which drive live registrations on any process sharing the
// server.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to addr. prefix namespaces every key.
func NewRedisStore(addr, password, prefix string) (*RedisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return NewRedisStoreWithClient(client, prefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) docKey(path string) string {
	return s.prefix + ":doc:" + path
}

func (s *RedisStore) collectionKey(collection string) string {
	return s.prefix + ":col:" + collection
}

func (s *RedisStore) changeChannel(key string) string {
	return s.prefix + ":chg:" + key
}

func (s *RedisStore) Get(ctx context.Context, path string) (Document, error) {
	_, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	raw, err := s.client.Get(ctx, s.docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{ID: id, Path: path}, nil
	}
	if err != nil {
		return Document{}, Transport("get "+path, err)
	}
	data, err := unmarshalRecord(raw)
	if err != nil {
		return Document{}, Transport("get "+path, err)
	}
	return Document{ID: id, Path: path, Data: data}, nil
}

func (s *RedisStore) Set(ctx context.Context, path string, data Record, mode WriteMode) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	resolved := resolveRecord(data, s.now())
	if resolved == nil {
		resolved = Record{}
	}
	if mode == Merge {
		err = s.mergeDocument(ctx, collection, id, path, resolved)
	} else {
		err = s.writeDocument(ctx, s.client, collection, id, path, resolved)
	}
	if err != nil {
		return Transport("set "+path, err)
	}
	s.publish(ctx, path, collection)
	return nil
}

func (s *RedisStore) Add(ctx context.Context, collection string, data Record) (string, error) {
	if _, err := splitCollection(collection); err != nil {
		return "", err
	}
	id := util.NewID()
	path := Join(collection, id)
	resolved := resolveRecord(data, s.now())
	if resolved == nil {
		resolved = Record{}
	}
	if err := s.writeDocument(ctx, s.client, collection, id, path, resolved); err != nil {
		return "", Transport("add "+collection, err)
	}
	s.publish(ctx, path, collection)
	return id, nil
}

// mergeDocument retries the read-modify-write while another writer races on
// the same key.
func (s *RedisStore) mergeDocument(ctx context.Context, collection, id, path string, patch Record) error {
	key := s.docKey(path)
	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			base := Record{}
			raw, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if base, err = unmarshalRecord(raw); err != nil {
					return err
				}
			}
			merged := mergeRecords(base, patch)
			return s.writeDocument(ctx, tx, collection, id, path, merged)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return redis.TxFailedErr
}

type pipeliner interface {
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

func (s *RedisStore) writeDocument(ctx context.Context, c pipeliner, collection, id, path string, data Record) error {
	raw, err := marshalRecord(data)
	if err != nil {
		return err
	}
	_, err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(path), raw, 0)
		pipe.SAdd(ctx, s.collectionKey(collection), id)
		return nil
	})
	return err
}

// publish is best-effort; a lost signal only delays listeners until the next
// write.
func (s *RedisStore) publish(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := s.client.Publish(ctx, s.changeChannel(key), "1").Err(); err != nil {
			util.LoggerFromContext(ctx).Warn("docstore change publish failed", "key", key, "err", err)
		}
	}
}

func (s *RedisStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	ids, err := s.client.SMembers(ctx, s.collectionKey(q.Collection)).Result()
	if err != nil {
		return nil, Transport("query "+q.Collection, err)
	}
	if len(ids) == 0 {
		return []Document{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(Join(q.Collection, id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, Transport("query "+q.Collection, err)
	}
	docs := make([]Document, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		data, err := unmarshalRecord([]byte(raw))
		if err != nil {
			util.LoggerFromContext(ctx).Warn("docstore skipped unreadable document", "collection", q.Collection, "id", ids[i], "err", err)
			continue
		}
		docs = append(docs, Document{ID: ids[i], Path: Join(q.Collection, ids[i]), Data: data})
	}
	encoded := q
	encoded.StartAt = encodeBound(q.StartAt)
	encoded.EndBefore = encodeBound(q.EndBefore)
	return applyQuery(encoded, docs), nil
}

func (s *RedisStore) WatchDocument(ctx context.Context, path string, fn DocumentListener) (Registration, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}
	return s.subscribe(ctx, path, func(ctx context.Context) {
		doc, err := s.Get(ctx, path)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	})
}

func (s *RedisStore) WatchQuery(ctx context.Context, q Query, fn QueryListener) (Registration, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	return s.subscribe(ctx, q.Collection, func(ctx context.Context) {
		docs, err := s.Query(ctx, q)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	})
}

type redisRegistration struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *RedisStore) subscribe(ctx context.Context, key string, emit func(context.Context)) (Registration, error) {
	channel := s.changeChannel(key)
	ps := s.client.Subscribe(ctx, channel)
	// Receive the confirmation so no write after registration is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, Transport("watch "+key, err)
	}
	wctx, cancel := context.WithCancel(ctx)
	reg := &redisRegistration{pubsub: ps, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(reg.done)
		msgs := ps.Channel()
		emit(wctx)
		for {
			select {
			case <-wctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
			}
			// Collapse a burst into one re-read.
			for drained := false; !drained; {
				select {
				case _, ok := <-msgs:
					if !ok {
						return
					}
				default:
					drained = true
				}
			}
			if wctx.Err() != nil {
				return
			}
			emit(wctx)
		}
	}()
	return reg, nil
}

func (r *redisRegistration) Remove() {
	r.once.Do(func() {
		r.cancel()
		_ = r.pubsub.Close()
		<-r.done
	})
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
