package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chattersync/internal/util"
)

// GormStore persists documents as jsonb rows in Postgres. Live updates cover
// writes made through this process only.
type GormStore struct {
	db  *gorm.DB
	hub *hub
	now func() time.Time
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{
		db:  db,
		hub: newHub(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *GormStore) Get(ctx context.Context, path string) (Document, error) {
	_, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "path = ?", path).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Document{ID: id, Path: path}, nil
		}
		return Document{}, Transport("get "+path, err)
	}
	data, err := unmarshalRecord(model.Data)
	if err != nil {
		return Document{}, Transport("get "+path, err)
	}
	return Document{ID: id, Path: path, Data: data}, nil
}

func (s *GormStore) Set(ctx context.Context, path string, data Record, mode WriteMode) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	now := s.now()
	resolved := resolveRecord(data, now)
	if resolved == nil {
		resolved = Record{}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if mode == Merge {
			var existing DocumentModel
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, "path = ?", path).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
			case err != nil:
				return err
			default:
				base, err := unmarshalRecord(existing.Data)
				if err != nil {
					return err
				}
				resolved = mergeRecords(base, resolved)
			}
		}
		return s.save(tx, collection, id, path, resolved, now)
	})
	if err != nil {
		return Transport("set "+path, err)
	}
	s.hub.publish(path, collection)
	return nil
}

func (s *GormStore) Add(ctx context.Context, collection string, data Record) (string, error) {
	if _, err := splitCollection(collection); err != nil {
		return "", err
	}
	now := s.now()
	id := util.NewID()
	path := Join(collection, id)
	resolved := resolveRecord(data, now)
	if resolved == nil {
		resolved = Record{}
	}
	if err := s.save(s.db.WithContext(ctx), collection, id, path, resolved, now); err != nil {
		return "", Transport("add "+collection, err)
	}
	s.hub.publish(path, collection)
	return id, nil
}

func (s *GormStore) save(db *gorm.DB, collection, id, path string, data Record, now time.Time) error {
	raw, err := marshalRecord(data)
	if err != nil {
		return err
	}
	model := DocumentModel{
		Path:       path,
		Collection: collection,
		DocID:      id,
		Data:       datatypes.JSON(raw),
		UpdatedAt:  now,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&model).Error
}

// Query narrows rows in SQL by field presence and string bounds, then orders
// in process so mixed value types compare the same way on every backend.
func (s *GormStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	encoded := q
	encoded.StartAt = encodeBound(q.StartAt)
	encoded.EndBefore = encodeBound(q.EndBefore)

	db := s.db.WithContext(ctx).
		Where("collection = ?", q.Collection).
		Where(datatypes.JSONQuery("data").HasKey(q.OrderBy))
	if v, ok := encoded.StartAt.(string); ok {
		db = db.Where(`(data ->> ?) COLLATE "C" >= ?`, q.OrderBy, v)
	}
	if v, ok := encoded.EndBefore.(string); ok {
		db = db.Where(`(data ->> ?) COLLATE "C" < ?`, q.OrderBy, v)
	}
	var models []DocumentModel
	if err := db.Find(&models).Error; err != nil {
		return nil, Transport("query "+q.Collection, err)
	}
	docs := make([]Document, 0, len(models))
	for _, m := range models {
		data, err := unmarshalRecord(m.Data)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("docstore skipped unreadable document", "path", m.Path, "err", err)
			continue
		}
		docs = append(docs, Document{ID: m.DocID, Path: m.Path, Data: data})
	}
	return applyQuery(encoded, docs), nil
}

func (s *GormStore) WatchDocument(ctx context.Context, path string, fn DocumentListener) (Registration, error) {
	if _, _, err := SplitPath(path); err != nil {
		return nil, err
	}
	return s.hub.watch(ctx, path, func(ctx context.Context) {
		doc, err := s.Get(ctx, path)
		if ctx.Err() != nil {
			return
		}
		fn(doc, err)
	}), nil
}

func (s *GormStore) WatchQuery(ctx context.Context, q Query, fn QueryListener) (Registration, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	return s.hub.watch(ctx, q.Collection, func(ctx context.Context) {
		docs, err := s.Query(ctx, q)
		if ctx.Err() != nil {
			return
		}
		fn(docs, err)
	}), nil
}

// Close stops live registrations and the connection pool.
func (s *GormStore) Close() error {
	s.hub.closeAll()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
