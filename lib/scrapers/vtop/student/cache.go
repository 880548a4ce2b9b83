package student

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"
	"vtopassist-backend/lib/timezone"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrPageNotCached = badger.ErrKeyNotFound

// cachedPage is the stored shape of one faculty profile page.
type cachedPage struct {
	Contents  string
	ExpiresAt int64
}

// PageCache persists faculty profile pages in badger. Profiles change
// on the order of semesters, so a long TTL saves the portal a lot of
// identical fetches.
type PageCache struct {
	db  *badger.DB
	ttl time.Duration
}

func NewPageCache(db *badger.DB, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PageCache{db: db, ttl: ttl}
}

func (c *PageCache) key(employeeID string) []byte {
	return []byte("faculty:" + employeeID)
}

func (c *PageCache) Get(ctx context.Context, employeeID string) (string, error) {
	ctx, span := tracer.Start(ctx, "PageCache.Get")
	defer span.End()
	span.SetAttributes(attribute.String("employeeId", employeeID))

	tx := c.db.NewTransaction(false)
	defer tx.Discard()

	item, err := tx.Get(c.key(employeeID))
	if err == badger.ErrKeyNotFound {
		return "", ErrPageNotCached
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return "", err
	}
	serialized, err := item.ValueCopy(nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy cached item")
		return "", err
	}

	var cached cachedPage
	if err := gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached item")
		return "", err
	}

	if timezone.Now().Unix() >= cached.ExpiresAt {
		span.AddEvent("delete expired cache key", trace.WithAttributes(
			attribute.String("employeeId", employeeID),
		))

		tx := c.db.NewTransaction(true)
		defer tx.Commit()
		if err := tx.Delete(c.key(employeeID)); err != nil {
			span.RecordError(err)
		}
		return "", ErrPageNotCached
	}

	return cached.Contents, nil
}

func (c *PageCache) Set(ctx context.Context, employeeID string, contents string) error {
	ctx, span := tracer.Start(ctx, "PageCache.Set")
	defer span.End()
	span.SetAttributes(attribute.String("employeeId", employeeID))

	serialized := bytes.NewBuffer(nil)
	err := gob.NewEncoder(serialized).Encode(cachedPage{
		Contents:  contents,
		ExpiresAt: timezone.Now().Add(c.ttl).Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize page")
		return err
	}

	tx := c.db.NewTransaction(true)
	defer tx.Commit()

	if err := tx.Set(c.key(employeeID), serialized.Bytes()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}
	return nil
}
