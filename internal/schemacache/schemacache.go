// Package schemacache maps a schema CID to its parsed JSON Schema, with a
// single-flight fetch (at most one concurrent fetch per CID, with all
// waiters observing the same result) and a bounded LRU eviction policy.
// An optional disk layer persists raw schema bytes so repeated runs
// don't refetch unchanged schemas from the content store.
package schemacache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/singleflight"

	"github.com/elephant-xyz/submit-files/internal/store"
)

// ErrSchemaUnavailable is returned when a schema fetch fails, whether
// because the content store errored or the bytes didn't parse as JSON
// Schema. It is never cached: a subsequent Get retries the fetch.
var ErrSchemaUnavailable = errors.New("schema unavailable")

// Fetcher retrieves the raw bytes for a schema CID from the content
// store. The HTTP client backing it is an external collaborator, not
// specified here.
type Fetcher interface {
	Fetch(ctx context.Context, schemaCID string) ([]byte, error)
}

// entry is a SchemaCache cache entry. Owned exclusively by Cache.
type entry struct {
	schema     *gojsonschema.Schema
	raw        []byte
	insertedAt time.Time
}

// Cache implements the SchemaCache component (C4).
type Cache struct {
	fetcher Fetcher
	disk    *store.BlobStore // nil disables the disk layer
	lru     *lru.Cache[string, *entry]
	group   singleflight.Group
}

// New constructs a Cache bounded to size entries. disk may be nil to
// disable the optional disk-persisted layer.
func New(fetcher Fetcher, size int, disk *store.BlobStore) (*Cache, error) {
	if size < 1 {
		size = 1
	}
	l, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, fmt.Errorf("schemacache: %w", err)
	}
	return &Cache{fetcher: fetcher, disk: disk, lru: l}, nil
}

// Get returns the parsed schema for schemaCID, fetching and parsing it
// on a cache miss. Concurrent Get calls for the same CID coalesce into a
// single fetch.
func (c *Cache) Get(ctx context.Context, schemaCID string) (*gojsonschema.Schema, error) {
	if e, ok := c.lru.Get(schemaCID); ok {
		return e.schema, nil
	}

	v, err, _ := c.group.Do(schemaCID, func() (interface{}, error) {
		// Re-check: another caller may have populated the cache while we
		// were waiting to enter this singleflight call.
		if e, ok := c.lru.Get(schemaCID); ok {
			return e.schema, nil
		}

		raw, fromDisk, err := c.readDisk(schemaCID)
		if err != nil {
			return nil, err
		}
		if !fromDisk {
			raw, err = c.fetcher.Fetch(ctx, schemaCID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
			}
			if c.disk != nil {
				// Best-effort: a disk-write failure doesn't fail the fetch.
				_ = c.disk.Put(schemaCID, raw)
			}
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaUnavailable, err)
		}

		e := &entry{schema: schema, raw: raw, insertedAt: time.Now()}
		c.lru.Add(schemaCID, e)
		return schema, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gojsonschema.Schema), nil
}

// Raw returns the raw schema bytes for schemaCID, the document the
// schema validator parses extension keywords from. Populates the cache
// first via Get if schemaCID hasn't been fetched yet.
func (c *Cache) Raw(ctx context.Context, schemaCID string) ([]byte, error) {
	if _, err := c.Get(ctx, schemaCID); err != nil {
		return nil, err
	}
	e, ok := c.lru.Get(schemaCID)
	if !ok {
		return nil, fmt.Errorf("%w: evicted before raw bytes could be read", ErrSchemaUnavailable)
	}
	return e.raw, nil
}

func (c *Cache) readDisk(schemaCID string) ([]byte, bool, error) {
	if c.disk == nil || !c.disk.Has(schemaCID) {
		return nil, false, nil
	}
	data, err := c.disk.Get(schemaCID)
	if err != nil {
		return nil, false, nil // fall through to a network fetch
	}
	return data, true, nil
}

// Len reports the number of entries currently held in the LRU.
func (c *Cache) Len() int {
	return c.lru.Len()
}
