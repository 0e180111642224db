// Package cache maintains the two coexisting views of every entity: the hash
// entry (data plus change-detection metadata) and the simple key (the raw
// app-facing value legacy readers consume).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"edgesync.shamra.dev/kv"
)

// Entry is the field-map cache record for one entity.
type Entry struct {
	// Data is the raw JSON of the app-facing value.
	Data json.RawMessage
	// DataHash is the canonical content digest of Data.
	DataHash string
	// UpdatedAt is the epoch-millisecond timestamp of the last mutation,
	// kept as a string because that is its wire and storage form.
	UpdatedAt string
	// Version counts successful mutations; the first write yields 1 and the
	// sequence only increases.
	Version uint64
}

// Cache layers the hash-entry and simple-key views over the KV store.
type Cache struct {
	store *kv.Store
	ttl   map[Family]time.Duration
	log   *logrus.Logger
}

// New creates a cache layer. ttl maps families to expiry; a zero or missing
// duration means the family's keys persist between refreshes.
func New(store *kv.Store, ttl map[Family]time.Duration, log *logrus.Logger) *Cache {
	if ttl == nil {
		ttl = map[Family]time.Duration{}
	}
	return &Cache{store: store, ttl: ttl, log: log}
}

// TTL returns the configured expiry for a family (zero = persistent).
func (c *Cache) TTL(f Family) time.Duration {
	return c.ttl[f]
}

// ReadHash returns the hash entry for an entity, or nil when absent.
func (c *Cache) ReadHash(ctx context.Context, f Family, id string) (*Entry, error) {
	fields, err := c.store.HGetAll(ctx, HashKey(f, id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := &Entry{
		DataHash:  fields["data_hash"],
		UpdatedAt: fields["updated_at"],
	}
	if raw, ok := fields["data"]; ok {
		entry.Data = json.RawMessage(raw)
	}
	if v := fields["version"]; v != "" {
		version, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cache: %s %s: bad version %q: %w", f, id, v, err)
		}
		entry.Version = version
	}
	return entry, nil
}

// ReadSimple returns the raw app-facing value for an entity, or nil when
// absent.
func (c *Cache) ReadSimple(ctx context.Context, f Family, id string) (json.RawMessage, error) {
	val, err := c.store.Get(ctx, SimpleKey(f, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(val), nil
}

// WriteBoth persists the hash entry and the simple key for an entity.
// The hash entry is written FIRST: a crash between the two writes leaves a
// state the change detector classifies as silent drift and repairs on the
// next pass, whereas the reverse order could acknowledge a change the hash
// entry never recorded.
func (c *Cache) WriteBoth(ctx context.Context, f Family, id string, value interface{}, dataHash string, version uint64) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: %s %s: encode: %w", f, id, err)
	}

	hashKey := HashKey(f, id)
	fields := map[string]interface{}{
		"data":       string(data),
		"data_hash":  dataHash,
		"updated_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
		"version":    strconv.FormatUint(version, 10),
	}
	if err := c.store.HSet(ctx, hashKey, fields); err != nil {
		return err
	}
	if err := c.applyTTL(ctx, f, hashKey); err != nil {
		return err
	}

	if err := c.store.Set(ctx, SimpleKey(f, id), string(data), c.ttl[f]); err != nil {
		return err
	}
	return nil
}

// WriteSimple overwrites only the simple key. This is the legacy
// price-update path; it deliberately does not touch the hash entry.
func (c *Cache) WriteSimple(ctx context.Context, f Family, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: %s %s: encode: %w", f, id, err)
	}
	return c.store.Set(ctx, SimpleKey(f, id), string(data), c.ttl[f])
}

// DeleteBoth removes both views of an entity.
func (c *Cache) DeleteBoth(ctx context.Context, f Family, id string) error {
	return c.store.Del(ctx, HashKey(f, id), SimpleKey(f, id))
}

// BumpVersion atomically increments the entity's version counter and returns
// the new value. On a fresh entity the counter is created at 1. If the atomic
// increment fails, the fallback reads the current entry and returns its
// version plus one (1 when the entry vanished between read and increment).
func (c *Cache) BumpVersion(ctx context.Context, f Family, id string) (uint64, error) {
	n, err := c.store.HIncrBy(ctx, HashKey(f, id), "version", 1)
	if err == nil {
		return uint64(n), nil
	}

	c.log.WithFields(logrus.Fields{
		"family":    f,
		"entity_id": id,
	}).WithError(err).Warn("version increment failed, falling back to read")

	entry, readErr := c.ReadHash(ctx, f, id)
	if readErr != nil {
		return 0, err
	}
	if entry == nil {
		return 1, nil
	}
	return entry.Version + 1, nil
}

func (c *Cache) applyTTL(ctx context.Context, f Family, key string) error {
	if ttl := c.ttl[f]; ttl > 0 {
		return c.store.Expire(ctx, key, ttl)
	}
	return c.store.Persist(ctx, key)
}
