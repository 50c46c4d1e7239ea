// Package dedupe holds the local duplicate-detection state: a durable
// fingerprint cache backed by the cache database, and a short-lived
// in-memory set guarding near-simultaneous batches. Both are advisory;
// the remote store's own dedup query stays authoritative.
package dedupe

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// rebuildChunk bounds the rows per INSERT during a rebuild.
const rebuildChunk = 500

// FingerprintEntry is one cached dedup identity. Entries live until an
// explicit rebuild or clear; there is no automatic eviction.
type FingerprintEntry struct {
	Fingerprint string    `gorm:"type:text;primaryKey" json:"fingerprint"`
	InsertedAt  time.Time `json:"inserted_at"`
}

// TableName returns the database table name for FingerprintEntry.
func (FingerprintEntry) TableName() string {
	return "seen_fingerprints"
}

// Cache is a durable set of content fingerprints for fast membership
// tests. A hit is sufficient to skip an item without a remote call; a
// miss falls through to the remote store's batched dedup query.
type Cache struct {
	db *gorm.DB

	initOnce sync.Once
	initErr  error
}

// NewCache creates a Cache on top of an opened cache database.
func NewCache(db *gorm.DB) *Cache {
	return &Cache{db: db}
}

// Init prepares the cache table. It is idempotent and collapses
// concurrent initializers into a single migration run.
func (c *Cache) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.db.WithContext(ctx).AutoMigrate(&FingerprintEntry{})
	})
	return c.initErr
}

// Add records one fingerprint. Re-adding a known fingerprint is a
// no-op, not an error.
func (c *Cache) Add(ctx context.Context, fingerprint string) error {
	entry := FingerprintEntry{Fingerprint: fingerprint, InsertedAt: time.Now()}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry).Error
}

// AddMany records fingerprints as one logical bulk transaction.
func (c *Cache) AddMany(ctx context.Context, fingerprints []string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return addManyTx(tx, fingerprints)
	})
}

func addManyTx(tx *gorm.DB, fingerprints []string) error {
	now := time.Now()
	entries := make([]FingerprintEntry, 0, len(fingerprints))
	for _, fp := range fingerprints {
		entries = append(entries, FingerprintEntry{Fingerprint: fp, InsertedAt: now})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(entries, rebuildChunk).Error
}

// HasAny returns the subset of fingerprints present in the cache.
func (c *Cache) HasAny(ctx context.Context, fingerprints []string) (map[string]struct{}, error) {
	hits := make(map[string]struct{})
	if len(fingerprints) == 0 {
		return hits, nil
	}
	var found []string
	err := c.db.WithContext(ctx).
		Model(&FingerprintEntry{}).
		Where("fingerprint IN ?", fingerprints).
		Pluck("fingerprint", &found).Error
	if err != nil {
		return nil, err
	}
	for _, fp := range found {
		hits[fp] = struct{}{}
	}
	return hits, nil
}

// Has reports whether a single fingerprint is cached.
func (c *Cache) Has(ctx context.Context, fingerprint string) (bool, error) {
	var count int64
	err := c.db.WithContext(ctx).
		Model(&FingerprintEntry{}).
		Where("fingerprint = ?", fingerprint).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Clear removes every cached fingerprint.
func (c *Cache) Clear(ctx context.Context) error {
	return c.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&FingerprintEntry{}).Error
}

// Count returns the number of cached fingerprints.
func (c *Cache) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.WithContext(ctx).Model(&FingerprintEntry{}).Count(&count).Error
	return count, err
}

// RebuildFrom replaces the entire cache with the given fingerprints in
// one transaction (clear + bulk insert).
func (c *Cache) RebuildFrom(ctx context.Context, fingerprints []string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&FingerprintEntry{}).Error; err != nil {
			return err
		}
		return addManyTx(tx, fingerprints)
	})
}

// Rebuild re-derives the whole cache by walking an external
// fingerprint scan page by page inside a single transaction. Cost is
// O(total persisted records); meant for recovery after cache loss, not
// routine use.
func (c *Cache) Rebuild(ctx context.Context, scan func(ctx context.Context, fn func(page []string) error) error) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&FingerprintEntry{}).Error; err != nil {
			return err
		}
		return scan(ctx, func(page []string) error {
			return addManyTx(tx, page)
		})
	})
}
