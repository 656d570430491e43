// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shopfront/internal/logging"
	"github.com/tomtom215/shopfront/internal/metrics"
)

var (
	// ErrCacheMiss indicates no snapshot exists for the request.
	ErrCacheMiss = errors.New("cache: miss")

	// ErrNotCacheable indicates an attempt to store a non-2xx response.
	ErrNotCacheable = errors.New("cache: response not cacheable")
)

// cacheKeyPrefix namespaces all cache entries inside the shared Badger
// instance. Full key layout: cachev:<cache name>:<request digest>.
const cacheKeyPrefix = "cachev:"

// Fetcher retrieves a path from the upstream origin and returns the fully
// materialized response. Implemented by the interceptor's upstream client.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*ResponseSnapshot, error)
}

// Manager owns the named response caches for the current generation.
type Manager struct {
	db      *badger.DB
	fetcher Fetcher

	// precacheName and runtimeName are the current generation tags, e.g.
	// "precache-v3" and "runtime-v3". Any other namespace found in
	// storage is stale and swept by EvictStale.
	precacheName string
	runtimeName  string
}

// NewManager wraps an open Badger instance. The caller keeps ownership of
// the database; the queue store shares the same instance under a
// different key prefix.
func NewManager(db *badger.DB, fetcher Fetcher, precacheName, runtimeName string) (*Manager, error) {
	for _, name := range []string{precacheName, runtimeName} {
		if name == "" || strings.Contains(name, ":") {
			return nil, fmt.Errorf("cache: invalid cache name %q", name)
		}
	}
	return &Manager{
		db:           db,
		fetcher:      fetcher,
		precacheName: precacheName,
		runtimeName:  runtimeName,
	}, nil
}

// PrecacheName returns the current precache generation tag.
func (m *Manager) PrecacheName() string { return m.precacheName }

// RuntimeName returns the current runtime generation tag.
func (m *Manager) RuntimeName() string { return m.runtimeName }

func entryKey(cacheName, method, url string) []byte {
	return []byte(cacheKeyPrefix + cacheName + ":" + requestKey(method, url))
}

// Precache fetches each URL and stores successful responses in the
// precache. Each asset is isolated: a failure is logged and skipped so a
// single unreachable optional asset never blocks activation. Only a
// totally unusable cache engine is a real installation failure, and that
// surfaces when the Badger instance is opened, before this runs.
func (m *Manager) Precache(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return
		}
		snap, err := m.fetcher.Fetch(ctx, url)
		if err != nil || !snap.OK() {
			metrics.PrecacheFailures.Inc()
			logging.Ctx(ctx).Warn().
				Str("url", url).
				Err(err).
				Msg("precache asset skipped")
			continue
		}
		if err := m.Put(ctx, m.precacheName, "GET", url, snap); err != nil {
			metrics.PrecacheFailures.Inc()
			logging.Ctx(ctx).Warn().
				Str("url", url).
				Err(err).
				Msg("precache store skipped")
		}
	}
}

// Match looks up a snapshot for the request identity, precache first and
// runtime second. Returns the snapshot and the cache it came from, or
// ErrCacheMiss.
func (m *Manager) Match(ctx context.Context, method, url string) (*ResponseSnapshot, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	for _, name := range []string{m.precacheName, m.runtimeName} {
		snap, err := m.get(name, method, url)
		if err == nil {
			metrics.CacheHits.WithLabelValues(name).Inc()
			return snap, name, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, "", err
		}
	}

	metrics.CacheMisses.Inc()
	return nil, "", ErrCacheMiss
}

func (m *Manager) get(cacheName, method, url string) (*ResponseSnapshot, error) {
	var snap ResponseSnapshot
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(cacheName, method, url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("cache: get: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Put stores a snapshot under the named cache. Non-2xx responses are
// never cache-worthy and are rejected with ErrNotCacheable.
func (m *Manager) Put(ctx context.Context, cacheName, method, url string, snap *ResponseSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !snap.OK() {
		return ErrNotCacheable
	}

	stored := *snap
	stored.URL = url
	if stored.StoredAt == 0 {
		stored.StoredAt = nowMillis()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(cacheName, method, url), data)
	})
	if err != nil {
		return err
	}

	metrics.CacheWrites.WithLabelValues(cacheName).Inc()
	return nil
}

// Warm fetches each URL and stores 2xx responses in the runtime cache.
// Backs the CACHE_URLS message; failures are skipped silently, matching
// the opportunistic contract.
func (m *Manager) Warm(ctx context.Context, urls []string) {
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return
		}
		snap, err := m.fetcher.Fetch(ctx, url)
		if err != nil || !snap.OK() {
			continue
		}
		if err := m.Put(ctx, m.runtimeName, "GET", url, snap); err != nil {
			logging.Ctx(ctx).Debug().Str("url", url).Err(err).Msg("cache warm skipped")
		}
	}
}

// Names enumerates the cache namespaces currently present in storage,
// including stale generations awaiting eviction.
func (m *Manager) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cacheKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, cacheKeyPrefix)
			if idx := strings.IndexByte(rest, ':'); idx > 0 {
				seen[rest[:idx]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names, nil
}

// EvictStale deletes every cache namespace whose name is not the current
// precache or runtime generation. Run at activation; this is how bumping
// the generation tag invalidates the previous deployment's entries.
func (m *Manager) EvictStale(ctx context.Context) error {
	names, err := m.Names(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if name == m.precacheName || name == m.runtimeName {
			continue
		}
		if err := m.dropNamespace(name); err != nil {
			return fmt.Errorf("cache: evict %s: %w", name, err)
		}
		metrics.CacheEvictedGenerations.Inc()
		logging.Ctx(ctx).Info().Str("cache", name).Msg("stale cache generation evicted")
	}
	return nil
}

func (m *Manager) dropNamespace(name string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(cacheKeyPrefix + name + ":")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
}
