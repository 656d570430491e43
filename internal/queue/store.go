// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shopfront/internal/logging"
)

// Error taxonomy for the durable queue store. Callers branch on these with
// errors.Is; everything else wraps a badger or serialization failure.
var (
	// ErrStorageUnavailable indicates the underlying engine could not be
	// opened (permissions, lock held by another process, quota denial).
	ErrStorageUnavailable = errors.New("queue: storage unavailable")

	// ErrWriteConflict indicates an insert collided with an existing id.
	// Given the id generation strategy this must not happen; it is a
	// backstop, not a control-flow path.
	ErrWriteConflict = errors.New("queue: record id already exists")

	// ErrStorageFull indicates quota exhaustion on write.
	ErrStorageFull = errors.New("queue: storage full")

	// ErrNotFound indicates no record matched a lookup.
	ErrNotFound = errors.New("queue: record not found")
)

// recordKeyPrefix namespaces queue records inside the shared Badger
// instance (the response caches use their own prefixes).
const recordKeyPrefix = "cartq:"

// Store is the Badger-backed durable queue of pending cart mutations.
//
// All operations are transactional: a failure mid-operation leaves the
// store in its prior consistent state. Concurrent access is serialized by
// Badger's transactions; no additional locking is layered on top.
type Store struct {
	db     *badger.DB
	ownsDB bool
}

// NewStore wraps an already-open Badger instance. The caller remains
// responsible for closing the database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if necessary) a Badger database at dir and returns
// a store owning it. Idempotent across restarts: the key space needs no
// migration, so "ensuring the table exists" reduces to opening the engine.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &Store{db: db, ownsDB: true}, nil
}

// Close releases the underlying database if this store owns it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func recordKey(id string) []byte {
	return []byte(recordKeyPrefix + id)
}

// Add persists a record atomically, stamping CreatedAt. Returns
// ErrWriteConflict when the id already exists and ErrStorageFull when the
// engine rejects the write for size reasons.
func (s *Store) Add(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("queue: add: empty record id")
	}
	if !rec.Action.Valid() {
		return fmt.Errorf("queue: add: invalid action %q", rec.Action)
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = nowMillis()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: marshal record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := recordKey(rec.ID)
		_, getErr := txn.Get(key)
		switch {
		case getErr == nil:
			return ErrWriteConflict
		case !errors.Is(getErr, badger.ErrKeyNotFound):
			return fmt.Errorf("queue: check id: %w", getErr)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("%w: %v", ErrStorageFull, err)
		}
		return err
	}

	logging.Ctx(ctx).Debug().
		Str("record_id", rec.ID).
		Str("action", string(rec.Action)).
		Str("user_id", rec.UserID).
		Msg("queue record persisted")
	return nil
}

// GetAll returns every pending record. Order is not significant to
// correctness; records come back sorted by id, which for generated ids
// approximates insertion order.
func (s *Store) GetAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("queue: unmarshal record: %w", err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// RemoveMatching deletes the first pending add whose product id equals
// productID. Queued removes never match: retracting one remove with
// another would collapse two cart mutations into none. Returns true when
// a record was deleted and false (with nil error) when none matched: a
// remove against an empty pairing is a no-op.
func (s *Store) RemoveMatching(ctx context.Context, productID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if productID == "" {
		return false, nil
	}

	removed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var rec Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("queue: unmarshal record: %w", err)
			}
			if rec.Action != ActionAdd || rec.ProductID() != productID {
				continue
			}
			if err := txn.Delete(item.KeyCopy(nil)); err != nil {
				return fmt.Errorf("queue: delete record: %w", err)
			}
			removed = true
			return nil
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed {
		logging.Ctx(ctx).Debug().
			Str("product_id", productID).
			Msg("queued add retracted by remove")
	}
	return removed, nil
}

// DeleteIDs atomically deletes exactly the given ids. Ids that no longer
// exist are skipped. The synchronizer uses this to clear the snapshot it
// synced without racing records enqueued while the sync was in flight.
func (s *Store) DeleteIDs(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			err := txn.Delete(recordKey(id))
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("queue: delete %s: %w", id, err)
			}
		}
		return nil
	})
}

// Clear atomically empties the store. Reserved for operator tooling; the
// synchronizer always deletes its snapshot id set instead.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return fmt.Errorf("queue: clear: %w", err)
			}
		}
		return nil
	})
}

// Len returns the number of pending records.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
