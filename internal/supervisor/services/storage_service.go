// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/shopfront/internal/logging"
)

// defaultGCInterval spaces out value-log garbage collection runs. Badger
// reclaims space only when asked, so the worker asks periodically.
const defaultGCInterval = 5 * time.Minute

// StorageGCService runs Badger value-log garbage collection on a cadence.
// The queue store and both response caches share one database; this is the
// single maintenance loop for all of them.
type StorageGCService struct {
	db       *badger.DB
	interval time.Duration
}

// NewStorageGCService wraps the shared database.
func NewStorageGCService(db *badger.DB, interval time.Duration) *StorageGCService {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &StorageGCService{db: db, interval: interval}
}

// Serve implements suture.Service.
func (s *StorageGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// 0.5 discard ratio: rewrite a log file when half its space is
			// reclaimable. ErrNoRewrite just means nothing qualified.
			err := s.db.RunValueLogGC(0.5)
			switch {
			case err == nil:
				logging.Debug().Msg("storage value-log GC reclaimed space")
			case errors.Is(err, badger.ErrNoRewrite):
			default:
				logging.Warn().Err(err).Msg("storage value-log GC failed")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *StorageGCService) String() string { return "storage-gc" }
