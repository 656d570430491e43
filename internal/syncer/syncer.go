// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package syncer drains the durable cart queue to the remote sync
// endpoint with idempotent, at-least-once delivery. A failed attempt
// leaves the store untouched and is safe to retry verbatim; a successful
// attempt deletes exactly the snapshot of ids it synced, so records
// enqueued while the attempt was in flight are never lost.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/shopfront/internal/logging"
	"github.com/tomtom215/shopfront/internal/metrics"
	"github.com/tomtom215/shopfront/internal/queue"
)

// ErrSyncFailed wraps any transport or status failure of a sync attempt.
// The queue is guaranteed untouched when it is returned.
var ErrSyncFailed = errors.New("syncer: sync attempt failed")

// syncPath is the remote endpoint path appended to the API base.
const syncPath = "/api/cart/sync"

// Broadcaster delivers completion notifications to attached foreground
// instances. Implemented by the messenger hub; a broadcast with no
// attached instance is dropped harmlessly.
type Broadcaster interface {
	BroadcastSynced(ctx context.Context, count int)
}

// Outcome classifies a sync attempt for logging and metrics.
type Outcome string

const (
	// OutcomeEmpty means the store had nothing pending.
	OutcomeEmpty Outcome = "empty"

	// OutcomeInertCleared means the store held only removes with nothing
	// to reconcile; they were cleared without a wire call.
	OutcomeInertCleared Outcome = "inert_cleared"

	// OutcomeSynced means the endpoint accepted the batch.
	OutcomeSynced Outcome = "synced"

	// OutcomeFailed means the attempt failed and the store is untouched.
	OutcomeFailed Outcome = "failed"
)

// wireItem is one sync payload entry, one per pending add record.
type wireItem struct {
	UserID    string            `json:"userId"`
	Timestamp string            `json:"timestamp"`
	Total     float64           `json:"total"`
	Items     []json.RawMessage `json:"items"`
	CreatedAt int64             `json:"createdAt"`
}

// wirePayload is the request body: all-or-nothing per attempt, no
// partial-success handling.
type wirePayload struct {
	Items []wireItem `json:"items"`
}

// Syncer drains the queue store against the remote endpoint.
type Syncer struct {
	store  *queue.Store
	client *http.Client
	notify Broadcaster

	// breaker skips obviously-futile attempts after repeated transport
	// failures. Advisory only: an open breaker counts as a plain failed
	// attempt and the queue stays intact, because the fetch outcome is
	// the sole authority on reachability.
	breaker *gobreaker.CircuitBreaker[int]

	// mu guards baseURL, the one piece of process-wide mutable
	// configuration. The override is deliberately not persisted; a
	// recycled worker resets to the compiled-in default and foregrounds
	// re-send SET_API_BASE_URL on attach.
	mu      sync.RWMutex
	baseURL string
}

// New builds a syncer with the given default API base URL.
func New(store *queue.Store, baseURL string, timeout time.Duration, notify Broadcaster) *Syncer {
	settings := gobreaker.Settings{
		Name:    "cart-sync",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Syncer{
		store:   store,
		client:  &http.Client{Timeout: timeout},
		notify:  notify,
		breaker: gobreaker.NewCircuitBreaker[int](settings),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SetAPIBaseURL overrides the remote endpoint base for this worker's
// lifetime. Empty input is ignored.
func (s *Syncer) SetAPIBaseURL(baseURL string) {
	if baseURL == "" {
		return
	}
	s.mu.Lock()
	s.baseURL = strings.TrimRight(baseURL, "/")
	s.mu.Unlock()
	logging.Info().Str("base_url", baseURL).Msg("sync endpoint base overridden")
}

// APIBaseURL returns the currently effective endpoint base.
func (s *Syncer) APIBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// Sync performs one drain attempt. Safe to call from any trigger source
// and safe to retry verbatim after a failure; the idempotent point of
// retry is the initial read.
func (s *Syncer) Sync(ctx context.Context) (Outcome, error) {
	start := time.Now()
	outcome, err := s.sync(ctx)
	metrics.SyncAttempts.WithLabelValues(string(outcome)).Inc()
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	return outcome, err
}

func (s *Syncer) sync(ctx context.Context) (Outcome, error) {
	records, err := s.store.GetAll(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	if len(records) == 0 {
		return OutcomeEmpty, nil
	}

	// Snapshot the id set being synced. Only these ids are deleted on
	// success; anything enqueued from here on belongs to the next round.
	snapshot := make([]string, 0, len(records))
	for _, rec := range records {
		snapshot = append(snapshot, rec.ID)
	}

	adds := make([]queue.Record, 0, len(records))
	for _, rec := range records {
		if rec.Action == queue.ActionAdd {
			adds = append(adds, rec)
		}
	}

	// Removes that never got to cancel a pairing add are cart-state
	// corrections, not purchases; with no adds left they are inert and
	// cleared without a wire call.
	if len(adds) == 0 {
		if err := s.store.DeleteIDs(ctx, snapshot); err != nil {
			return OutcomeFailed, fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
		s.updateDepth(ctx)
		logging.Ctx(ctx).Info().Int("cleared", len(snapshot)).Msg("inert removals cleared without sync")
		return OutcomeInertCleared, nil
	}

	payload := buildPayload(adds)
	if err := s.post(ctx, payload); err != nil {
		// The records stay queued; no record is ever dropped on failure.
		logging.Ctx(ctx).Warn().Err(err).Int("pending", len(records)).Msg("sync attempt failed, queue retained")
		return OutcomeFailed, err
	}

	if err := s.store.DeleteIDs(ctx, snapshot); err != nil {
		// The endpoint accepted the batch but local cleanup failed; the
		// next attempt re-sends. At-least-once, never at-most-once.
		return OutcomeFailed, fmt.Errorf("%w: clearing synced batch: %v", ErrSyncFailed, err)
	}
	s.updateDepth(ctx)

	metrics.SyncedRecords.Add(float64(len(adds)))
	logging.Ctx(ctx).Info().Int("count", len(adds)).Msg("cart queue synced")

	if s.notify != nil {
		s.notify.BroadcastSynced(ctx, len(adds))
	}
	return OutcomeSynced, nil
}

// buildPayload maps add records to wire items.
func buildPayload(adds []queue.Record) wirePayload {
	items := make([]wireItem, 0, len(adds))
	for _, rec := range adds {
		item := wireItem{
			UserID:    rec.UserID,
			Timestamp: rec.Timestamp,
			Total:     rec.Total(),
			Items:     []json.RawMessage{},
			CreatedAt: rec.CreatedAt,
		}
		if len(rec.Product) > 0 {
			item.Items = []json.RawMessage{rec.Product}
		}
		items = append(items, item)
	}
	return wirePayload{Items: items}
}

// post sends the payload through the breaker. Any non-2xx status or
// transport error is total failure of the batch.
func (s *Syncer) post(ctx context.Context, payload wirePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", ErrSyncFailed, err)
	}

	_, err = s.breaker.Execute(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIBaseURL()+syncPath, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return nil
}

func (s *Syncer) updateDepth(ctx context.Context) {
	if n, err := s.store.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
