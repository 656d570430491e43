// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package syncer

import (
	"context"
	"time"

	"github.com/tomtom215/shopfront/internal/logging"
)

// Scheduler drives periodic sync opportunities: the regular background
// interval and a faster reconnect probe while the endpoint is known to be
// unreachable. Explicit PROCESS_CART_QUEUE triggers bypass it entirely.
//
// The probe is an optimization, never a correctness gate: a sync attempt
// itself decides reachability, and the queue survives every failure.
type Scheduler struct {
	syncer *Syncer

	// interval is the periodic background sync opportunity; zero
	// disables it (probes still run after a failure).
	interval time.Duration

	// probeInterval is the retry cadence after a failed attempt.
	probeInterval time.Duration
}

// NewScheduler builds a scheduler around the syncer.
func NewScheduler(s *Syncer, interval, probeInterval time.Duration) *Scheduler {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	return &Scheduler{syncer: s, interval: interval, probeInterval: probeInterval}
}

// Serve runs the trigger loop until the context is canceled. Implements
// suture.Service.
func (sch *Scheduler) Serve(ctx context.Context) error {
	logging.Info().
		Dur("interval", sch.interval).
		Dur("probe_interval", sch.probeInterval).
		Msg("sync scheduler started")

	// Drain once at startup: records left over from a previous worker
	// lifetime should not wait out a full interval.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		outcome, err := sch.syncer.Sync(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logging.Debug().Str("outcome", string(outcome)).Err(err).Msg("scheduled sync failed, probing")
		}

		// After a failure, probe faster; otherwise fall back to the
		// regular interval.
		next := sch.interval
		if err != nil || next <= 0 {
			next = sch.probeInterval
		}
		timer.Reset(next)
	}
}

// String names the service in supervisor logs.
func (sch *Scheduler) String() string { return "sync-scheduler" }
