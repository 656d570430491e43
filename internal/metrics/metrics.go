// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package metrics exposes Prometheus instrumentation for the worker:
// interceptor outcomes, cache efficiency, queue depth, sync attempts and
// websocket attachment counts. Served at /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Interceptor metrics
	InterceptedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interceptor_requests_total",
			Help: "Total intercepted requests by terminal state",
		},
		[]string{"outcome"}, // "ignored", "cache_hit", "network", "fallback_shell", "unavailable"
	)

	RevalidationsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interceptor_revalidations_total",
			Help: "Total background stale-while-revalidate refreshes started",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total cache lookups that returned a snapshot",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache lookups that found nothing",
		},
	)

	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_writes_total",
			Help: "Total response snapshots written",
		},
		[]string{"cache"},
	)

	CacheEvictedGenerations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_evicted_generations_total",
			Help: "Total stale cache generations swept on activation",
		},
	)

	PrecacheFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_precache_failures_total",
			Help: "Total precache asset fetches that were skipped after failing",
		},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cart_queue_depth",
			Help: "Current number of pending cart mutation records",
		},
	)

	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_queue_enqueued_total",
			Help: "Total cart mutations accepted by the worker",
		},
		[]string{"action"},
	)

	QueueRetractions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cart_queue_retractions_total",
			Help: "Total queued adds retracted by a matching remove before sync",
		},
	)

	// Synchronizer metrics
	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_sync_attempts_total",
			Help: "Total queue synchronization attempts by outcome",
		},
		[]string{"outcome"}, // "synced", "empty", "inert_cleared", "failed", "skipped_open_breaker"
	)

	SyncedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cart_sync_records_total",
			Help: "Total records delivered to the remote endpoint",
		},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cart_sync_duration_seconds",
			Help:    "Duration of sync attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Messenger metrics
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_messages_received_total",
			Help: "Total foreground messages received by type",
		},
		[]string{"type"},
	)

	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_messages_broadcast_total",
			Help: "Total messages broadcast to foreground instances by type",
		},
		[]string{"type"},
	)

	ConnectedForegrounds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_connected_foregrounds",
			Help: "Current number of attached foreground instances",
		},
	)
)
