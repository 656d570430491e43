// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(CacheMisses)
	CacheMisses.Inc()
	after := testutil.ToFloat64(CacheMisses)

	if after != before+1 {
		t.Errorf("CacheMisses = %v, want %v", after, before+1)
	}
}

func TestLabeledCounters_Increment(t *testing.T) {
	c := InterceptedRequests.WithLabelValues("cache_hit")
	before := testutil.ToFloat64(c)
	c.Inc()
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("InterceptedRequests{cache_hit} = %v, want %v", got, before+1)
	}
}

func TestQueueDepth_Gauge(t *testing.T) {
	QueueDepth.Set(7)
	if got := testutil.ToFloat64(QueueDepth); got != 7 {
		t.Errorf("QueueDepth = %v, want 7", got)
	}
	QueueDepth.Set(0)
}
