// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package interceptor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/shopfront/internal/cache"
	"github.com/tomtom215/shopfront/internal/logging"
	"github.com/tomtom215/shopfront/internal/metrics"
)

// Terminal states of the per-request strategy, used as metric labels.
const (
	outcomeIgnored       = "ignored"
	outcomeCacheHit      = "cache_hit"
	outcomeNetwork       = "network"
	outcomeFallbackShell = "fallback_shell"
	outcomeUnavailable   = "unavailable"
)

// Interceptor is the http.Handler fronting the storefront origin.
type Interceptor struct {
	caches   *cache.Manager
	upstream *UpstreamClient

	// appShellPath is the navigational fallback document served for
	// offline HTML requests.
	appShellPath string

	// revalidate throttles background stale-while-revalidate refreshes
	// so a burst of cache hits cannot stampede the origin.
	revalidate *rate.Limiter

	// revalidateTimeout bounds each background refresh independently of
	// the originating request, which has already been answered.
	revalidateTimeout time.Duration
}

// New builds an interceptor over the given caches and upstream.
func New(caches *cache.Manager, upstream *UpstreamClient, appShellPath string, perSecond float64, burst int) *Interceptor {
	return &Interceptor{
		caches:            caches,
		upstream:          upstream,
		appShellPath:      appShellPath,
		revalidate:        rate.NewLimiter(rate.Limit(perSecond), burst),
		revalidateTimeout: 30 * time.Second,
	}
}

// ServeHTTP drives one request through the strategy machine:
// Received -> {Ignored | CacheLookup} -> {CacheHit | CacheMiss} ->
// NetworkAttempt -> {Resolved | FallbackServed}.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Hard boundary: mutating requests and foreign origins always reach
	// the network directly. Caching them would silently violate write
	// semantics.
	if r.Method != http.MethodGet || !sameOrigin(r) {
		i.passThrough(w, r)
		return
	}

	path := r.URL.RequestURI()
	snap, cacheName, err := i.caches.Match(r.Context(), http.MethodGet, path)
	if err == nil {
		// Serve the cached response immediately; refresh in the
		// background for next time. No artificial latency.
		metrics.InterceptedRequests.WithLabelValues(outcomeCacheHit).Inc()
		i.maybeRevalidate(r.URL.Path, path)
		if werr := snap.Write(w); werr != nil {
			logging.Ctx(r.Context()).Debug().Err(werr).Str("path", path).Msg("client went away during cache write")
		}
		logging.Ctx(r.Context()).Debug().Str("path", path).Str("cache", cacheName).Msg("served from cache")
		return
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", path).Msg("cache lookup failed")
		// Treat a broken cache like a miss; the network may still answer.
	}

	i.networkAttempt(w, r, path)
}

// networkAttempt fetches from the origin, caching eligible 2xx responses
// before returning them. On network failure it degrades to the app shell
// for navigations or a synthetic 503 otherwise.
func (i *Interceptor) networkAttempt(w http.ResponseWriter, r *http.Request, path string) {
	snap, err := i.upstream.Fetch(r.Context(), path)
	if err != nil {
		i.serveFallback(w, r, path)
		return
	}

	if snap.OK() && cache.Eligible(r.URL.Path) {
		if perr := i.caches.Put(r.Context(), i.caches.RuntimeName(), http.MethodGet, path, snap); perr != nil {
			logging.Ctx(r.Context()).Warn().Err(perr).Str("path", path).Msg("runtime cache store failed")
		}
	}

	metrics.InterceptedRequests.WithLabelValues(outcomeNetwork).Inc()
	if werr := snap.Write(w); werr != nil {
		logging.Ctx(r.Context()).Debug().Err(werr).Str("path", path).Msg("client went away during network write")
	}
}

// serveFallback answers an unreachable-network request. Navigational
// requests get the cached app shell when present; everything else (and a
// missing shell) gets a synthetic 503. The end user always gets a
// response, never an unhandled failure.
func (i *Interceptor) serveFallback(w http.ResponseWriter, r *http.Request, path string) {
	if isNavigation(r) {
		shell, _, err := i.caches.Match(r.Context(), http.MethodGet, i.appShellPath)
		if err == nil {
			metrics.InterceptedRequests.WithLabelValues(outcomeFallbackShell).Inc()
			logging.Ctx(r.Context()).Info().Str("path", path).Msg("offline navigation served app shell")
			if werr := shell.Write(w); werr != nil {
				logging.Ctx(r.Context()).Debug().Err(werr).Msg("client went away during shell write")
			}
			return
		}
	}

	metrics.InterceptedRequests.WithLabelValues(outcomeUnavailable).Inc()
	logging.Ctx(r.Context()).Info().Str("path", path).Msg("offline request answered 503")
	http.Error(w, "resource unavailable offline", http.StatusServiceUnavailable)
}

// maybeRevalidate refreshes a cache-eligible entry in the background,
// subject to the rate limiter. Eligibility is classified on the bare
// path, matching networkAttempt, so query-tagged assets refresh too; the
// fetch and store use the full request URI the entry is keyed under. The
// consumer-facing response has already resolved; this only updates the
// cache for next time.
func (i *Interceptor) maybeRevalidate(path, uri string) {
	if !cache.Eligible(path) || !i.revalidate.Allow() {
		return
	}

	metrics.RevalidationsStarted.Inc()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), i.revalidateTimeout)
		defer cancel()

		snap, err := i.upstream.Fetch(ctx, uri)
		if err != nil || !snap.OK() {
			// Stale entry stays until a later refresh overwrites it.
			return
		}
		if err := i.caches.Put(ctx, i.caches.RuntimeName(), http.MethodGet, uri, snap); err != nil {
			logging.Error().Err(err).Str("path", uri).Msg("revalidation store failed")
		}
	}()
}

// passThrough forwards the request untouched. A failed forward still gets
// a synthetic 503 so nothing propagates as an unhandled error.
func (i *Interceptor) passThrough(w http.ResponseWriter, r *http.Request) {
	metrics.InterceptedRequests.WithLabelValues(outcomeIgnored).Inc()
	if err := i.upstream.forward(w, r); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("pass-through failed")
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	}
}

// sameOrigin reports whether the request targets this worker's origin.
// Proxy-style absolute URLs naming a different host are foreign.
func sameOrigin(r *http.Request) bool {
	return r.URL.Host == "" || r.URL.Host == r.Host
}

// isNavigation reports whether the request wants an HTML document.
func isNavigation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
