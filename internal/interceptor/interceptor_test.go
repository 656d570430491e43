// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package interceptor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/shopfront/internal/cache"
)

// originServer is a controllable fake storefront origin.
type originServer struct {
	mu       sync.Mutex
	server   *httptest.Server
	offline  bool
	requests []string
	bodies   map[string]string
	statuses map[string]int
}

func newOrigin(t *testing.T) *originServer {
	t.Helper()
	o := &originServer{
		bodies:   map[string]string{},
		statuses: map[string]int{},
	}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.requests = append(o.requests, r.Method+" "+r.URL.RequestURI())
		offline := o.offline
		body, okBody := o.bodies[r.URL.Path]
		status := o.statuses[r.URL.Path]
		o.mu.Unlock()

		if offline {
			// Simulate an unreachable network by hanging up.
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if okBody {
			w.Write([]byte(body))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(o.server.Close)
	return o
}

func (o *originServer) setOffline(offline bool) {
	o.mu.Lock()
	o.offline = offline
	o.mu.Unlock()
}

func (o *originServer) requestCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

func (o *originServer) lastRequest() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.requests) == 0 {
		return ""
	}
	return o.requests[len(o.requests)-1]
}

func newTestInterceptor(t *testing.T, origin *originServer) (*Interceptor, *cache.Manager) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	upstream := NewUpstreamClient(origin.server.URL, 2*time.Second)
	caches, err := cache.NewManager(db, upstream, "precache-v1", "runtime-v1")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return New(caches, upstream, "/index.html", 100, 100), caches
}

func TestInterceptor_PostBypassesCache(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/api/cart/sync"] = "synced"
	ic, caches := newTestInterceptor(t, origin)

	req := httptest.NewRequest(http.MethodPost, "/api/cart/sync", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if origin.lastRequest() != "POST /api/cart/sync" {
		t.Errorf("expected POST to reach origin, got %q", origin.lastRequest())
	}
	// Never written to the cache under any method key.
	if _, _, err := caches.Match(context.Background(), http.MethodPost, "/api/cart/sync"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("POST response must not be cached, got %v", err)
	}
	if _, _, err := caches.Match(context.Background(), http.MethodGet, "/api/cart/sync"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("POST response must not be cached under GET either, got %v", err)
	}
}

func TestInterceptor_MissFetchesAndCachesEligible(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/assets/app.js"] = "console.log(1)"
	ic, caches := newTestInterceptor(t, origin)

	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "console.log(1)" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}

	snap, name, err := caches.Match(context.Background(), http.MethodGet, "/assets/app.js")
	if err != nil {
		t.Fatalf("expected runtime cache entry: %v", err)
	}
	if name != "runtime-v1" || string(snap.Body) != "console.log(1)" {
		t.Errorf("cached %q in %q", snap.Body, name)
	}
}

func TestInterceptor_MissDoesNotCacheIneligible(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/api/catalog"] = `{"songs":[]}`
	ic, caches := newTestInterceptor(t, origin)

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, _, err := caches.Match(context.Background(), http.MethodGet, "/api/catalog"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("ineligible URL must not be cached, got %v", err)
	}
}

func TestInterceptor_NonOKNotCached(t *testing.T) {
	origin := newOrigin(t)
	origin.statuses["/assets/missing.js"] = http.StatusNotFound
	ic, caches := newTestInterceptor(t, origin)

	req := httptest.NewRequest(http.MethodGet, "/assets/missing.js", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 passed through", rec.Code)
	}
	if _, _, err := caches.Match(context.Background(), http.MethodGet, "/assets/missing.js"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("non-2xx must not be cached, got %v", err)
	}
}

func TestInterceptor_CachedAssetServedWhileOffline(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/assets/index.css"] = "body{}"
	ic, _ := newTestInterceptor(t, origin)

	// Populate via one online request.
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/index.css", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("warmup status = %d", rec.Code)
	}

	origin.setOffline(true)

	rec = httptest.NewRecorder()
	ic.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/index.css", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
		t.Errorf("offline cached asset: %d %q", rec.Code, rec.Body.String())
	}
}

func TestInterceptor_OfflineNavigationServesAppShell(t *testing.T) {
	origin := newOrigin(t)
	ic, caches := newTestInterceptor(t, origin)

	shell := &cache.ResponseSnapshot{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html"}},
		Body:   []byte("<html>shell</html>"),
	}
	if err := caches.Put(context.Background(), caches.PrecacheName(), http.MethodGet, "/index.html", shell); err != nil {
		t.Fatalf("Put shell: %v", err)
	}

	origin.setOffline(true)

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	// Conceptually a cache hit, not an error.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 shell", rec.Code)
	}
	if rec.Body.String() != "<html>shell</html>" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestInterceptor_OfflineNavigationWithoutShellIs503(t *testing.T) {
	origin := newOrigin(t)
	ic, _ := newTestInterceptor(t, origin)
	origin.setOffline(true)

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestInterceptor_OfflineAssetIs503(t *testing.T) {
	origin := newOrigin(t)
	ic, _ := newTestInterceptor(t, origin)
	origin.setOffline(true)

	req := httptest.NewRequest(http.MethodGet, "/assets/never-seen.js", nil)
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestInterceptor_StaleWhileRevalidate(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/assets/app.js"] = "v1"
	ic, caches := newTestInterceptor(t, origin)

	// Warm the cache, then change the origin content.
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))

	origin.mu.Lock()
	origin.bodies["/assets/app.js"] = "v2"
	origin.mu.Unlock()

	// Hit serves the stale copy immediately.
	rec = httptest.NewRecorder()
	ic.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	if rec.Body.String() != "v1" {
		t.Errorf("expected stale body v1, got %q", rec.Body.String())
	}

	// The background refresh lands eventually.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, _, err := caches.Match(context.Background(), http.MethodGet, "/assets/app.js")
		if err == nil && string(snap.Body) == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("cache was not revalidated to v2 in time")
}

func TestInterceptor_RevalidatesQueryTaggedAssets(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/assets/app.js"] = "v1"
	ic, caches := newTestInterceptor(t, origin)

	// The cache entry is keyed on the full request URI, query included;
	// eligibility is classified on the bare path.
	const uri = "/assets/app.js?v=2"

	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, uri, nil))
	if rec.Body.String() != "v1" {
		t.Fatalf("warm request body = %q, want v1", rec.Body.String())
	}

	origin.mu.Lock()
	origin.bodies["/assets/app.js"] = "v2"
	origin.mu.Unlock()

	rec = httptest.NewRecorder()
	ic.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, uri, nil))
	if rec.Body.String() != "v1" {
		t.Errorf("expected stale body v1, got %q", rec.Body.String())
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, _, err := caches.Match(context.Background(), http.MethodGet, uri)
		if err == nil && string(snap.Body) == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("query-tagged entry was not revalidated to v2 in time")
}

func TestInterceptor_ForeignOriginPassesThrough(t *testing.T) {
	origin := newOrigin(t)
	origin.bodies["/assets/app.js"] = "x"
	ic, caches := newTestInterceptor(t, origin)

	req := httptest.NewRequest(http.MethodGet, "http://cdn.example.com/assets/app.js", nil)
	req.Host = "shop.example.com"
	rec := httptest.NewRecorder()
	ic.ServeHTTP(rec, req)

	if _, _, err := caches.Match(context.Background(), http.MethodGet, "/assets/app.js"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("foreign-origin response must not be cached, got %v", err)
	}
}
