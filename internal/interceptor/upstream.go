// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package interceptor fronts the storefront origin. Same-origin GETs are
// served cache-first with a background stale-while-revalidate refresh;
// everything else reaches the network directly. The handler always
// produces a response: cached, fresh, the app shell, or a synthetic 503.
package interceptor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/shopfront/internal/cache"
	"github.com/tomtom215/shopfront/internal/logging"
)

// UpstreamClient fetches from the storefront origin with a bounded
// timeout. It implements cache.Fetcher so the cache manager can precache
// and warm through the same path.
type UpstreamClient struct {
	baseURL string
	client  *http.Client
}

// NewUpstreamClient builds a client for the origin base URL. Every fetch
// is released after timeout rather than hanging its caller.
func NewUpstreamClient(baseURL string, timeout time.Duration) *UpstreamClient {
	return &UpstreamClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves a path from the origin and materializes the whole
// response. The body is read to completion exactly once so the snapshot
// can serve both the caller and the cache.
func (c *UpstreamClient) Fetch(ctx context.Context, path string) (*cache.ResponseSnapshot, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("interceptor: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("interceptor: fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("interceptor: read body %s: %w", path, err)
	}

	return &cache.ResponseSnapshot{
		URL:    path,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// forward proxies an arbitrary request to the origin and streams the
// response back. Used for the pass-through path; nothing is cached here.
func (c *UpstreamClient) forward(w http.ResponseWriter, r *http.Request) error {
	target := c.baseURL + r.URL.RequestURI()

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return fmt.Errorf("interceptor: build forward request: %w", err)
	}
	copyHeader(req.Header, r.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("interceptor: forward %s %s: %w", r.Method, r.URL.Path, err)
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already on the wire; the client hung up mid-body.
		logging.Ctx(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("pass-through body copy interrupted")
	}
	return nil
}

func copyHeader(dst, src http.Header) {
	for k, vals := range src {
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}
