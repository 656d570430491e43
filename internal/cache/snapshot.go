// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package cache implements the worker's two named response caches: a
// precache written once at install and a runtime cache populated
// opportunistically. Cache names carry a generation tag; bumping the tag
// makes the previous generation unreachable and EvictStale sweeps it.
package cache

import (
	"encoding/hex"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ResponseSnapshot is a stored copy of an upstream response. The body is
// fully materialized: a network body can only be consumed once, so the
// fetcher reads it to completion and both the caller and the cache work
// from the same bytes.
type ResponseSnapshot struct {
	// URL is the request path the snapshot was stored under.
	URL string `json:"url"`

	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`

	// StoredAt is when the snapshot was written, epoch milliseconds.
	StoredAt int64 `json:"storedAt"`
}

// OK reports whether the snapshot captured a 2xx response. Only OK
// snapshots are cache-worthy.
func (s *ResponseSnapshot) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// Write replays the snapshot onto a live response.
func (s *ResponseSnapshot) Write(w http.ResponseWriter) error {
	for k, vals := range s.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(s.Status)
	_, err := w.Write(s.Body)
	return err
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// requestKey derives the storage key digest for a request identity. Keyed
// by method and URL; header variants are deliberately ignored.
func requestKey(method, url string) string {
	sum := blake2b.Sum256([]byte(method + " " + url))
	return hex.EncodeToString(sum[:])
}
