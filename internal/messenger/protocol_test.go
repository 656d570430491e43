// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package messenger

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Type
		wantErr error
	}{
		{"queue cart item", `{"type":"QUEUE_CART_ITEM","payload":{"action":"add"}}`, TypeQueueCartItem, nil},
		{"skip waiting no payload", `{"type":"SKIP_WAITING"}`, TypeSkipWaiting, nil},
		{"process queue", `{"type":"PROCESS_CART_QUEUE"}`, TypeProcessCartQueue, nil},
		{"set base url", `{"type":"SET_API_BASE_URL","payload":{"baseUrl":"http://x"}}`, TypeSetAPIBaseURL, nil},
		{"cache urls", `{"type":"CACHE_URLS","payload":{"urls":["/a"]}}`, TypeCacheURLs, nil},
		{"cart synced", `{"type":"CART_SYNCED","payload":{"count":2}}`, TypeCartSynced, nil},
		{"unknown type", `{"type":"FORMAT_DISK"}`, "", ErrUnknownType},
		{"missing type", `{"payload":{}}`, "", ErrUnknownType},
		{"not json", `{{{`, "", ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEnvelope: %v", err)
			}
			if env.Type != tt.want {
				t.Errorf("type = %q, want %q", env.Type, tt.want)
			}
		})
	}
}

func TestEnvelope_CartItem(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"valid add", `{"action":"add","product":{"id":"s1","price":9.99},"quantity":1,"userId":"u1"}`, true},
		{"valid remove defaults", `{"action":"remove","product":{"id":"s1"}}`, true},
		{"zero quantity allowed", `{"action":"add","product":{"id":"s1"},"quantity":0}`, true},
		{"bad action", `{"action":"upsert","product":{"id":"s1"}}`, false},
		{"missing product", `{"action":"add"}`, false},
		{"negative quantity", `{"action":"add","product":{"id":"s1"},"quantity":-2}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{Type: TypeQueueCartItem, Payload: json.RawMessage(tt.payload)}
			_, err := env.CartItem()
			if tt.ok && err != nil {
				t.Errorf("CartItem: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestEnvelope_BaseURL(t *testing.T) {
	env := Envelope{Type: TypeSetAPIBaseURL, Payload: json.RawMessage(`{"baseUrl":"http://api.example.com"}`)}
	p, err := env.BaseURL()
	if err != nil {
		t.Fatalf("BaseURL: %v", err)
	}
	if p.BaseURL != "http://api.example.com" {
		t.Errorf("baseUrl = %q", p.BaseURL)
	}

	bad := Envelope{Type: TypeSetAPIBaseURL, Payload: json.RawMessage(`{"baseUrl":"not a url"}`)}
	if _, err := bad.BaseURL(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("err = %v, want ErrInvalidPayload", err)
	}

	empty := Envelope{Type: TypeSetAPIBaseURL}
	if _, err := empty.BaseURL(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("missing payload err = %v, want ErrInvalidPayload", err)
	}
}

func TestEnvelope_CacheURLs(t *testing.T) {
	env := Envelope{Type: TypeCacheURLs, Payload: json.RawMessage(`{"urls":["/a.js","/b.css"]}`)}
	p, err := env.CacheURLs()
	if err != nil {
		t.Fatalf("CacheURLs: %v", err)
	}
	if len(p.URLs) != 2 {
		t.Errorf("urls = %v", p.URLs)
	}

	empty := Envelope{Type: TypeCacheURLs, Payload: json.RawMessage(`{"urls":[]}`)}
	if _, err := empty.CacheURLs(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("empty list err = %v, want ErrInvalidPayload", err)
	}
}

func TestNewCartSynced(t *testing.T) {
	env := NewCartSynced(3)
	if env.Type != TypeCartSynced {
		t.Fatalf("type = %q", env.Type)
	}
	var p SyncedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Count != 3 {
		t.Errorf("count = %d, want 3", p.Count)
	}
}

func TestType_Inbound(t *testing.T) {
	if !TypeQueueCartItem.Inbound() || !TypeSkipWaiting.Inbound() {
		t.Error("commands must be inbound")
	}
	if TypeCartSynced.Inbound() || TypeReady.Inbound() {
		t.Error("broadcast types must not be inbound")
	}
}
