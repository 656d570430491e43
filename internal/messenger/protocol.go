// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package messenger carries the typed message protocol between foreground
// storefront instances and the background worker. Foregrounds attach over
// WebSocket; inbound commands are published onto the message bus and
// consumed by the dispatcher, while completion notifications are broadcast
// back to every attached foreground.
package messenger

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Type is the message discriminator.
type Type string

// Foreground to background command types, plus the broadcast types the
// worker sends back.
const (
	// TypeSkipWaiting asks a freshly deployed worker generation to take
	// over immediately instead of waiting for attached foregrounds to
	// detach.
	TypeSkipWaiting Type = "SKIP_WAITING"

	// TypeQueueCartItem enqueues or retracts a cart mutation.
	TypeQueueCartItem Type = "QUEUE_CART_ITEM"

	// TypeSetAPIBaseURL overrides the sync endpoint base for this worker's
	// lifetime. Not persisted; foregrounds re-send it after TypeReady.
	TypeSetAPIBaseURL Type = "SET_API_BASE_URL"

	// TypeProcessCartQueue triggers an immediate synchronization attempt.
	TypeProcessCartQueue Type = "PROCESS_CART_QUEUE"

	// TypeCacheURLs opportunistically warms the runtime cache.
	TypeCacheURLs Type = "CACHE_URLS"

	// TypeCartSynced is broadcast to all foregrounds after a successful
	// sync, carrying the number of records delivered.
	TypeCartSynced Type = "CART_SYNCED"

	// TypeReady is sent to a foreground right after it attaches. It is the
	// cue to re-send non-persistent configuration such as the API base URL.
	TypeReady Type = "READY"
)

// Protocol errors. Malformed messages are dropped at the boundary, never
// propagated into the worker's components.
var (
	ErrUnknownType    = errors.New("messenger: unknown message type")
	ErrInvalidPayload = errors.New("messenger: invalid message payload")
)

// inboundTypes are the commands a foreground may send.
var inboundTypes = map[Type]bool{
	TypeSkipWaiting:      true,
	TypeQueueCartItem:    true,
	TypeSetAPIBaseURL:    true,
	TypeProcessCartQueue: true,
	TypeCacheURLs:        true,
}

// Inbound reports whether the type is a valid foreground-to-worker command.
func (t Type) Inbound() bool { return inboundTypes[t] }

// Envelope is the wire shape of every message: a type discriminator and a
// type-specific payload.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CartItemPayload is the TypeQueueCartItem payload. Product stays opaque
// beyond requiring presence; the queue's typed accessors read what they
// need out of it.
type CartItemPayload struct {
	Action    string          `json:"action" validate:"required,oneof=add remove"`
	Product   json.RawMessage `json:"product" validate:"required"`
	Quantity  int             `json:"quantity" validate:"omitempty,gte=1"`
	UserID    string          `json:"userId"`
	Timestamp string          `json:"timestamp"`
}

// BaseURLPayload is the TypeSetAPIBaseURL payload.
type BaseURLPayload struct {
	BaseURL string `json:"baseUrl" validate:"required,url"`
}

// CacheURLsPayload is the TypeCacheURLs payload.
type CacheURLsPayload struct {
	URLs []string `json:"urls" validate:"required,min=1,dive,required"`
}

// SyncedPayload is the TypeCartSynced payload.
type SyncedPayload struct {
	Count int `json:"count"`
}

var validate = validator.New()

// ParseEnvelope decodes raw bytes into an envelope and checks the type is
// known.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrUnknownType)
	}
	if !env.Type.Inbound() && env.Type != TypeCartSynced && env.Type != TypeReady {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return env, nil
}

// CartItem decodes and validates the envelope as a TypeQueueCartItem.
func (e Envelope) CartItem() (CartItemPayload, error) {
	var p CartItemPayload
	if err := decodePayload(e, TypeQueueCartItem, &p); err != nil {
		return CartItemPayload{}, err
	}
	return p, nil
}

// BaseURL decodes and validates the envelope as a TypeSetAPIBaseURL.
func (e Envelope) BaseURL() (BaseURLPayload, error) {
	var p BaseURLPayload
	if err := decodePayload(e, TypeSetAPIBaseURL, &p); err != nil {
		return BaseURLPayload{}, err
	}
	return p, nil
}

// CacheURLs decodes and validates the envelope as a TypeCacheURLs.
func (e Envelope) CacheURLs() (CacheURLsPayload, error) {
	var p CacheURLsPayload
	if err := decodePayload(e, TypeCacheURLs, &p); err != nil {
		return CacheURLsPayload{}, err
	}
	return p, nil
}

func decodePayload(e Envelope, want Type, out interface{}) error {
	if e.Type != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPayload, want, e.Type)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s requires a payload", ErrInvalidPayload, want)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// NewCartSynced builds the completion broadcast.
func NewCartSynced(count int) Envelope {
	payload, _ := json.Marshal(SyncedPayload{Count: count})
	return Envelope{Type: TypeCartSynced, Payload: payload}
}

// NewReady builds the attach handshake message.
func NewReady() Envelope {
	return Envelope{Type: TypeReady}
}
