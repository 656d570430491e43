// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package queue implements the durable queue of pending cart mutations.
//
// The store is the single source of truth for "what is pending". It is
// exclusively owned by the worker process; foreground instances reach it
// only through the messenger. Records survive crashes and restarts, so the
// synchronizer can replay them with at-least-once semantics.
package queue

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Action identifies the kind of cart mutation a record represents.
type Action string

const (
	// ActionAdd adds a product to the cart.
	ActionAdd Action = "add"

	// ActionRemove retracts a prior add. A remove with no matching add in
	// the store is a no-op, not an error.
	ActionRemove Action = "remove"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionRemove
}

// Record is a pending cart mutation.
//
// Timestamp is the client-observed event time (ISO-8601, "when the user
// acted"). CreatedAt is the store-assigned insertion time in epoch
// milliseconds ("when durably recorded"). The two are never conflated.
type Record struct {
	// ID is unique within the store. It is generated at the enqueue
	// boundary, never assigned by storage, so retries and id-based
	// deduplication work before the record ever reaches the store.
	ID string `json:"id"`

	Action Action `json:"action"`

	// Product is opaque to the queue. The typed accessors below read the
	// stable identifier and unit price; everything else passes through
	// untouched to the sync payload.
	Product json.RawMessage `json:"product,omitempty"`

	// Quantity is a positive integer, defaulting to 1.
	Quantity int `json:"quantity"`

	// UserID is the owning user. "unknown" is a valid sentinel when no
	// session is known.
	UserID string `json:"userId"`

	Timestamp string `json:"timestamp"`
	CreatedAt int64  `json:"createdAt"`
}

// UserUnknown is the sentinel UserID used when no session is known.
const UserUnknown = "unknown"

// productFields is the minimal shape the queue needs out of a product.
type productFields struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewRecordID returns a fresh queue record identifier. The composite of
// epoch milliseconds and a UUID keeps ids unique across concurrent
// foreground instances without relying on storage-assigned keys.
func NewRecordID() string {
	return fmt.Sprintf("q-%d-%s", time.Now().UnixMilli(), uuid.New().String())
}

// NewRecord builds a record for the given mutation, generating its ID and
// applying the quantity default. CreatedAt is left zero; the store stamps
// it on insert.
func NewRecord(action Action, product json.RawMessage, quantity int, userID, timestamp string) Record {
	if quantity <= 0 {
		quantity = 1
	}
	if userID == "" {
		userID = UserUnknown
	}
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return Record{
		ID:        NewRecordID(),
		Action:    action,
		Product:   product,
		Quantity:  quantity,
		UserID:    userID,
		Timestamp: timestamp,
	}
}

// ProductID returns the stable product identifier, or "" when the record
// carries no product or the payload lacks one.
func (r *Record) ProductID() string {
	var p productFields
	if len(r.Product) == 0 || json.Unmarshal(r.Product, &p) != nil {
		return ""
	}
	return p.ID
}

// ProductPrice returns the unit price, or 0 when the record carries no
// product.
func (r *Record) ProductPrice() float64 {
	var p productFields
	if len(r.Product) == 0 || json.Unmarshal(r.Product, &p) != nil {
		return 0
	}
	return p.Price
}

// Total is the sync-payload total for the record: unit price times
// quantity when a product is present, else 0.
func (r *Record) Total() float64 {
	if len(r.Product) == 0 {
		return 0
	}
	return r.ProductPrice() * float64(r.Quantity)
}
