// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package queue

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNewRecord_Defaults(t *testing.T) {
	rec := NewRecord(ActionAdd, testProduct("s1", 9.99), 0, "", "")

	if rec.Quantity != 1 {
		t.Errorf("quantity default = %d, want 1", rec.Quantity)
	}
	if rec.UserID != UserUnknown {
		t.Errorf("userId default = %q, want %q", rec.UserID, UserUnknown)
	}
	if rec.Timestamp == "" {
		t.Error("expected a generated timestamp")
	}
	if rec.CreatedAt != 0 {
		t.Error("CreatedAt must be left for the store to stamp")
	}
	if !strings.HasPrefix(rec.ID, "q-") {
		t.Errorf("id = %q, want q- prefix", rec.ID)
	}
}

func TestNewRecordID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRecordID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRecord_ProductAccessors(t *testing.T) {
	tests := []struct {
		name      string
		product   json.RawMessage
		quantity  int
		wantID    string
		wantTotal float64
	}{
		{"present", testProduct("s1", 9.99), 1, "s1", 9.99},
		{"quantity scales total", testProduct("s1", 2.50), 3, "s1", 7.50},
		{"absent product", nil, 1, "", 0},
		{"malformed product", json.RawMessage(`{"id":`), 1, "", 0},
		{"no price field", json.RawMessage(`{"id":"s9","name":"x"}`), 2, "s9", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord(ActionAdd, tt.product, tt.quantity, "u1", "")
			if got := rec.ProductID(); got != tt.wantID {
				t.Errorf("ProductID = %q, want %q", got, tt.wantID)
			}
			if got := rec.Total(); got != tt.wantTotal {
				t.Errorf("Total = %v, want %v", got, tt.wantTotal)
			}
		})
	}
}

func TestRecord_ProductRoundTrips(t *testing.T) {
	// Fields the queue does not understand must survive marshaling.
	raw := json.RawMessage(`{"id":"s1","price":9.99,"albumCover":"http://example.com/a.png"}`)
	rec := NewRecord(ActionAdd, raw, 1, "u1", "")

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(string(back.Product), "albumCover") {
		t.Errorf("opaque product fields lost: %s", back.Product)
	}
}

func TestAction_Valid(t *testing.T) {
	if !ActionAdd.Valid() || !ActionRemove.Valid() {
		t.Error("expected add and remove to be valid")
	}
	if Action("purchase").Valid() {
		t.Error("expected unknown action to be invalid")
	}
}
