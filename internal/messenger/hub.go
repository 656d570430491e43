// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package messenger

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/shopfront/internal/logging"
	"github.com/tomtom215/shopfront/internal/metrics"
)

// Hub maintains the set of attached foreground instances and broadcasts
// worker-to-foreground messages to all of them. A broadcast with no
// attached foreground is dropped harmlessly: notifications are not
// retained or replayed for instances that attach later.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Envelope
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Envelope, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Serve runs the hub loop until the context is canceled. Implements
// suture.Service.
//
// Selection is priority-ordered so behavior stays deterministic when
// several channels are ready at once: shutdown first, then client
// lifecycle, then broadcasts. Client state is therefore always settled
// before a message fans out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case env := <-h.broadcast:
			h.broadcastToClients(env)
		}
	}
}

// String names the service in supervisor logs.
func (h *Hub) String() string { return "messenger-hub" }

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedForegrounds.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("foreground attached")

	// The attach handshake: non-persistent configuration such as the API
	// base URL is re-sent by the foreground in response.
	select {
	case client.send <- NewReady():
	default:
	}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedForegrounds.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("foreground detached")
}

// broadcastToClients fans an envelope out to every attached foreground in
// client-id order, dropping clients whose send buffer is full.
func (h *Hub) broadcastToClients(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- env:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.ConnectedForegrounds.Set(float64(len(h.clients)))
	}
}

// shutdown closes every attached client.
func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.ConnectedForegrounds.Set(0)
	logging.Info().
		Str("component", "messenger-hub").
		Int("clients_closed", len(clients)).
		Msg("messenger hub stopped")
}

// BroadcastSynced notifies all foregrounds that a sync completed with the
// given record count. Implements the synchronizer's Broadcaster.
func (h *Hub) BroadcastSynced(ctx context.Context, count int) {
	h.BroadcastEnvelope(ctx, NewCartSynced(count))
}

// BroadcastEnvelope queues an envelope for fan-out. Non-blocking: when the
// hub is saturated the message is dropped and logged, never retained.
func (h *Hub) BroadcastEnvelope(ctx context.Context, env Envelope) {
	select {
	case h.broadcast <- env:
		metrics.MessagesBroadcast.WithLabelValues(string(env.Type)).Inc()
		logging.Ctx(ctx).Debug().
			Str("type", string(env.Type)).
			Int("clients", h.ClientCount()).
			Msg("broadcast queued")
	default:
		logging.Ctx(ctx).Warn().Str("type", string(env.Type)).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of attached foregrounds.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
