// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package messenger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/shopfront/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// clientIDCounter hands out monotonically increasing ids so clients can be
// ordered deterministically during broadcast and shutdown.
var clientIDCounter atomic.Uint64

// Client is the middleman between one foreground's WebSocket connection
// and the hub. Inbound frames become commands on the bus; outbound
// envelopes arrive on the send channel from the hub.
type Client struct {
	id   uint64
	hub  *Hub
	bus  *Bus
	conn *websocket.Conn
	send chan Envelope
}

// NewClient wraps an accepted connection.
func NewClient(hub *Hub, bus *Bus, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		bus:  bus,
		conn: conn,
		send: make(chan Envelope, 64),
	}
}

// Start registers the client and begins its pumps.
func (c *Client) Start() {
	c.hub.Register <- c
	go c.writePump()
	go c.readPump()
}

// readPump reads foreground frames and publishes valid commands to the
// bus. A malformed frame is dropped with a log line; the connection stays
// up, matching the containment policy of the rest of the worker.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			logging.Warn().Err(err).Uint64("client_id", c.id).Msg("dropping malformed frame")
			continue
		}
		if !env.Type.Inbound() {
			logging.Warn().Str("type", string(env.Type)).Uint64("client_id", c.id).Msg("dropping non-command frame")
			continue
		}

		if err := c.bus.Publish(context.Background(), env); err != nil {
			logging.Error().Err(err).Str("type", string(env.Type)).Msg("failed to publish command")
		}
	}
}

// writePump delivers hub envelopes to the connection and keeps it alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				logging.Error().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
