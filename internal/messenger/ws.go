// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package messenger

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/shopfront/internal/logging"
)

// WSHandler upgrades foreground connections and attaches them to the hub.
type WSHandler struct {
	hub            *Hub
	bus            *Bus
	allowedOrigins []string
}

// NewWSHandler builds the attach endpoint. allowedOrigins holds exact
// origin matches; "*" allows any.
func NewWSHandler(hub *Hub, bus *Bus, allowedOrigins []string) *WSHandler {
	return &WSHandler{hub: hub, bus: bus, allowedOrigins: allowedOrigins}
}

func (h *WSHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin validates the Origin header. Browser WebSockets always send
// one; an absent header means a non-browser client and is rejected.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket attach rejected: missing Origin header")
		return false
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket attach rejected from unauthorized origin")
	return false
}

// ServeHTTP handles GET /ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	NewClient(h.hub, h.bus, conn).Start()
}
