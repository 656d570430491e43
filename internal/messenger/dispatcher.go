// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package messenger

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/shopfront/internal/logging"
	"github.com/tomtom215/shopfront/internal/metrics"
	"github.com/tomtom215/shopfront/internal/queue"
	"github.com/tomtom215/shopfront/internal/syncer"
)

// SyncControl is the slice of the synchronizer the dispatcher drives.
type SyncControl interface {
	Sync(ctx context.Context) (syncer.Outcome, error)
	SetAPIBaseURL(baseURL string)
}

// CacheWarmer is the slice of the cache manager the dispatcher drives.
type CacheWarmer interface {
	Warm(ctx context.Context, urls []string)
}

// warmTimeout bounds a background cache-warm run; the originating command
// has already been acked.
const warmTimeout = 2 * time.Minute

// Dispatcher consumes the command topic and applies each message to the
// component that owns its effect. It is the only writer of the queue store
// besides the synchronizer's snapshot deletes, which keeps the exclusive
// ownership invariant: foregrounds mutate the queue only through messages.
type Dispatcher struct {
	bus      *Bus
	store    *queue.Store
	sync     SyncControl
	caches   CacheWarmer
	messages <-chan *message.Message
}

// NewDispatcher wires the dispatcher to its collaborators and establishes
// the command subscription. Subscribing here, before the WebSocket edge is
// mounted, guarantees no command published later can be lost in a startup
// gap; the subscription lives for the life of the bus, so a supervisor
// restart of Serve resumes the same stream without replaying commands that
// were already applied.
func NewDispatcher(bus *Bus, store *queue.Store, sync SyncControl, caches CacheWarmer) (*Dispatcher, error) {
	messages, err := bus.Subscribe(context.Background())
	if err != nil {
		return nil, err
	}
	return &Dispatcher{bus: bus, store: store, sync: sync, caches: caches, messages: messages}, nil
}

// Serve consumes commands until the context is canceled. Implements
// suture.Service. Every message is acked: a command that fails to apply is
// logged and dropped rather than redelivered, because the sender gets no
// reply channel and the queue store itself is the durable layer.
func (d *Dispatcher) Serve(ctx context.Context) error {
	logging.Info().Msg("command dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-d.messages:
			if !ok {
				return ctx.Err()
			}
			d.handle(ctx, msg)
			msg.Ack()
		}
	}
}

// String names the service in supervisor logs.
func (d *Dispatcher) String() string { return "command-dispatcher" }

func (d *Dispatcher) handle(ctx context.Context, msg *message.Message) {
	env, err := ParseEnvelope(msg.Payload)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed command")
		return
	}
	metrics.MessagesReceived.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case TypeSkipWaiting:
		// Generation handoff is instantaneous for a single worker process;
		// acknowledging the intent is all there is to do.
		logging.Ctx(ctx).Info().Msg("immediate activation requested")

	case TypeQueueCartItem:
		d.handleCartItem(ctx, env)

	case TypeSetAPIBaseURL:
		payload, err := env.BaseURL()
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("dropping invalid base URL override")
			return
		}
		d.sync.SetAPIBaseURL(payload.BaseURL)

	case TypeProcessCartQueue:
		if _, err := d.sync.Sync(ctx); err != nil {
			// Contained: the records stay queued for the next trigger.
			logging.Ctx(ctx).Warn().Err(err).Msg("triggered sync failed")
		}

	case TypeCacheURLs:
		payload, err := env.CacheURLs()
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("dropping invalid cache warm request")
			return
		}
		// Warming fetches from the origin; running it inline would stall
		// every queued cart command behind slow downloads.
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
			defer cancel()
			d.caches.Warm(wctx, payload.URLs)
		}()

	default:
		logging.Ctx(ctx).Warn().Str("type", string(env.Type)).Msg("command type not routable")
	}
}

// handleCartItem applies an enqueue or retraction to the queue store.
func (d *Dispatcher) handleCartItem(ctx context.Context, env Envelope) {
	payload, err := env.CartItem()
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("dropping invalid cart item command")
		return
	}

	rec := queue.NewRecord(queue.Action(payload.Action), payload.Product, payload.Quantity, payload.UserID, payload.Timestamp)

	if rec.Action == queue.ActionRemove {
		// A remove first tries to retract a pending add for the same
		// product. When none is pending the remove itself is queued; the
		// synchronizer clears such inert records without a wire call.
		removed, err := d.store.RemoveMatching(ctx, rec.ProductID())
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("retraction failed")
			return
		}
		if removed {
			metrics.QueueRetractions.Inc()
			d.updateDepth(ctx)
			return
		}
	}

	if err := d.store.Add(ctx, rec); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("record_id", rec.ID).Msg("enqueue failed")
		return
	}
	metrics.QueueEnqueued.WithLabelValues(string(rec.Action)).Inc()
	d.updateDepth(ctx)
}

func (d *Dispatcher) updateDepth(ctx context.Context) {
	if n, err := d.store.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
