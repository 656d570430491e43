// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

package messenger

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/goccy/go-json"

	"github.com/tomtom215/shopfront/internal/config"
	"github.com/tomtom215/shopfront/internal/logging"
)

// TopicCommands carries every foreground-to-worker command. A single topic
// keeps command ordering per publisher and lets the dispatcher be the one
// consumer of the whole protocol.
const TopicCommands = "shopfront.commands"

// Bus is the transport-agnostic command channel between the WebSocket edge
// and the dispatcher. The in-process channel transport is the default; the
// NATS JetStream transport adds durable delivery across worker restarts,
// optionally against an embedded server.
type Bus struct {
	pub message.Publisher
	sub message.Subscriber

	// shared marks the channel transport, where pub and sub are the same
	// object and must be closed once.
	shared   bool
	embedded *server.Server
}

// NewBus builds the bus for the configured transport.
func NewBus(cfg config.MessagingConfig) (*Bus, error) {
	switch cfg.Transport {
	case "nats":
		return newNATSBus(cfg)
	default:
		return NewChannelBus(), nil
	}
}

// NewChannelBus builds an in-process bus. Commands do not survive a worker
// restart, which matches the durability the protocol requires: durable
// state lives in the queue store, not in transit. The dispatcher
// subscribes at construction time, before the edge accepts publishes, so
// no replay machinery is needed to cover the startup window.
func NewChannelBus() *Bus {
	ps := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		logging.NewWatermillAdapter(),
	)
	return &Bus{pub: ps, sub: ps, shared: true}
}

// newNATSBus connects publisher and subscriber to a NATS JetStream server,
// starting an embedded one first when configured.
func newNATSBus(cfg config.MessagingConfig) (*Bus, error) {
	bus := &Bus{}
	wmLogger := logging.NewWatermillAdapter()

	url := cfg.NATSURL
	if cfg.EmbeddedServer {
		ns, err := startEmbeddedServer(cfg)
		if err != nil {
			return nil, err
		}
		bus.embedded = ns
		url = ns.ClientURL()
		logging.Info().Str("url", url).Msg("embedded NATS server started")
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("messenger: create NATS publisher: %w", err)
	}
	bus.pub = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		QueueGroupPrefix: "shopfront",
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: "shopfront-dispatcher",
		},
	}, wmLogger)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("messenger: create NATS subscriber: %w", err)
	}
	bus.sub = sub

	logging.Info().Str("url", url).Msg("NATS command bus connected")
	return bus, nil
}

// startEmbeddedServer boots an in-process NATS server with JetStream.
func startEmbeddedServer(cfg config.MessagingConfig) (*server.Server, error) {
	opts := &server.Options{
		ServerName: "shopfront-commands",
		Host:       "127.0.0.1",
		Port:       -1,
		JetStream:  true,
		StoreDir:   cfg.StoreDir,
		NoLog:      true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("messenger: create embedded NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("messenger: embedded NATS server not ready within timeout")
	}
	return ns, nil
}

// Publish puts a command envelope on the bus.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("messenger: marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("type", string(env.Type))
	return b.pub.Publish(TopicCommands, msg)
}

// Subscribe returns the command stream. The caller acks every message; a
// malformed command is acked and dropped, never redelivered.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.sub.Subscribe(ctx, TopicCommands)
}

// Close releases the transport, the NATS connection, and the embedded
// server when one was started.
func (b *Bus) Close() {
	if b.pub != nil {
		if err := b.pub.Close(); err != nil {
			logging.Error().Err(err).Msg("closing bus publisher")
		}
	}
	if b.sub != nil && !b.shared {
		if err := b.sub.Close(); err != nil {
			logging.Error().Err(err).Msg("closing bus subscriber")
		}
	}
	if b.embedded != nil {
		b.embedded.Shutdown()
		b.embedded.WaitForShutdown()
	}
}
