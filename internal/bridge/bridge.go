// Package bridge relays events between processes over one redis pub/sub
// channel. Background workers publish; the process holding live client
// connections subscribes and re-emits to its connected clients.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "relay:events"

type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, msg).Err()
}

// Broadcaster receives events on the subscribing side, typically the live
// websocket client registry.
type Broadcaster interface {
	Broadcast(event string, payload json.RawMessage)
}

type Subscriber struct {
	rdb     *redis.Client
	channel string
	sink    Broadcaster
}

func NewSubscriber(rdb *redis.Client, channel string, sink Broadcaster) *Subscriber {
	return &Subscriber{rdb: rdb, channel: channel, sink: sink}
}

// Run subscribes and re-emits every received event until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	ps := s.rdb.Subscribe(ctx, s.channel)
	defer func() { _ = ps.Close() }()

	// Force the subscription before consuming so Run returning nil later
	// cannot mean "never subscribed".
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	slog.Info("event bridge subscribed", "channel", s.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev envelope
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Error("event bridge: dropping malformed event", "err", err)
				continue
			}
			s.sink.Broadcast(ev.Event, ev.Payload)
		}
	}
}
