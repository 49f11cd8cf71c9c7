package live

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/proctor/pkg/logger"
)

// ErrSubscriptionClosed is returned when the broadcaster goes away under a
// running relay.
var ErrSubscriptionClosed = errors.New("alert subscription closed")

// Relay moves alerts from the broadcaster to the websocket hub.
type Relay struct {
	broadcaster *Broadcaster
	hub         *Hub
	log         logger.Logger
	ready       chan struct{}
	readyOnce   sync.Once
}

// NewRelay joins b to h.
func NewRelay(b *Broadcaster, h *Hub, log logger.Logger) *Relay {
	if log == nil {
		log = logger.Named("live-relay")
	}
	return &Relay{broadcaster: b, hub: h, log: log, ready: make(chan struct{})}
}

// Ready is closed once the first subscription is in place.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Serve subscribes and forwards until ctx ends or the broadcaster closes.
func (r *Relay) Serve(ctx context.Context) error {
	msgs, err := r.broadcaster.Subscribe(ctx)
	if err != nil {
		return err
	}
	r.readyOnce.Do(func() { close(r.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			a, err := DecodeAlert(msg)
			if err != nil {
				r.log.Warn(ctx, "dropping malformed alert", logger.Error(err))
				msg.Ack()
				continue
			}
			r.hub.Broadcast(a)
			msg.Ack()
		}
	}
}
