package live

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/proctor/pkg/logger"
)

// Topic carries every alert.
const Topic = "cheating-events"

const defaultBuffer = 256

// Broadcaster decouples alert producers from connected dashboards. Alerts
// published with no subscriber are dropped; there is no replay.
type Broadcaster struct {
	pubsub *gochannel.GoChannel
}

// NewBroadcaster creates an in-process pub/sub with the given subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(buffer)},
		// Only warnings: gochannel logs every unsubscribed publish at info.
		watermill.NewSlogLogger(logger.SlogAtLeast(slog.LevelWarn)),
	)
	return &Broadcaster{pubsub: pubsub}
}

// Publish emits one alert.
func (b *Broadcaster) Publish(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Subscribe returns alerts published from now on until ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe alerts: %w", err)
	}
	return ch, nil
}

// Close stops the pub/sub and closes every subscription.
func (b *Broadcaster) Close() error {
	return b.pubsub.Close()
}

// DecodeAlert parses a published alert.
func DecodeAlert(msg *message.Message) (Alert, error) {
	var a Alert
	if err := json.Unmarshal(msg.Payload, &a); err != nil {
		return Alert{}, fmt.Errorf("decode alert: %w", err)
	}
	return a, nil
}
