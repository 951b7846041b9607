package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/metrics"
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("event bus is closed")

// Bus is an in-process watermill pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
	mu     sync.RWMutex
	closed bool
}

// NewBus returns a bus with the given per-subscriber buffer.
func NewBus(buffer int64) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: buffer},
			watermill.NewStdLogger(false, false),
		),
	}
}

// Publish encodes e and publishes it on its topic.
func (b *Bus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	if e.ID == "" {
		e.ID = watermill.NewUUID()
	}

	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(e.ID, payload)
	msg.Metadata.Set("application_id", e.ApplicationID.String())
	if e.TeamtailorID != "" {
		msg.Metadata.Set("teamtailor_id", e.TeamtailorID)
	}

	if err := b.pubsub.Publish(e.Topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Topic, err)
	}
	metrics.EventsPublished.WithLabelValues(e.Topic).Inc()
	return nil
}

// Subscribe returns the message stream for topic. The stream closes when
// ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return msgs, nil
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

// LogSink subscribes to every topic and logs each event until ctx is done.
// It is the default consumer in the worker.
func LogSink(ctx context.Context, b *Bus) error {
	var wg sync.WaitGroup
	for _, topic := range Topics {
		msgs, err := b.Subscribe(ctx, topic)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			for msg := range msgs {
				e, err := Unmarshal(msg.Payload)
				if err != nil {
					logging.Warn().Err(err).Str("topic", topic).Msg("dropping malformed event")
					msg.Ack()
					continue
				}
				logging.Info().
					Str("topic", topic).
					Str("event_id", e.ID).
					Str("application_id", e.ApplicationID.String()).
					Str("teamtailor_id", e.TeamtailorID).
					Msg("application event")
				msg.Ack()
			}
		}(topic)
	}
	wg.Wait()
	return ctx.Err()
}
