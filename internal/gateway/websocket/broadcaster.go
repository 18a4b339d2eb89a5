package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/events/bus"
)

// Broadcaster forwards every event published on the bus to the hub, so
// connected clients observe agent and channel activity as it happens.
type Broadcaster struct {
	hub          *Hub
	subscription bus.Subscription
	logger       *logger.Logger
}

// RegisterNotifications subscribes the hub to the full event stream. The
// subscription is released when ctx is cancelled. A nil event bus disables
// the stream, the hub then only serves pings.
func RegisterNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) (*Broadcaster, error) {
	b := &Broadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws_broadcaster")),
	}

	if eventBus == nil {
		b.logger.Warn("Event bus not configured, WebSocket notifications disabled")
		return b, nil
	}

	sub, err := eventBus.Subscribe(">", func(ctx context.Context, event *bus.Event) error {
		b.hub.Broadcast(&Notification{
			Type:      notificationType,
			Action:    event.Type,
			Payload:   event.Data,
			Timestamp: event.Timestamp,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.subscription = sub

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	b.logger.Info("WebSocket notifications registered")
	return b, nil
}

// Close releases the bus subscription.
func (b *Broadcaster) Close() {
	if b.subscription != nil && b.subscription.IsValid() {
		if err := b.subscription.Unsubscribe(); err != nil {
			b.logger.Warn("Failed to unsubscribe from event bus", zap.Error(err))
		}
	}
}
