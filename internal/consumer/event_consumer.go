package consumer

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/you/craftwork-marketplace/internal/domain"
)

// Handler applies one decoded event to its saga instance.
type Handler interface {
	Handle(ctx context.Context, ev domain.Event) error
}

type Deliverer interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Bindings are the routing keys the saga queue subscribes to.
func Bindings() []string {
	return []string{
		domain.RKBookingRequested,
		domain.RKBookingConfirmed,
		domain.RKBookingCancelled,
		domain.RKPaymentInitiated,
		domain.RKPaymentCompleted,
		domain.RKPaymentFailed,
		domain.RKPaymentTimeout,
		domain.RKConfirmationTimeout,
	}
}

type EventConsumer struct {
	src     Deliverer
	handler Handler
	logger  *slog.Logger
}

func NewEventConsumer(src Deliverer, h Handler, logger *slog.Logger) *EventConsumer {
	return &EventConsumer{src: src, handler: h, logger: logger}
}

// Run consumes deliveries until ctx is done. Ack/nack policy: malformed
// payloads are dead-lettered (nack, no requeue), transient handler errors are
// requeued, everything else acks. A failure stays isolated to its delivery;
// the loop never stops over a single bad message.
func (c *EventConsumer) Run(ctx context.Context) error {
	msgs, err := c.src.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *EventConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ev, err := Decode(d.RoutingKey, d.Body)
	if err != nil {
		c.logger.Error("drop malformed event", "key", d.RoutingKey, "err", err)
		_ = d.Nack(false, false)
		return
	}
	if ev == nil {
		c.logger.Info("skip unknown routing key", "key", d.RoutingKey)
		_ = d.Ack(false)
		return
	}
	if err := c.handler.Handle(ctx, ev); err != nil {
		c.logger.Error("handle event, requeueing", "key", d.RoutingKey, "err", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Decode maps a routing key to its typed event. Unknown keys return (nil, nil)
// so the caller can ack and move on.
func Decode(key string, body []byte) (domain.Event, error) {
	switch key {
	case domain.RKBookingRequested:
		return domain.Unmarshal[domain.BookingRequested](body)
	case domain.RKPaymentInitiated:
		return domain.Unmarshal[domain.PaymentInitiated](body)
	case domain.RKPaymentCompleted:
		return domain.Unmarshal[domain.PaymentCompleted](body)
	case domain.RKPaymentFailed:
		return domain.Unmarshal[domain.PaymentFailed](body)
	case domain.RKBookingConfirmed:
		return domain.Unmarshal[domain.BookingConfirmed](body)
	case domain.RKBookingCancelled:
		return domain.Unmarshal[domain.BookingCancelled](body)
	case domain.RKPaymentTimeout:
		return domain.Unmarshal[domain.PaymentTimeoutExpired](body)
	case domain.RKConfirmationTimeout:
		return domain.Unmarshal[domain.ConfirmationTimeoutExpired](body)
	default:
		return nil, nil
	}
}
