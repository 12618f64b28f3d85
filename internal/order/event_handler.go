package order

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/idempotency"
	"github.com/kyungseok/orderflow/common/messaging"
	"go.uber.org/zap"
)

// EventHandler dispatches inbound saga events to Service, deduplicating by
// eventId — grounded on the teacher's services/order/cmd/main.go Kafka
// topic switch, extended with the inventory/payment/delivery events the
// teacher's subset omitted.
type EventHandler struct {
	svc       *Service
	idemStore idempotency.Store
	logger    *zap.Logger
}

// NewEventHandler builds the order event dispatcher.
func NewEventHandler(svc *Service, idemStore idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, idemStore: idemStore, logger: logger}
}

// Topics lists the Kafka topics the order saga driver subscribes to.
func (h *EventHandler) Topics() []string {
	return []string{
		string(events.EventStockReserved),
		string(events.EventInsufficientStock),
		string(events.EventPaymentCompleted),
		string(events.EventPaymentFailed),
		string(events.EventDeliveryStarted),
		string(events.EventDeliveryFailed),
	}
}

type stockReservedPayload struct {
	events.BaseEvent
	OrderID      int64             `json:"orderId"`
	Reservations map[string]string `json:"reservations"`
}

type orderFailurePayload struct {
	events.BaseEvent
	OrderID int64  `json:"orderId"`
	Reason  string `json:"reason"`
}

// Handle implements messaging.MessageHandler.
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	h.logger.Info("received message", zap.String("topic", msg.Topic))

	switch events.EventType(msg.Topic) {
	case events.EventStockReserved:
		var evt stockReservedPayload
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandleStockReserved(ctx, evt.OrderID, evt.Reservations)
		})

	case events.EventInsufficientStock:
		var evt orderFailurePayload
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandleInsufficientStock(ctx, evt.OrderID, evt.Reason)
		})

	case events.EventPaymentCompleted:
		var evt events.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandlePaymentCompleted(ctx, evt.OrderID)
		})

	case events.EventPaymentFailed:
		var evt events.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandlePaymentFailed(ctx, evt.OrderID, evt.Reason)
		})

	case events.EventDeliveryStarted:
		var evt events.DeliveryStartedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandleDeliveryStarted(ctx, evt.OrderID)
		})

	case events.EventDeliveryFailed:
		var evt events.DeliveryFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandleDeliveryFailed(ctx, evt.OrderID, evt.Reason)
		})
	}

	return nil
}

func (h *EventHandler) withDedup(ctx context.Context, eventID string, fn func() error) error {
	processed, err := h.idemStore.IsProcessed(ctx, eventID)
	if err != nil {
		h.logger.Warn("idempotency check failed, processing anyway", zap.Error(err))
	}
	if processed {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	if _, err := h.idemStore.Reserve(ctx, eventID, 24*time.Hour); err != nil {
		h.logger.Warn("failed to record idempotency key", zap.Error(err))
	}
	return nil
}
