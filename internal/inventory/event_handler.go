package inventory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/idempotency"
	"github.com/kyungseok/orderflow/common/messaging"
	"go.uber.org/zap"
)

// orderItemPayload is the per-item shape inside OrderCreatedEvent; the stock
// engine only needs product id and quantity (spec §9's "ids-only
// references" design note).
type orderItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// orderCreatedPayload extends events.OrderCreatedEvent with the per-item
// catalog breakdown the teacher's single-product event never carried —
// the C3 engine needs per-product quantities to reserve against the real
// catalog instead of one hardcoded SKU.
type orderCreatedPayload struct {
	events.BaseEvent
	OrderID int64              `json:"orderId"`
	Items   []orderItemPayload `json:"items"`
}

// EventHandler dispatches inbound Kafka messages to Service, deduplicating
// by eventId via the shared idempotency store — the same pattern the
// teacher's services/inventory/cmd/main.go inlines, pulled out so it can be
// unit tested independent of a live consumer.
type EventHandler struct {
	svc       *Service
	idemStore idempotency.Store
	logger    *zap.Logger
}

// NewEventHandler builds the inventory event dispatcher.
func NewEventHandler(svc *Service, idemStore idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, idemStore: idemStore, logger: logger}
}

// Topics lists the Kafka topics this handler subscribes to.
func (h *EventHandler) Topics() []string {
	return []string{
		string(events.EventOrderCreated),
		string(events.EventOrderCanceled),
		string(events.EventPaymentCompleted),
		string(events.EventPaymentFailed),
	}
}

// Handle implements messaging.MessageHandler.
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	h.logger.Info("received message", zap.String("topic", msg.Topic))

	switch events.EventType(msg.Topic) {
	case events.EventOrderCreated:
		var evt orderCreatedPayload
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			items := make([]OrderItem, len(evt.Items))
			for i, it := range evt.Items {
				items[i] = OrderItem{ProductID: it.ProductID, Quantity: it.Quantity}
			}
			_, err := h.svc.HandleOrderCreated(ctx, evt.OrderID, evt.CorrelationID, items)
			return err
		})

	case events.EventOrderCanceled:
		var evt events.OrderCanceledEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandleOrderCancelled(ctx, evt.OrderID, evt.CorrelationID)
		})

	case events.EventPaymentCompleted:
		var evt events.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandlePaymentCompleted(ctx, evt.OrderID, evt.CorrelationID)
		})

	case events.EventPaymentFailed:
		var evt events.PaymentFailedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			return h.svc.HandlePaymentFailed(ctx, evt.OrderID, evt.CorrelationID)
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
		h.logger.Info("skipping duplicate event", zap.String("eventId", eventID))
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
