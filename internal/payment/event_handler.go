package payment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/idempotency"
	"github.com/kyungseok/orderflow/common/messaging"
	"github.com/kyungseok/orderflow/common/money"
	"go.uber.org/zap"
)

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// orderConfirmedPayload is the wire shape of events.EventOrderConfirmed.
// No service in the module emits that event and this handler does not
// subscribe to it, so the type is currently unused.
type orderConfirmedPayload struct {
	events.BaseEvent
	OrderID int64 `json:"orderId"`
}

// orderCreatedPayload carries the order total needed to simulate a decline;
// the simulator authorizes against order.created.v1 directly rather than
// waiting on order.confirmed.v1, since the teacher's payment service always
// reacted to order creation.
type orderCreatedPayload struct {
	events.BaseEvent
	OrderID  int64              `json:"orderId"`
	Currency string             `json:"currency"`
	Items    []orderItemPayload `json:"items"`
}

// EventHandler dispatches inbound order events to the simulated payment
// Service, deduplicating by eventId via the shared idempotency store.
type EventHandler struct {
	svc       *Service
	idemStore idempotency.Store
	logger    *zap.Logger
}

// NewEventHandler builds the payment event dispatcher.
func NewEventHandler(svc *Service, idemStore idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, idemStore: idemStore, logger: logger}
}

// Topics lists the Kafka topics this handler subscribes to.
func (h *EventHandler) Topics() []string {
	return []string{
		string(events.EventOrderCreated),
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
			currency := evt.Currency
			if currency == "" {
				currency = "USD"
			}
			total := money.New(0, currency)
			for _, it := range evt.Items {
				subtotal := money.New(it.UnitPrice, currency).MulQty(it.Quantity)
				total, _ = total.Add(subtotal)
			}
			return h.svc.ProcessOrder(ctx, evt.OrderID, total.Amount, total.Currency, evt.CorrelationID)
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
