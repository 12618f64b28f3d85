package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/idempotency"
	"github.com/kyungseok/orderflow/common/messaging"
	"go.uber.org/zap"
)

// EventHandler reacts to PaymentCompleted by kicking off a simulated
// dispatch — the order saga has no shipping-address capture (out of scope
// for this system), so the address is synthesized from the order id.
type EventHandler struct {
	svc       *Service
	idemStore idempotency.Store
	logger    *zap.Logger
}

// NewEventHandler builds the delivery event dispatcher.
func NewEventHandler(svc *Service, idemStore idempotency.Store, logger *zap.Logger) *EventHandler {
	return &EventHandler{svc: svc, idemStore: idemStore, logger: logger}
}

// Topics lists the Kafka topics this handler subscribes to.
func (h *EventHandler) Topics() []string {
	return []string{
		string(events.EventPaymentCompleted),
	}
}

// Handle implements messaging.MessageHandler.
func (h *EventHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	h.logger.Info("received message", zap.String("topic", msg.Topic))

	switch events.EventType(msg.Topic) {
	case events.EventPaymentCompleted:
		var evt events.PaymentCompletedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return err
		}
		return h.withDedup(ctx, evt.EventID, func() error {
			address := fmt.Sprintf("order-%d-default-address", evt.OrderID)
			return h.svc.StartDelivery(ctx, evt.OrderID, address, evt.CorrelationID)
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
