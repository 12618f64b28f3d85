// Package inventory is the C3 service layer: it dispatches incoming domain
// events and HTTP admin requests onto the internal/stock engine, adding the
// multi-product batch semantics and expiry sweeping the teacher's
// single-product simulation in services/inventory/internal/service never
// had. Grounded on the teacher's inventory_service.go (idempotency-key
// guard, consumer dispatch shape) and services/inventory/cmd/main.go (Kafka
// topic switch, ticker-based background worker), generalized to the full
// catalog described in spec §4.3.
package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	domerrors "github.com/kyungseok/orderflow/common/errors"
	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/outbox"
	"github.com/kyungseok/orderflow/internal/stock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the C3 façade: one method per incoming domain event or admin
// operation, each translating into one or more stock.Engine calls.
type Service struct {
	db     *sql.DB
	engine *stock.Engine
	outbox outbox.Repository
	logger *zap.Logger
}

// NewService builds the inventory service.
func NewService(db *sql.DB, engine *stock.Engine, outboxRepo outbox.Repository, logger *zap.Logger) *Service {
	return &Service{db: db, engine: engine, outbox: outboxRepo, logger: logger}
}

// OrderItem is one line of an OrderCreated event, mirroring events.OrderCreatedEvent's
// per-item payload (spec §4.3 generalizes the teacher's single hardcoded item).
type OrderItem struct {
	ProductID string
	Quantity  int
}

// HandleOrderCreated reserves every item of the order atomically: sorted
// per-product locks, all-or-nothing (spec §4.3). A business rejection (out
// of stock, inactive product) is swallowed here and turned into an
// InsufficientStock outbox event instead of being returned as a handler
// error, so the message dispatcher doesn't nack/retry a decision that will
// never succeed on redelivery; the order saga driver reacts to the event
// by cancelling the order. Infra errors still propagate so the dispatcher
// retries those.
func (s *Service) HandleOrderCreated(ctx context.Context, orderID int64, correlationID string, items []OrderItem) ([]*stock.Reservation, error) {
	stockItems := make([]stock.Item, len(items))
	for i, it := range items {
		stockItems[i] = stock.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	reservations, err := s.engine.Reserve(ctx, orderID, correlationID, stockItems)
	if err != nil {
		s.logger.Warn("order reservation rejected",
			zap.Int64("orderId", orderID), zap.Error(err))

		if domerrors.IsBusinessError(err) {
			if emitErr := s.emitInsufficientStockTx(ctx, orderID, correlationID, items, err); emitErr != nil {
				return nil, emitErr
			}
			return nil, nil
		}
		return nil, err
	}

	s.logger.Info("order reserved", zap.Int64("orderId", orderID), zap.Int("items", len(reservations)))
	return reservations, nil
}

// emitInsufficientStockTx records the compensation-triggering event for a
// rejected reservation. The rejecting product/requested/available detail
// isn't always recoverable from a generic DomainError, so the first item is
// used as the representative product — the order saga only needs to know
// the order must be cancelled, not which exact line failed.
func (s *Service) emitInsufficientStockTx(ctx context.Context, orderID int64, correlationID string, items []OrderItem, cause error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin insufficient-stock tx: %w", err)
	}
	defer tx.Rollback()

	var productID string
	var requested int
	if len(items) > 0 {
		productID = items[0].ProductID
		requested = items[0].Quantity
	}

	evt := events.InsufficientStockEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventInsufficientStock,
			SchemaVersion: 1,
			CorrelationID: correlationID,
		},
		OrderID:   orderID,
		ProductID: productID,
		Requested: requested,
		Available: 0,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal insufficient stock event: %w", err)
	}

	ob := &outbox.Event{
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", orderID),
		EventType:     string(events.EventInsufficientStock),
		Payload:       payload,
		Status:        "PENDING",
	}
	if err := s.outbox.InsertTx(ctx, tx, ob); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit insufficient-stock tx: %w", err)
	}

	s.logger.Info("insufficient stock event emitted",
		zap.Int64("orderId", orderID), zap.Error(cause))
	return nil
}

// HandleOrderCancelled releases every still-held reservation belonging to
// an order, per spec §9's "hold ids only, look up locally" design note:
// the event only carries the orderId, and the engine resolves which
// reservations are still HELD.
func (s *Service) HandleOrderCancelled(ctx context.Context, orderID int64, correlationID string) error {
	ids, err := s.engine.FindActiveReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.engine.Release(ctx, id, "order_cancelled", correlationID); err != nil {
			return err
		}
	}
	return nil
}

// HandlePaymentCompleted commits every reservation belonging to the order
// from a HELD hold into a real stock deduction, once payment guarantees the
// sale will go through.
func (s *Service) HandlePaymentCompleted(ctx context.Context, orderID int64, correlationID string) error {
	ids, err := s.engine.FindActiveReservationsByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.engine.Deduct(ctx, id, correlationID); err != nil {
			return err
		}
	}
	return nil
}

// HandlePaymentFailed releases every reservation belonging to the order —
// the compensating action for a failed payment (spec §4.4 compensation list).
func (s *Service) HandlePaymentFailed(ctx context.Context, orderID int64, correlationID string) error {
	return s.HandleOrderCancelled(ctx, orderID, correlationID)
}

// AdjustStock applies an operator-driven stock correction (spec §6 stock
// adjustment endpoint).
func (s *Service) AdjustStock(ctx context.Context, productID string, delta int, reason, correlationID string) (int, error) {
	if delta == 0 {
		return 0, domerrors.New(domerrors.ErrCodeInvalidOrder, "adjustment delta must be non-zero")
	}
	return s.engine.Adjust(ctx, productID, delta, reason, correlationID)
}

// GetStock reads the current counters for a product (spec §6's read-side
// stock endpoint).
func (s *Service) GetStock(ctx context.Context, productID string) (*stock.Stock, error) {
	return s.engine.GetStock(ctx, productID)
}

// SweepExpired resolves every reservation whose hold has expired. Intended
// to be called on a ticker by a background worker (spec §4.3's expiry
// sweeper, grounded on reservation_cleanup.go's ticker shape).
func (s *Service) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	ids, err := s.engine.FindExpired(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if err := s.engine.ExpireDue(ctx, id, ""); err != nil {
			s.logger.Error("failed to expire reservation", zap.String("reservationId", id), zap.Error(err))
			continue
		}
		swept++
	}
	return swept, nil
}

// ExpirySweeper runs SweepExpired on an interval until ctx is cancelled.
func ExpirySweeper(ctx context.Context, svc *Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.SweepExpired(ctx, 100)
			if err != nil {
				logger.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired reservations released", zap.Int("count", n))
			}
		}
	}
}
