package order

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	domerrors "github.com/kyungseok/orderflow/common/errors"
	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/idempotency"
	"github.com/kyungseok/orderflow/common/outbox"
	"go.uber.org/zap"
)

// CreateCommand is the inbound request to start a new order saga.
type CreateCommand struct {
	CustomerID int64
	Currency   string
	Items      []Item
}

// Service is the C4 saga driver: it owns the order status graph and reacts
// to inventory/payment/delivery events, generalizing the teacher's
// orderService (services/order/internal/service/order_service.go) from its
// four-state graph to the full one in domain.go.
type Service struct {
	db         *sql.DB
	repo       Repository
	outboxRepo outbox.Repository
	dedup      idempotency.Store
	logger     *zap.Logger
	cancelWindow time.Duration
}

// NewService builds the order saga service.
func NewService(db *sql.DB, repo Repository, outboxRepo outbox.Repository, dedup idempotency.Store, logger *zap.Logger) *Service {
	return &Service{
		db:           db,
		repo:         repo,
		outboxRepo:   outboxRepo,
		dedup:        dedup,
		logger:       logger,
		cancelWindow: DefaultCancellationWindow,
	}
}

// duplicateHash hashes (customerID, sorted item set) so two near-simultaneous
// identical submissions collapse to one order, per spec §4.4.
func duplicateHash(customerID int64, items []Item) string {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	h := sha256.New()
	fmt.Fprintf(h, "%d", customerID)
	for _, it := range sorted {
		fmt.Fprintf(h, "|%s:%d", it.ProductID, it.Quantity)
	}
	return hex.EncodeToString(h.Sum(nil))
}

const duplicateOrderWindow = 5 * time.Minute

// CreateOrder starts a new saga: checks the duplicate-order window, persists
// a PENDING order, and emits OrderCreated inside the same transaction as the
// outbox insert (teacher's outbox pattern, generalized to the multi-item
// order shape).
func (s *Service) CreateOrder(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if len(cmd.Items) == 0 {
		return nil, domerrors.New(domerrors.ErrCodeInvalidOrder, "order must have at least one item")
	}
	for _, it := range cmd.Items {
		if it.Quantity <= 0 {
			return nil, domerrors.New(domerrors.ErrCodeInvalidOrder, "item quantity must be positive")
		}
	}

	hash := duplicateHash(cmd.CustomerID, cmd.Items)
	dedupKey := fmt.Sprintf("order-create-%s", hash)
	reserved, err := s.dedup.Reserve(ctx, dedupKey, duplicateOrderWindow)
	if err != nil {
		s.logger.Warn("duplicate-order dedup check failed, proceeding", zap.Error(err))
		reserved = true
	}
	if !reserved {
		existing, findErr := s.repo.FindRecentByDuplicateHash(ctx, hash, "5 minutes")
		if findErr == nil {
			s.logger.Info("duplicate order rejected", zap.Int64("orderId", existing.ID))
			return nil, domerrors.New(domerrors.ErrCodeDuplicateRequest,
				"an identical order was already submitted within the duplicate-order window").
				WithDetails(map[string]interface{}{"orderId": existing.ID})
		}
		if findErr != sql.ErrNoRows {
			return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to look up duplicate order", findErr)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now()
	o := &Order{
		CustomerID:    cmd.CustomerID,
		Items:         cmd.Items,
		Currency:      cmd.Currency,
		Status:        StatusPending,
		Reservations:  map[string]string{},
		DuplicateHash: hash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to create order", err)
	}

	correlationID := uuid.NewString()
	if err := s.emitOrderCreatedTx(ctx, tx, o, correlationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit order creation", err)
	}

	s.logger.Info("order created", zap.Int64("orderId", o.ID), zap.String("correlationId", correlationID))
	return o, nil
}

func (s *Service) emitOrderCreatedTx(ctx context.Context, tx *sql.Tx, o *Order, correlationID string) error {
	type itemPayload struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
		UnitPrice int64  `json:"unitPrice"`
	}
	payloadItems := make([]itemPayload, len(o.Items))
	for i, it := range o.Items {
		payloadItems[i] = itemPayload{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}

	evt := struct {
		events.BaseEvent
		OrderID  int64         `json:"orderId"`
		Currency string        `json:"currency"`
		Items    []itemPayload `json:"items"`
	}{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventOrderCreated,
			SchemaVersion: 1,
			OccurredAt:    time.Now(),
			CorrelationID: correlationID,
		},
		OrderID:  o.ID,
		Currency: o.Currency,
		Items:    payloadItems,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	ob := &outbox.Event{
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", o.ID),
		EventType:     string(events.EventOrderCreated),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     time.Now(),
	}
	return s.outboxRepo.InsertTx(ctx, tx, ob)
}

// GetOrder returns an order by id.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	o, err := s.repo.FindByID(ctx, orderID)
	if err == sql.ErrNoRows {
		return nil, domerrors.New(domerrors.ErrCodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to load order", err)
	}
	return o, nil
}

// HandleStockReserved confirms the order, stores the reservation map, and
// drives it straight through PAYMENT_PENDING into PAYMENT_PROCESSING:
// PENDING → CONFIRMED → PAYMENT_PENDING → PAYMENT_PROCESSING. No separate
// "payment requested" event exists on the wire — the payment simulator
// reacts to order.created.v1 directly and is already racing to decide by
// the time stock confirms — so this is the one step that puts the order in
// the PAYMENT_PROCESSING state HandlePaymentCompleted/HandlePaymentFailed
// require (spec §4.4 diagram collapses these three edges into one).
func (s *Service) HandleStockReserved(ctx context.Context, orderID int64, reservations map[string]string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		s.logger.Info("dropping StockReserved for order not in PENDING", zap.Int64("orderId", orderID), zap.String("status", string(o.Status)))
		return nil
	}

	if ok, err := s.repo.SetReservations(ctx, o.ID, reservations, o.Version); err != nil || !ok {
		if err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to set reservations", err)
		}
		return domerrors.New(domerrors.ErrCodeVersionConflict, "concurrent order update, retry")
	}

	if err := s.transition(ctx, orderID, StatusConfirmed, ""); err != nil {
		return err
	}
	if err := s.transition(ctx, orderID, StatusPaymentPending, ""); err != nil {
		return err
	}
	return s.transition(ctx, orderID, StatusPaymentProcessing, "")
}

// HandleInsufficientStock cancels a PENDING order because the reservation
// batch was rejected (spec §4.4's "insufficient-stock" edge straight to
// CANCELLED).
func (s *Service) HandleInsufficientStock(ctx context.Context, orderID int64, reason string) error {
	return s.transitionIfCurrent(ctx, orderID, StatusPending, StatusCancelled, reason)
}

// HandlePaymentCompleted marks the order PAID per spec §4.4: "If current
// state is not ∈ {PAYMENT_PENDING, PAYMENT_PROCESSING}, drop the event and
// log (no retry)."
func (s *Service) HandlePaymentCompleted(ctx context.Context, orderID int64) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPaymentPending && o.Status != StatusPaymentProcessing {
		s.logger.Info("dropping PaymentCompleted: order not awaiting payment",
			zap.Int64("orderId", orderID), zap.String("status", string(o.Status)))
		return nil
	}
	return s.transition(ctx, orderID, StatusPaid, "")
}

// HandlePaymentFailed fails the order (spec §4.4 compensation edge); the
// reserved stock is released by the inventory service on the same event.
func (s *Service) HandlePaymentFailed(ctx context.Context, orderID int64, reason string) error {
	return s.transitionIfCurrent(ctx, orderID, StatusPaymentProcessing, StatusFailed, reason)
}

// HandleDeliveryStarted advances PAID → PREPARING → SHIPPED (or just
// PREPARING → SHIPPED when the order is already PREPARING).
func (s *Service) HandleDeliveryStarted(ctx context.Context, orderID int64) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == StatusPaid {
		if err := s.transition(ctx, orderID, StatusPreparing, ""); err != nil {
			return err
		}
	}
	return s.transitionIfCurrent(ctx, orderID, StatusPreparing, StatusShipped, "")
}

// HandleDeliveryFailed fails the order from PREPARING (compensation handled
// by the caller via CancelOrder's release list if reservations still exist).
func (s *Service) HandleDeliveryFailed(ctx context.Context, orderID int64, reason string) error {
	return s.transitionIfCurrent(ctx, orderID, StatusPreparing, StatusFailed, reason)
}

// AdvanceAfterShipment is the operator/admin-driven transition for the
// SHIPPED→DELIVERED→COMPLETED tail the source leaves untriggered by any
// event (resolved Open Question (b)).
func (s *Service) AdvanceAfterShipment(ctx context.Context, orderID int64, to Status) error {
	if to != StatusDelivered && to != StatusCompleted {
		return domerrors.New(domerrors.ErrCodeIllegalTransition, "can only advance to DELIVERED or COMPLETED")
	}
	return s.transition(ctx, orderID, to, "")
}

// CancelOrder implements spec §4.4's cancelOrder: permitted only from the
// cancellable set, customer-initiated cancels additionally bounded by the
// 24h window. The status update and the OrderCanceled outbox event commit in
// the same transaction (spec §9's transactional-outbox pattern) so inventory
// never misses the compensating release; it resolves the reservation ids to
// free from the orderId alone (spec §9's "hold ids only" design note), so
// this only needs to carry orderId+reason on the wire.
func (s *Service) CancelOrder(ctx context.Context, orderID int64, reason string, customerInitiated bool) (map[string]string, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanCancel(customerInitiated, s.cancelWindow, time.Now()) {
		return nil, domerrors.New(domerrors.ErrCodeNotCancellable, "order is not cancellable in its current state or window")
	}
	if !o.CanTransitionTo(StatusCancelled) {
		return nil, domerrors.New(domerrors.ErrCodeIllegalTransition,
			fmt.Sprintf("cannot transition order from %s to CANCELLED", o.Status))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin cancellation transaction", err)
	}
	defer tx.Rollback()

	ok, err := s.repo.UpdateStatusWithVersionTx(ctx, tx, orderID, StatusCancelled, reason, o.Version)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to update order status", err)
	}
	if !ok {
		return nil, domerrors.New(domerrors.ErrCodeVersionConflict, "concurrent order update, retry")
	}

	correlationID := uuid.NewString()
	if err := s.emitOrderCanceledTx(ctx, tx, o.ID, reason, correlationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit order cancellation", err)
	}

	s.logger.Info("order cancelled", zap.Int64("orderId", orderID), zap.String("correlationId", correlationID))
	return o.Reservations, nil
}

func (s *Service) emitOrderCanceledTx(ctx context.Context, tx *sql.Tx, orderID int64, reason, correlationID string) error {
	evt := events.OrderCanceledEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventOrderCanceled,
			SchemaVersion: 1,
			OccurredAt:    time.Now(),
			CorrelationID: correlationID,
		},
		OrderID: orderID,
		Reason:  reason,
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	ob := &outbox.Event{
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", orderID),
		EventType:     string(events.EventOrderCanceled),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     time.Now(),
	}
	return s.outboxRepo.InsertTx(ctx, tx, ob)
}

func (s *Service) transition(ctx context.Context, orderID int64, to Status, reason string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.CanTransitionTo(to) {
		return domerrors.New(domerrors.ErrCodeIllegalTransition,
			fmt.Sprintf("cannot transition order from %s to %s", o.Status, to))
	}

	ok, err := s.repo.UpdateStatusWithVersion(ctx, orderID, to, reason, o.Version)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to update order status", err)
	}
	if !ok {
		return domerrors.New(domerrors.ErrCodeVersionConflict, "concurrent order update, retry")
	}

	s.logger.Info("order transitioned", zap.Int64("orderId", orderID), zap.String("to", string(to)))
	return nil
}

// transitionIfCurrent only transitions when the order is still in `from`,
// otherwise drops silently — the "drop the event and log" idiom spec §4.4
// uses for out-of-order or duplicate event delivery.
func (s *Service) transitionIfCurrent(ctx context.Context, orderID int64, from, to Status, reason string) error {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != from {
		s.logger.Info("dropping event: order not in expected state",
			zap.Int64("orderId", orderID), zap.String("expected", string(from)), zap.String("actual", string(o.Status)))
		return nil
	}
	return s.transition(ctx, orderID, to, reason)
}
