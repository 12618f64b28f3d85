// Package stock implements the per-product stock engine described in spec
// section 4.1: Reserve, Release, Deduct, Adjust and ExpireDue, each
// serialized by internal/lock, with its stock UPDATEs and outbox insert in
// one transaction. Reserve and Adjust guard the stock UPDATE with the row's
// optimistic version; Release and Deduct (and so ExpireDue) update the stock
// row by product id without a version check. Grounded on the teacher's
// services/inventory/internal/service/inventory_service.go (conditional
// UPDATE ... WHERE version = $n, outbox insert in the same tx) generalized
// from its hardcoded single product to an arbitrary product catalog, and on
// other_examples' traffic-tacos-inventory-api for the Reserve/Commit/Release
// vocabulary and per-call idempotency key.
package stock

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	domerrors "github.com/kyungseok/orderflow/common/errors"
	"github.com/kyungseok/orderflow/common/events"
	"github.com/kyungseok/orderflow/common/outbox"
	"github.com/kyungseok/orderflow/internal/lock"
	"go.uber.org/zap"
)

// ReservationStatus mirrors the stock_reservations.status column.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Product is the catalog row backing a Stock record.
type Product struct {
	ID       string
	Name     string
	Active   bool
	LowStock int
}

// Stock is the per-product counters row, guarded by an optimistic Version.
type Stock struct {
	ProductID string
	OnHand    int
	Reserved  int
	Version   int64
}

// Available is the sellable quantity: on-hand minus what other reservations
// already hold.
func (s Stock) Available() int {
	return s.OnHand - s.Reserved
}

// Reservation is a single hold against a product's stock, created by
// Reserve and resolved by Deduct (commit) or Release.
type Reservation struct {
	ID         string
	OrderID    int64
	ProductID  string
	Quantity   int
	Status     ReservationStatus
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is one line of a batch reserve request.
type Item struct {
	ProductID string
	Quantity  int
}

// Engine is the stock operation surface. Every operation acquires the
// per-product lock (or locks, sorted, for batch Reserve) before mutating
// the database, per spec §4.1 and §9; Release and Deduct read the
// reservation row first to learn which product to lock.
type Engine struct {
	db       *sql.DB
	locks    *lock.Manager
	outbox   outbox.Repository
	logger   *zap.Logger
	waitBudget time.Duration
	holdTTL    time.Duration
}

// NewEngine builds a stock engine. holdTTL is the default reservation
// lifetime (spec §4.1 default 30 minutes, matching the teacher's literal
// INTERVAL '30 minutes').
func NewEngine(db *sql.DB, locks *lock.Manager, outboxRepo outbox.Repository, logger *zap.Logger, holdTTL time.Duration) *Engine {
	if holdTTL <= 0 {
		holdTTL = 30 * time.Minute
	}
	return &Engine{
		db:         db,
		locks:      locks,
		outbox:     outboxRepo,
		logger:     logger,
		waitBudget: 2 * time.Second,
		holdTTL:    holdTTL,
	}
}

// Reserve holds qty units of every item against an OrderID, all-or-nothing:
// items are locked in sorted product-id order (deadlock avoidance, spec
// §9), and if any single item's available stock is insufficient the whole
// batch is rejected and nothing already reserved in this call is left
// behind — any partial holds taken during the same WithMultiLock callback
// are rolled back in the same transaction. On full success, a single
// StockReserved event carrying every productID→reservationID and the batch
// expiry is written to the outbox in the same transaction (spec §4.3: "emit
// a single StockReserved{orderId, reservations[], expiresAt}").
func (e *Engine) Reserve(ctx context.Context, orderID int64, correlationID string, items []Item) ([]*Reservation, error) {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.ProductID
	}

	var reservations []*Reservation
	expiresAt := time.Now().Add(e.holdTTL)

	err := e.locks.WithMultiLock(ctx, keys, e.waitBudget, func(tokens map[string]int64) error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", err)
		}
		defer tx.Rollback()

		reservations = nil
		for _, it := range items {
			r, err := e.reserveOneTx(ctx, tx, orderID, correlationID, it, expiresAt)
			if err != nil {
				return err
			}
			reservations = append(reservations, r)
		}

		byProduct := make(map[string]string, len(reservations))
		for _, r := range reservations {
			byProduct[r.ProductID] = r.ID
		}
		evt := events.StockReservedEvent{
			BaseEvent: events.BaseEvent{
				EventID:       uuid.NewString(),
				EventType:     events.EventStockReserved,
				SchemaVersion: 1,
				OccurredAt:    time.Now(),
				CorrelationID: correlationID,
			},
			OrderID:      orderID,
			Reservations: byProduct,
			ExpiresAt:    expiresAt,
		}
		if err := e.insertOutboxTx(ctx, tx, "order", fmt.Sprintf("%d", orderID), events.EventStockReserved, evt); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit reservation", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return reservations, nil
}

func (e *Engine) reserveOneTx(ctx context.Context, tx *sql.Tx, orderID int64, correlationID string, item Item, expiresAt time.Time) (*Reservation, error) {
	var onHand, reserved int
	var version int64
	var active bool

	err := tx.QueryRowContext(ctx, `
		SELECT s.on_hand, s.reserved, s.version, p.active
		FROM stock s JOIN products p ON p.id = s.product_id
		WHERE s.product_id = $1 FOR UPDATE
	`, item.ProductID).Scan(&onHand, &reserved, &version, &active)
	if err != nil {
		return nil, domerrors.New(domerrors.ErrCodeOutOfStock, fmt.Sprintf("product %s not found", item.ProductID))
	}

	if !active {
		return nil, domerrors.New(domerrors.ErrCodeProductInactive, fmt.Sprintf("product %s inactive", item.ProductID))
	}

	available := onHand - reserved
	if available < item.Quantity {
		return nil, domerrors.New(domerrors.ErrCodeOutOfStock, "insufficient stock").
			WithDetails(map[string]interface{}{
				"productId": item.ProductID,
				"requested": item.Quantity,
				"available": available,
			})
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE stock SET reserved = reserved + $1, version = version + 1, updated_at = NOW()
		WHERE product_id = $2 AND version = $3
	`, item.Quantity, item.ProductID, version)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to update stock", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, domerrors.New(domerrors.ErrCodeVersionConflict, "concurrent stock update, retry")
	}

	reservationID := uuid.NewString()
	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_reservations (id, order_id, product_id, quantity, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'HELD', $5, NOW(), NOW())
	`, reservationID, orderID, item.ProductID, item.Quantity, expiresAt)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to insert reservation", err)
	}

	if err := e.maybeEmitLowStockAlertTx(ctx, tx, item.ProductID, available-item.Quantity, correlationID); err != nil {
		return nil, err
	}

	return &Reservation{
		ID:        reservationID,
		OrderID:   orderID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Status:    ReservationHeld,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Release reverses a HELD reservation, freeing the reserved quantity back
// to availability. Idempotent: releasing an already-released or expired
// reservation is a no-op.
func (e *Engine) Release(ctx context.Context, reservationID string, reason string, correlationID string) error {
	return e.resolveHold(ctx, reservationID, reason, correlationID, ReservationReleased, events.EventStockReleased)
}

// ExpireDue is the sweeper operation: it resolves a single reservation that
// has already passed its expires_at as if Released, with reason "expired".
// The caller (a periodic worker) is expected to loop this over the rows
// returned by FindExpired.
func (e *Engine) ExpireDue(ctx context.Context, reservationID string, correlationID string) error {
	return e.resolveHold(ctx, reservationID, "expired", correlationID, ReservationExpired, events.EventStockReleased)
}

func (e *Engine) resolveHold(ctx context.Context, reservationID, reason, correlationID string, newStatus ReservationStatus, eventType events.EventType) error {
	productID, err := e.reservationProductID(ctx, reservationID)
	if err != nil {
		return err
	}
	if productID == "" {
		return nil // already resolved or unknown; release is idempotent
	}

	return e.locks.WithLock(ctx, productID, e.waitBudget, func(token int64) error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", err)
		}
		defer tx.Rollback()

		var orderID int64
		var quantity int
		var status string
		err = tx.QueryRowContext(ctx, `
			SELECT order_id, quantity, status FROM stock_reservations
			WHERE id = $1 AND product_id = $2 FOR UPDATE
		`, reservationID, productID).Scan(&orderID, &quantity, &status)
		if err != nil {
			return nil // concurrently resolved between the two queries
		}
		if status != string(ReservationHeld) {
			return nil // idempotent: nothing to release
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE stock SET reserved = reserved - $1, version = version + 1, updated_at = NOW()
			WHERE product_id = $2
		`, quantity, productID); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to release stock", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_reservations SET status = $1, updated_at = NOW() WHERE id = $2
		`, newStatus, reservationID); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to update reservation", err)
		}

		evt := events.StockReleasedEvent{
			BaseEvent: events.BaseEvent{
				EventID:       uuid.NewString(),
				EventType:     eventType,
				SchemaVersion: 1,
				OccurredAt:    time.Now(),
				CorrelationID: correlationID,
			},
			OrderID:       orderID,
			ReservationID: reservationID,
			ProductID:     productID,
			Quantity:      quantity,
			Reason:        reason,
		}
		if err := e.insertOutboxTx(ctx, tx, "stock_reservation", reservationID, eventType, evt); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit release", err)
		}
		return nil
	})
}

func (e *Engine) reservationProductID(ctx context.Context, reservationID string) (string, error) {
	var productID, status string
	err := e.db.QueryRowContext(ctx, `
		SELECT product_id, status FROM stock_reservations WHERE id = $1
	`, reservationID).Scan(&productID, &status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to look up reservation", err)
	}
	if status != string(ReservationHeld) {
		return "", nil
	}
	return productID, nil
}

// Deduct commits a HELD reservation into a permanent stock deduction: the
// reserved counter is cleared and on_hand is reduced for real. Called when
// an order reaches PAID and the hold converts into an actual sale.
func (e *Engine) Deduct(ctx context.Context, reservationID string, correlationID string) error {
	var productID string
	var orderID int64
	var quantity int
	var status string
	err := e.db.QueryRowContext(ctx, `
		SELECT product_id, order_id, quantity, status FROM stock_reservations WHERE id = $1
	`, reservationID).Scan(&productID, &orderID, &quantity, &status)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "reservation not found", err)
	}
	if status != string(ReservationHeld) {
		return nil
	}

	return e.locks.WithLock(ctx, productID, e.waitBudget, func(token int64) error {
		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			UPDATE stock SET on_hand = on_hand - $1, reserved = reserved - $1, version = version + 1, updated_at = NOW()
			WHERE product_id = $2
		`, quantity, productID); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to deduct stock", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_reservations SET status = 'COMMITTED', updated_at = NOW() WHERE id = $1
		`, reservationID); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit reservation", err)
		}

		evt := events.StockDeductedEvent{
			BaseEvent: events.BaseEvent{
				EventID:       uuid.NewString(),
				EventType:     events.EventStockDeducted,
				SchemaVersion: 1,
				OccurredAt:    time.Now(),
				CorrelationID: correlationID,
			},
			OrderID:       orderID,
			ReservationID: reservationID,
			ProductID:     productID,
			Quantity:      quantity,
		}
		if err := e.insertOutboxTx(ctx, tx, "stock_reservation", reservationID, events.EventStockDeducted, evt); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (product_id, delta, reason, reference_id, created_at)
			VALUES ($1, $2, 'ORDER_DEDUCT', $3, NOW())
		`, productID, -quantity, reservationID); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to write stock movement", err)
		}

		if err := tx.Commit(); err != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit deduct", err)
		}
		return nil
	})
}

// Adjust applies an operator-driven on_hand delta (spec §4.1/§6 stock
// adjustment endpoint), outside of any order's lifecycle. Negative delta
// below the currently-reserved quantity is rejected (ErrCodeBelowReserved).
func (e *Engine) Adjust(ctx context.Context, productID string, delta int, reason, correlationID string) (newOnHand int, err error) {
	acquireErr := e.locks.WithLock(ctx, productID, e.waitBudget, func(token int64) error {
		tx, txErr := e.db.BeginTx(ctx, nil)
		if txErr != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", txErr)
		}
		defer tx.Rollback()

		var onHand, reserved int
		var version int64
		if scanErr := tx.QueryRowContext(ctx, `
			SELECT on_hand, reserved, version FROM stock WHERE product_id = $1 FOR UPDATE
		`, productID).Scan(&onHand, &reserved, &version); scanErr != nil {
			return domerrors.New(domerrors.ErrCodeOutOfStock, fmt.Sprintf("product %s not found", productID))
		}

		if onHand+delta < reserved {
			return domerrors.New(domerrors.ErrCodeBelowReserved, "adjustment would go below reserved quantity")
		}

		res, execErr := tx.ExecContext(ctx, `
			UPDATE stock SET on_hand = on_hand + $1, version = version + 1, updated_at = NOW()
			WHERE product_id = $2 AND version = $3
		`, delta, productID, version)
		if execErr != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to adjust stock", execErr)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return domerrors.New(domerrors.ErrCodeVersionConflict, "concurrent stock update, retry")
		}

		newOnHand = onHand + delta

		evt := events.StockAdjustedEvent{
			BaseEvent: events.BaseEvent{
				EventID:       uuid.NewString(),
				EventType:     events.EventStockAdjusted,
				SchemaVersion: 1,
				OccurredAt:    time.Now(),
				CorrelationID: correlationID,
			},
			ProductID: productID,
			Delta:     delta,
			NewOnHand: newOnHand,
			Reason:    reason,
		}
		if err := e.insertOutboxTx(ctx, tx, "product", productID, events.EventStockAdjusted, evt); err != nil {
			return err
		}

		if _, execErr := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (product_id, delta, reason, reference_id, created_at)
			VALUES ($1, $2, $3, '', NOW())
		`, productID, delta, reason); execErr != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to write stock movement", execErr)
		}

		if err := e.maybeEmitLowStockAlertTx(ctx, tx, productID, newOnHand-reserved, correlationID); err != nil {
			return err
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit adjustment", commitErr)
		}
		return nil
	})
	if acquireErr != nil {
		return 0, acquireErr
	}
	return newOnHand, nil
}

// FindExpired returns reservation ids still HELD past their expires_at, for
// the expiry sweeper worker to feed into ExpireDue.
func (e *Engine) FindExpired(ctx context.Context, limit int) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id FROM stock_reservations WHERE status = 'HELD' AND expires_at < NOW() LIMIT $1
	`, limit)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to query expired reservations", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetStock returns the current counters for a product, backing the
// GET /api/v1/inventory/products/{id}/stock endpoint (spec §6).
func (e *Engine) GetStock(ctx context.Context, productID string) (*Stock, error) {
	s := Stock{ProductID: productID}
	err := e.db.QueryRowContext(ctx, `
		SELECT on_hand, reserved, version FROM stock WHERE product_id = $1
	`, productID).Scan(&s.OnHand, &s.Reserved, &s.Version)
	if err == sql.ErrNoRows {
		return nil, domerrors.New(domerrors.ErrCodeOutOfStock, fmt.Sprintf("product %s not found", productID))
	}
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to load stock", err)
	}
	return &s, nil
}

// FindActiveReservationsByOrder returns the still-HELD reservation ids for
// an order. Consumers (the inventory service reacting to OrderCancelled,
// PaymentCompleted, PaymentFailed) use this to resolve their compensation
// list from just an orderId on the wire, per spec §9's "hold ids only ...
// each side looks up locally" design note.
func (e *Engine) FindActiveReservationsByOrder(ctx context.Context, orderID int64) ([]string, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id FROM stock_reservations WHERE order_id = $1 AND status = 'HELD'
	`, orderID)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to query order reservations", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const lowStockThresholdDefault = 10

func (e *Engine) maybeEmitLowStockAlertTx(ctx context.Context, tx *sql.Tx, productID string, available int, correlationID string) error {
	var threshold int
	err := tx.QueryRowContext(ctx, `SELECT low_stock FROM products WHERE id = $1`, productID).Scan(&threshold)
	if err != nil || threshold <= 0 {
		threshold = lowStockThresholdDefault
	}
	if available >= threshold {
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO low_stock_alerts (product_id, threshold_crossing, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (product_id, threshold_crossing) DO NOTHING
	`, productID, threshold)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to record low stock alert", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil // already alerted at this threshold crossing
	}

	evt := events.LowStockAlertEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventLowStockAlert,
			SchemaVersion: 1,
			OccurredAt:    time.Now(),
			CorrelationID: correlationID,
		},
		ProductID: productID,
		Available: available,
		Threshold: threshold,
	}
	return e.insertOutboxTx(ctx, tx, "product", productID, events.EventLowStockAlert, evt)
}

func (e *Engine) insertOutboxTx(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID string, eventType events.EventType, evt interface{}) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeSerializationError, "failed to marshal event", err)
	}
	ob := &outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     time.Now(),
	}
	if err := e.outbox.InsertTx(ctx, tx, ob); err != nil {
		return err
	}
	return nil
}
