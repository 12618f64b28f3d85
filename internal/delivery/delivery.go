// Package delivery is the simulated shipment collaborator: like payment, a
// real carrier integration is out of scope, but the saga needs a real
// DeliveryStarted/DeliveryFailed producer to drive orders from PAID through
// SHIPPED. Grounded on the same outbox/idempotency wiring used by
// internal/payment and internal/inventory.
package delivery

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
	"go.uber.org/zap"
)

// Status enumerates the simulated shipment lifecycle.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusShipped   Status = "SHIPPED"
	StatusFailed    Status = "FAILED"
	StatusDelivered Status = "DELIVERED"
)

// Delivery is the simulated shipment record.
type Delivery struct {
	ID        int64
	OrderID   int64
	Address   string
	Status    Status
	Reason    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is the delivery persistence contract.
type Repository interface {
	Create(ctx context.Context, d *Delivery) error
	FindByOrderID(ctx context.Context, orderID int64) (*Delivery, error)
}

type repository struct {
	db *sql.DB
}

// NewRepository builds the delivery repository.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, d *Delivery) error {
	query := `
		INSERT INTO deliveries (order_id, address, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, d.OrderID, d.Address, d.Status, d.Reason, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID int64) (*Delivery, error) {
	query := `
		SELECT id, order_id, address, status, reason, created_at, updated_at
		FROM deliveries WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1
	`
	d := &Delivery{}
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&d.ID, &d.OrderID, &d.Address, &d.Status, &d.Reason, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("delivery not found for order %d: %w", orderID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find delivery: %w", err)
	}
	return d, nil
}

// Service simulates dispatch once payment clears.
type Service struct {
	db             *sql.DB
	outbox         outbox.Repository
	logger         *zap.Logger
	failAddrPrefix string // simulated carrier rejection; "" disables
}

// NewService builds the simulated delivery service. failAddrPrefix, when
// non-empty, makes any address with that prefix simulate a failed dispatch —
// enough to exercise the saga's SHIPPED-failure edge without a real carrier.
func NewService(db *sql.DB, outboxRepo outbox.Repository, logger *zap.Logger, failAddrPrefix string) *Service {
	return &Service{db: db, outbox: outboxRepo, logger: logger, failAddrPrefix: failAddrPrefix}
}

// StartDelivery simulates a dispatch attempt for orderID, writing a Delivery
// row and emitting DeliveryStarted or DeliveryFailed in the same transaction.
func (s *Service) StartDelivery(ctx context.Context, orderID int64, address, correlationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	failed := s.failAddrPrefix != "" && len(address) >= len(s.failAddrPrefix) && address[:len(s.failAddrPrefix)] == s.failAddrPrefix
	status := StatusShipped
	reason := ""
	if failed {
		status = StatusFailed
		reason = "simulated carrier rejection: undeliverable address"
	}

	now := time.Now()
	var deliveryID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO deliveries (order_id, address, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id
	`, orderID, address, status, reason, now).Scan(&deliveryID)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to insert delivery", err)
	}

	eventType := events.EventDeliveryStarted
	var payload []byte
	if failed {
		eventType = events.EventDeliveryFailed
		evt := events.DeliveryFailedEvent{
			BaseEvent: events.BaseEvent{
				EventID: uuid.NewString(), EventType: eventType, SchemaVersion: 1,
				OccurredAt: now, CorrelationID: correlationID,
			},
			OrderID: orderID, Reason: reason,
		}
		payload, err = json.Marshal(evt)
	} else {
		evt := events.DeliveryStartedEvent{
			BaseEvent: events.BaseEvent{
				EventID: uuid.NewString(), EventType: eventType, SchemaVersion: 1,
				OccurredAt: now, CorrelationID: correlationID,
			},
			OrderID: orderID, DeliveryID: deliveryID, Address: address,
		}
		payload, err = json.Marshal(evt)
	}
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	ob := &outbox.Event{
		AggregateType: "delivery",
		AggregateID:   fmt.Sprintf("%d", deliveryID),
		EventType:     string(eventType),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     now,
	}
	if err := s.outbox.InsertTx(ctx, tx, ob); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit delivery", err)
	}

	s.logger.Info("delivery processed", zap.Int64("orderId", orderID), zap.String("status", string(status)))
	return nil
}
