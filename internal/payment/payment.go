// Package payment is the simulated payment collaborator described in
// SPEC_FULL §2: a full payment processor is explicitly out of scope (spec
// Non-goal), but the saga's compensation tests need a real event producer
// on the PaymentCompleted/PaymentFailed contract, so this package keeps a
// thin simulation grounded on the teacher's services/payment internals
// (domain.Payment status enum, PaymentRepository shape), reacting to
// OrderCreated and always succeeding unless the order's total exceeds a
// configurable simulated decline threshold.
package payment

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

// Status mirrors the teacher's domain.PaymentStatus.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

// Payment is the simulated payment record, generalized from the teacher's
// domain.Payment (single amount field) to carry a currency alongside it.
type Payment struct {
	ID         int64
	OrderID    int64
	Amount     int64
	Currency   string
	Status     Status
	Reason     string
	ExternalTx string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository is the payment persistence contract.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	FindByOrderID(ctx context.Context, orderID int64) (*Payment, error)
	UpdateStatus(ctx context.Context, id int64, status Status, reason string) error
}

type repository struct {
	db *sql.DB
}

// NewRepository builds the payment repository.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, currency, status, external_tx, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, p.OrderID, p.Amount, p.Currency, p.Status, p.ExternalTx, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID int64) (*Payment, error) {
	query := `
		SELECT id, order_id, amount, currency, status, external_tx, created_at, updated_at
		FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1
	`
	p := &Payment{}
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Status, &p.ExternalTx, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found for order %d: %w", orderID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}
	return p, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, reason = $2, updated_at = NOW() WHERE id = $3
	`, status, reason, id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return nil
}

// Service simulates payment authorization against an order total.
type Service struct {
	db              *sql.DB
	repo            Repository
	outbox          outbox.Repository
	logger          *zap.Logger
	declineOverAmt  int64 // simulated decline threshold in minor units; 0 disables
}

// NewService builds the simulated payment service. declineOverAmount, when
// positive, makes any order total above it simulate a decline — enough to
// exercise the saga's compensation path (spec scenario S5) without a real
// payment gateway integration.
func NewService(db *sql.DB, repo Repository, outboxRepo outbox.Repository, logger *zap.Logger, declineOverAmount int64) *Service {
	return &Service{db: db, repo: repo, outbox: outboxRepo, logger: logger, declineOverAmt: declineOverAmount}
}

// ProcessOrder simulates a payment attempt for orderID/amount, writing a
// Payment row and emitting PaymentCompleted or PaymentFailed in the same
// transaction (teacher's outbox pattern).
func (s *Service) ProcessOrder(ctx context.Context, orderID, amount int64, currency, correlationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	declined := s.declineOverAmt > 0 && amount > s.declineOverAmt
	status := StatusCompleted
	reason := ""
	if declined {
		status = StatusFailed
		reason = "simulated decline: amount exceeds configured threshold"
	}

	now := time.Now()
	var paymentID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, amount, currency, status, external_tx, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`, orderID, amount, currency, status, uuid.NewString(), reason, now).Scan(&paymentID)
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to insert payment", err)
	}

	eventType := events.EventPaymentCompleted
	if declined {
		eventType = events.EventPaymentFailed
	}

	var payload []byte
	if declined {
		evt := events.PaymentFailedEvent{
			BaseEvent: events.BaseEvent{
				EventID: uuid.NewString(), EventType: eventType, SchemaVersion: 1,
				OccurredAt: now, CorrelationID: correlationID,
			},
			OrderID: orderID, Reason: reason,
		}
		payload, err = json.Marshal(evt)
	} else {
		evt := events.PaymentCompletedEvent{
			BaseEvent: events.BaseEvent{
				EventID: uuid.NewString(), EventType: eventType, SchemaVersion: 1,
				OccurredAt: now, CorrelationID: correlationID,
			},
			OrderID: orderID, PaymentID: paymentID, Amount: amount, PaymentType: "SIMULATED",
		}
		payload, err = json.Marshal(evt)
	}
	if err != nil {
		return domerrors.Wrap(domerrors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	ob := &outbox.Event{
		AggregateType: "payment",
		AggregateID:   fmt.Sprintf("%d", paymentID),
		EventType:     string(eventType),
		Payload:       payload,
		Status:        "PENDING",
		CreatedAt:     now,
	}
	if err := s.outbox.InsertTx(ctx, tx, ob); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domerrors.Wrap(domerrors.ErrCodeDatabaseError, "failed to commit payment", err)
	}

	s.logger.Info("payment processed", zap.Int64("orderId", orderID), zap.String("status", string(status)))
	return nil
}
