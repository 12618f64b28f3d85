// Package outbox implements the transactional-outbox half of the pattern
// described in spec section 9: every domain mutation writes its resulting
// DomainEvent into the same SQL transaction as the state change, and a
// separate relay (Worker, below) publishes pending rows to the bus and
// marks them sent. This is the generalized form of the teacher's
// payment/order outbox_repository.go and inventory_service.go inline
// inserts, shared across every service instead of copy-pasted per service.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyungseok/orderflow/common/messaging"
	"go.uber.org/zap"
)

// Event is a row in the outbox table.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	Status        string
	CreatedAt     time.Time
	SentAt        *time.Time
}

// Repository is the outbox persistence contract.
type Repository interface {
	InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error
	FindPending(ctx context.Context, limit int) ([]*Event, error)
	MarkSent(ctx context.Context, id int64) error
}

type repository struct {
	db    *sql.DB
	table string
}

// NewRepository creates an outbox repository backed by the given table
// (each service owns its own outbox_events table per spec section 6).
func NewRepository(db *sql.DB, table string) Repository {
	if table == "" {
		table = "outbox_events"
	}
	return &repository{db: db, table: table}
}

func (r *repository) InsertTx(ctx context.Context, tx *sql.Tx, event *Event) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.table)

	err := tx.QueryRowContext(ctx, query,
		event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.Status, event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

func (r *repository) FindPending(ctx context.Context, limit int) ([]*Event, error) {
	query := fmt.Sprintf(`
		SELECT id, aggregate_type, aggregate_id, event_type, payload, status, created_at
		FROM %s
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`, r.table)

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *repository) MarkSent(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET status = 'SENT', sent_at = NOW() WHERE id = $1`, r.table)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// Worker is the relay: it polls Repository on an interval and publishes
// every pending row to the topic named by its event type, using the event's
// own aggregate id as the partition key. Order is kept only among events of
// one topic with the same aggregate id; stock release and deduct events are
// keyed by reservation id, so events of one product are not kept in order.
type Worker struct {
	repo      Repository
	publisher messaging.Publisher
	logger    *zap.Logger
	interval  time.Duration
}

// NewWorker creates an outbox relay.
func NewWorker(repo Repository, publisher messaging.Publisher, logger *zap.Logger, interval time.Duration) *Worker {
	return &Worker{repo: repo, publisher: publisher, logger: logger, interval: interval}
}

// Start runs the relay loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if err := w.process(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

func (w *Worker) process(ctx context.Context) error {
	events, err := w.repo.FindPending(ctx, 100)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	w.logger.Info("processing outbox events", zap.Int("count", len(events)))

	for _, event := range events {
		if err := w.publisher.Publish(ctx, event.EventType, event.AggregateID, json.RawMessage(event.Payload)); err != nil {
			w.logger.Error("failed to publish event",
				zap.Int64("eventId", event.ID),
				zap.String("eventType", event.EventType),
				zap.Error(err))
			continue
		}
		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("eventId", event.ID),
				zap.Error(err))
		}
	}
	return nil
}
