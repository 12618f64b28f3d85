package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// Repository is the order persistence contract, generalized from the
// teacher's OrderRepository (items/reservations/currency added; Create
// takes a customer-id + item-set hash for duplicate detection instead of a
// caller-supplied idempotency key, per spec §4.4).
type Repository interface {
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindRecentByDuplicateHash(ctx context.Context, hash string, window string) (*Order, error)
	UpdateStatusWithVersion(ctx context.Context, id int64, status Status, reason string, currentVersion int64) (bool, error)
	UpdateStatusWithVersionTx(ctx context.Context, tx *sql.Tx, id int64, status Status, reason string, currentVersion int64) (bool, error)
	SetReservations(ctx context.Context, id int64, reservations map[string]string, currentVersion int64) (bool, error)
}

type repository struct {
	db *sql.DB
}

// NewRepository builds the order repository.
func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, order *Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `
		INSERT INTO orders (customer_id, items, currency, status, duplicate_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, version
	`
	err = r.db.QueryRowContext(ctx, query,
		order.CustomerID, itemsJSON, order.Currency, order.Status, order.DuplicateHash, order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID, &order.Version)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate order: %w", err)
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id int64) (*Order, error) {
	query := `
		SELECT id, customer_id, items, currency, status, reservations, cancelled_reason, duplicate_hash, version, created_at, updated_at
		FROM orders WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindRecentByDuplicateHash looks up an order created within window whose
// (customerId, sorted item set) hash matches — the C4 duplicate-order guard
// (spec §4.4), independent of the event-dedup idempotency store.
func (r *repository) FindRecentByDuplicateHash(ctx context.Context, hash string, window string) (*Order, error) {
	query := fmt.Sprintf(`
		SELECT id, customer_id, items, currency, status, reservations, cancelled_reason, duplicate_hash, version, created_at, updated_at
		FROM orders
		WHERE duplicate_hash = $1 AND created_at > NOW() - INTERVAL '%s'
		ORDER BY created_at DESC LIMIT 1
	`, window)
	return r.scanOne(r.db.QueryRowContext(ctx, query, hash))
}

func (r *repository) scanOne(row *sql.Row) (*Order, error) {
	o := &Order{}
	var itemsJSON, reservationsJSON []byte
	var cancelledReason sql.NullString

	err := row.Scan(&o.ID, &o.CustomerID, &itemsJSON, &o.Currency, &o.Status,
		&reservationsJSON, &cancelledReason, &o.DuplicateHash, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}
	o.Reservations = map[string]string{}
	if len(reservationsJSON) > 0 {
		if err := json.Unmarshal(reservationsJSON, &o.Reservations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reservations: %w", err)
		}
	}
	o.CancelledReason = cancelledReason.String

	return o, nil
}

func (r *repository) UpdateStatusWithVersion(ctx context.Context, id int64, status Status, reason string, currentVersion int64) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, cancelled_reason = NULLIF($2, ''), version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, reason, id, currentVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatusWithVersionTx is UpdateStatusWithVersion's tx-scoped twin, used
// when the status change must commit atomically with an outbox insert (spec
// §9's transactional-outbox pattern) — cancellation's OrderCanceled event,
// in particular.
func (r *repository) UpdateStatusWithVersionTx(ctx context.Context, tx *sql.Tx, id int64, status Status, reason string, currentVersion int64) (bool, error) {
	query := `
		UPDATE orders
		SET status = $1, cancelled_reason = NULLIF($2, ''), version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
	`
	result, err := tx.ExecContext(ctx, query, status, reason, id, currentVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *repository) SetReservations(ctx context.Context, id int64, reservations map[string]string, currentVersion int64) (bool, error) {
	payload, err := json.Marshal(reservations)
	if err != nil {
		return false, fmt.Errorf("failed to marshal reservations: %w", err)
	}

	query := `
		UPDATE orders SET reservations = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	result, err := r.db.ExecContext(ctx, query, payload, id, currentVersion)
	if err != nil {
		return false, fmt.Errorf("failed to set reservations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
