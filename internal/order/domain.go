// Package order implements the C4 Order Saga Driver: the full order status
// graph, compensation-aware cancellation, duplicate-order detection, and the
// outbox/event dispatch wiring. Grounded on the teacher's
// services/order/internal/{domain,repository,service,handler,worker}
// (status enum + CanTransitionTo map, UpdateStatusWithVersion optimistic
// update, outbox worker), generalized to the full status graph spec §4.4
// requires — the teacher's four-state graph is a strict subset of the one
// below.
package order

import (
	"time"

	"github.com/kyungseok/orderflow/common/money"
)

// Status is one node of the order lifecycle graph.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusConfirmed          Status = "CONFIRMED"
	StatusPaymentPending     Status = "PAYMENT_PENDING"
	StatusPaymentProcessing  Status = "PAYMENT_PROCESSING"
	StatusPaid               Status = "PAID"
	StatusPreparing          Status = "PREPARING"
	StatusShipped            Status = "SHIPPED"
	StatusDelivered          Status = "DELIVERED"
	StatusCompleted          Status = "COMPLETED"
	StatusCancelled          Status = "CANCELLED"
	StatusRefunding          Status = "REFUNDING"
	StatusRefunded           Status = "REFUNDED"
	StatusFailed             Status = "FAILED"
)

// cancellableStates is the set cancelOrder may be called from, per spec §4.4.
var cancellableStates = map[Status]bool{
	StatusPending:           true,
	StatusConfirmed:         true,
	StatusPaymentProcessing: true,
	StatusPaid:              true,
	StatusPreparing:         true,
}

// transitions is the full status graph from spec §4.4. Post-SHIPPED
// transitions (SHIPPED→DELIVERED→COMPLETED) are operator/admin-driven, per
// the resolved Open Question (b): same illegal-transition guard as every
// other edge, just no automatic event that triggers them.
var transitions = map[Status][]Status{
	StatusPending:           {StatusConfirmed, StatusCancelled},
	StatusConfirmed:         {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending:    {StatusPaymentProcessing, StatusCancelled},
	StatusPaymentProcessing: {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:              {StatusPreparing, StatusCancelled, StatusRefunding},
	StatusPreparing:         {StatusShipped, StatusCancelled, StatusRefunding},
	StatusShipped:           {StatusDelivered, StatusRefunding},
	StatusDelivered:         {StatusCompleted, StatusRefunding},
	StatusRefunding:         {StatusRefunded},
}

// Item is one immutable line of an order once it leaves PENDING (spec §3
// invariant).
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64 // minor units, same currency as Order.Currency
}

// Order is the C4 aggregate. Reservations holds only ids across the wire
// (spec §9): productID → reservationID.
type Order struct {
	ID              int64
	CustomerID      int64
	Items           []Item
	Currency        string
	Status          Status
	Reservations    map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledReason string
	Version         int64
	// DuplicateHash is the sha256 of (customerId, sorted item set) used by
	// FindRecentByDuplicateHash to detect a resubmission within the
	// duplicate-order window (spec §4.4). Not exposed on the wire.
	DuplicateHash string
}

// TotalAmount sums item subtotals as a Money value in the order's own
// currency; monotonic with Items per spec §3.
func (o *Order) TotalAmount() money.Money {
	total := money.New(0, o.Currency)
	for _, it := range o.Items {
		subtotal := money.New(it.UnitPrice, o.Currency).MulQty(it.Quantity)
		total, _ = total.Add(subtotal) // same currency by construction, never errors
	}
	return total
}

// CanTransitionTo reports whether newStatus is a legal next state from the
// order's current status.
func (o *Order) CanTransitionTo(newStatus Status) bool {
	allowed, ok := transitions[o.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == newStatus {
			return true
		}
	}
	return false
}

// CanCancel reports whether cancelOrder is legal right now. customerInit
// additionally enforces the 24h cancellation window (spec §4.4); a
// system-initiated cancel ignores it.
func (o *Order) CanCancel(customerInit bool, window time.Duration, now time.Time) bool {
	if !cancellableStates[o.Status] {
		return false
	}
	if customerInit && now.Sub(o.CreatedAt) > window {
		return false
	}
	return true
}

// DefaultCancellationWindow is spec §4.4's 24h default.
const DefaultCancellationWindow = 24 * time.Hour
