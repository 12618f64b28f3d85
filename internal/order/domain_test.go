package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo_HappyPath(t *testing.T) {
	o := &Order{Status: StatusPending}
	assert.True(t, o.CanTransitionTo(StatusConfirmed))
	assert.False(t, o.CanTransitionTo(StatusPaid))
}

func TestCanTransitionTo_FullGraph(t *testing.T) {
	path := []Status{
		StatusPending, StatusConfirmed, StatusPaymentPending, StatusPaymentProcessing,
		StatusPaid, StatusPreparing, StatusShipped, StatusDelivered, StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		o := &Order{Status: path[i]}
		assert.True(t, o.CanTransitionTo(path[i+1]), "expected %s -> %s to be legal", path[i], path[i+1])
	}
}

func TestCanTransitionTo_TerminalRejectsEverything(t *testing.T) {
	o := &Order{Status: StatusCompleted}
	assert.False(t, o.CanTransitionTo(StatusCancelled))
	assert.False(t, o.CanTransitionTo(StatusRefunding))
}

func TestCanCancel_CustomerWithinWindow(t *testing.T) {
	o := &Order{Status: StatusPaid, CreatedAt: time.Now().Add(-1 * time.Hour)}
	assert.True(t, o.CanCancel(true, DefaultCancellationWindow, time.Now()))
}

func TestCanCancel_CustomerOutsideWindow(t *testing.T) {
	o := &Order{Status: StatusPaid, CreatedAt: time.Now().Add(-25 * time.Hour)}
	assert.False(t, o.CanCancel(true, DefaultCancellationWindow, time.Now()))
}

func TestCanCancel_SystemIgnoresWindow(t *testing.T) {
	o := &Order{Status: StatusPaid, CreatedAt: time.Now().Add(-25 * time.Hour)}
	assert.True(t, o.CanCancel(false, DefaultCancellationWindow, time.Now()))
}

func TestCanCancel_NotInCancellableSet(t *testing.T) {
	o := &Order{Status: StatusShipped, CreatedAt: time.Now()}
	assert.False(t, o.CanCancel(false, DefaultCancellationWindow, time.Now()))
}

func TestTotalAmount(t *testing.T) {
	o := &Order{Currency: "USD", Items: []Item{
		{ProductID: "sku-1", Quantity: 2, UnitPrice: 500},
		{ProductID: "sku-2", Quantity: 1, UnitPrice: 1000},
	}}
	assert.Equal(t, int64(2000), o.TotalAmount().Amount)
	assert.Equal(t, "USD", o.TotalAmount().Currency)
}
