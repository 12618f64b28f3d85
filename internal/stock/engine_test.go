package stock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/orderflow/common/outbox"
	"github.com/kyungseok/orderflow/internal/lock"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locks := lock.NewManager(client, nil, "test-stock", time.Second)

	outboxRepo := outbox.NewRepository(db, "outbox_events")
	return NewEngine(db, locks, outboxRepo, nil, 30*time.Minute), mock
}

func TestGetStock_Found(t *testing.T) {
	e, mock := newTestEngine(t)

	rows := sqlmock.NewRows([]string{"on_hand", "reserved", "version"}).AddRow(100, 20, int64(3))
	mock.ExpectQuery("SELECT on_hand, reserved, version FROM stock WHERE product_id").
		WithArgs("sku-1").
		WillReturnRows(rows)

	s, err := e.GetStock(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, 100, s.OnHand)
	require.Equal(t, 20, s.Reserved)
	require.Equal(t, int64(3), s.Version)
	require.Equal(t, 80, s.Available())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStock_NotFound(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT on_hand, reserved, version FROM stock WHERE product_id").
		WithArgs("sku-missing").
		WillReturnRows(sqlmock.NewRows([]string{"on_hand", "reserved", "version"}))

	_, err := e.GetStock(context.Background(), "sku-missing")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeduct_CommitsReservationAndWritesMovement(t *testing.T) {
	e, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT product_id, order_id, quantity, status FROM stock_reservations").
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "order_id", "quantity", "status"}).
			AddRow("sku-1", int64(42), 3, "HELD"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE stock SET on_hand = on_hand").
		WithArgs(3, "sku-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE stock_reservations SET status = 'COMMITTED'").
		WithArgs("res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("stock_reservation", "res-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "PENDING", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs("sku-1", -3, "res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := e.Deduct(ctx, "res-1", "corr-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeduct_AlreadyResolvedIsNoop(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT product_id, order_id, quantity, status FROM stock_reservations").
		WithArgs("res-2").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "order_id", "quantity", "status"}).
			AddRow("sku-1", int64(42), 3, "COMMITTED"))

	err := e.Deduct(context.Background(), "res-2", "corr-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
