package lib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	NewLogger(zap.NewNop())
	m.Run()
}

func TestRequestStoreClaim(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRequestStore(client, time.Minute)
	ctx := context.Background()

	mock.ExpectSetNX("booking:request:abc", "pending", time.Minute).SetVal(true)
	mock.ExpectSetNX("booking:request:abc", "pending", time.Minute).SetVal(false)

	ok, err := store.Claim(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same request must fail")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestStoreCompleteAndRelease(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRequestStore(client, time.Minute)
	ctx := context.Background()

	mock.ExpectSet("booking:request:abc", uint(42), time.Minute).SetVal("OK")
	mock.ExpectDel("booking:request:def").SetVal(1)
	mock.ExpectDel("booking:request:ghi").SetErr(errors.New("connection reset"))

	assert.NoError(t, store.Complete(ctx, "abc", 42))
	assert.NoError(t, store.Release(ctx, "def"))
	assert.Error(t, store.Release(ctx, "ghi"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(12050), ToMinorUnits(decimal.RequireFromString("120.50")))
	assert.Equal(t, int64(1), ToMinorUnits(decimal.RequireFromString("0.005")))
	assert.Equal(t, int64(0), ToMinorUnits(decimal.Zero))
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(&SendMailInput{
		From:     "school@example.com",
		FromName: "School",
		To:       []string{"client@example.com"},
		Subject:  "Booking cancelled",
		Body:     "body",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Booking cancelled"}, msg.GetGenHeader("Subject"))

	_, err = NewMessage(&SendMailInput{From: "not an address", To: []string{"client@example.com"}})
	assert.Error(t, err)
}
