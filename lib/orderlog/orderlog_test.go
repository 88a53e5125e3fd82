package orderlog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setup(t testing.TB) Store {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestRecordAndListOrders(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	placedAt := time.Date(2026, time.August, 29, 10, 30, 0, 0, time.UTC)
	err := store.RecordOrder(ctx, Record{
		OrderID:   53784987,
		Portfolio: "Existing Folio",
		PlacedAt:  placedAt,
		Loans:     map[int]float64{100: 25, 200: 50},
	})
	require.NoError(t, err)

	err = store.RecordOrder(ctx, Record{
		OrderID:  53784988,
		PlacedAt: placedAt.Add(time.Hour),
		Loans:    map[int]float64{300: 25},
	})
	require.NoError(t, err)

	orders, err := store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	require.Equal(t, 53784987, orders[0].OrderID)
	require.Equal(t, "Existing Folio", orders[0].Portfolio)
	require.Equal(t, placedAt.Unix(), orders[0].PlacedAt.Unix())
	require.Equal(t, map[int]float64{100: 25, 200: 50}, orders[0].Loans)

	require.Equal(t, 53784988, orders[1].OrderID)
	require.Equal(t, map[int]float64{300: 25}, orders[1].Loans)
}

func TestRecordOrderDuplicate(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	rec := Record{
		OrderID:  1,
		PlacedAt: time.Now(),
		Loans:    map[int]float64{100: 25},
	}
	require.NoError(t, store.RecordOrder(ctx, rec))
	require.Error(t, store.RecordOrder(ctx, rec))

	// the failed insert must not leave partial rows behind
	orders, err := store.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, map[int]float64{100: 25}, orders[0].Loans)
}
