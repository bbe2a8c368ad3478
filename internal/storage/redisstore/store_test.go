package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test:"), mr
}

func TestProductsReplaceAtomically(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	first := []warehouse.Product{
		{SKU: "W1", Name: "Widget", Price: decimal.RequireFromString("9.99"), Quantity: 50},
		{SKU: "G2", Name: "Gadget", Price: decimal.RequireFromString("1.50"), Quantity: 3},
	}
	require.NoError(t, store.SaveProducts(ctx, first))
	require.True(t, mr.Exists("test:products"))

	require.NoError(t, store.SaveProducts(ctx, first[:1]))
	loaded, err := store.LoadProducts(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "W1", loaded[0].SKU)
	require.True(t, first[0].Price.Equal(loaded[0].Price))

	require.NoError(t, store.SaveProducts(ctx, nil))
	loaded, err = store.LoadProducts(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestLocationsNoStateUntilSaved(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	_, err := store.LoadLocations(ctx)
	require.ErrorIs(t, err, warehouse.ErrNoState)

	records := []warehouse.StockRecord{{Row: 0, Col: 0, SKU: "W1", Quantity: 100}, {Row: 2, Col: 5, SKU: "A:B", Quantity: 4}}
	require.NoError(t, store.SaveLocations(ctx, records))
	loaded, err := store.LoadLocations(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, records, loaded)

	require.NoError(t, store.SaveLocations(ctx, nil))
	loaded, err = store.LoadLocations(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestSettingsDefaults(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	settings, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, warehouse.DefaultSettings(), settings)

	require.NoError(t, mr.Set("test:settings", `{"warehouse_cols": 12}`))
	settings, err = store.LoadSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, warehouse.Settings{Rows: 5, Cols: 12, FirstRun: true}, settings)
}

func TestLogsKeepOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	at := time.Date(2024, 5, 2, 23, 18, 33, 0, time.UTC)

	require.NoError(t, store.AppendLog(ctx, warehouse.LogEntry{At: at, User: "admin", Action: "first"}))
	require.NoError(t, store.AppendLog(ctx, warehouse.LogEntry{At: at.Add(time.Second), User: "admin", Action: "second"}))

	entries, err := store.LoadLogs(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Action)
	require.True(t, at.Equal(entries[0].At))
}

func TestWarehouseRoundTripThroughRedis(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	cfg := warehouse.Config{Rows: 2, Cols: 2, Capacity: 100}
	w, err := warehouse.New(cfg, store)
	require.NoError(t, err)
	p, err := warehouse.NewProduct("Widget", "W1", decimal.RequireFromString("9.99"), 170)
	require.NoError(t, err)
	_, err = w.AddProduct(ctx, p)
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx, true))

	restored, err := warehouse.New(cfg, store)
	require.NoError(t, err)
	_, err = restored.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, w.FindProduct("W1"), restored.FindProduct("W1"))
	require.Equal(t, w.Stats().UnitsPlaced, restored.Stats().UnitsPlaced)
	require.Empty(t, restored.ValidateQuantities())
}
