package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockgrid/internal/storage/filestore"
	"github.com/odyssey-erp/stockgrid/internal/warehouse"
	_ "github.com/odyssey-erp/stockgrid/testing"
)

func newTestCLI(t *testing.T, store warehouse.Store) (*WarehouseCLI, *warehouse.Warehouse) {
	t.Helper()
	wh, err := warehouse.New(warehouse.Config{Rows: 5, Cols: 8, Capacity: 100}, store)
	require.NoError(t, err)
	return NewWarehouseCLI(wh), wh
}

func addProduct(t *testing.T, wh *warehouse.Warehouse, sku string, qty int) {
	t.Helper()
	p, err := warehouse.NewProduct("Item "+sku, sku, decimal.RequireFromString("2.50"), qty)
	require.NoError(t, err)
	_, err = wh.AddProduct(context.Background(), p)
	require.NoError(t, err)
}

func setQuantity(t *testing.T, wh *warehouse.Warehouse, sku string, qty int) {
	t.Helper()
	_, err := wh.UpdateProduct(context.Background(), sku, warehouse.ProductUpdate{Quantity: &qty})
	require.NoError(t, err)
}

func TestValidateCommandJSONSuccess(t *testing.T) {
	cli, wh := newTestCLI(t, nil)
	addProduct(t, wh, "W1", 120)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), Options{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, ExitOK, exitCode)
	require.Empty(t, stderr.String())

	var summary ValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Empty(t, summary.Drifts)
}

func TestValidateCommandReportsDrift(t *testing.T) {
	cli, wh := newTestCLI(t, nil)
	addProduct(t, wh, "W1", 120)
	addProduct(t, wh, "G2", 10)
	setQuantity(t, wh, "W1", 100)
	setQuantity(t, wh, "G2", 25)

	stdout := new(bytes.Buffer)
	exitCode := cli.ValidateCommand(context.Background(), Options{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitDrift, exitCode)

	var summary ValidateSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, []DriftSummary{
		{SKU: "G2", Name: "Item G2", Recorded: 25, Placed: 10, Shortfall: 15},
		{SKU: "W1", Name: "Item W1", Recorded: 100, Placed: 120, Excess: 20},
	}, summary.Drifts)

	stdout.Reset()
	require.Equal(t, ExitDrift, cli.ValidateCommand(context.Background(), Options{Stdout: stdout}))
	require.Contains(t, stdout.String(), "Item W1 (W1): recorded 100, placed 120, 20 units in excess")
	require.Contains(t, stdout.String(), "Item G2 (G2): recorded 25, placed 10, 15 units not placed")
}

func TestReconcileCommandStrategies(t *testing.T) {
	ctx := context.Background()
	cli, wh := newTestCLI(t, nil)
	addProduct(t, wh, "W1", 120)
	setQuantity(t, wh, "W1", 100)

	stderr := new(bytes.Buffer)
	require.Equal(t, ExitUsage, cli.ReconcileCommand(ctx, ReconcileOptions{Options: Options{Stdout: new(bytes.Buffer), Stderr: stderr}, Excess: "burn"}))
	require.Contains(t, stderr.String(), "unknown excess strategy")

	stdout := new(bytes.Buffer)
	require.Equal(t, ExitDrift, cli.ReconcileCommand(ctx, ReconcileOptions{Options: Options{Stdout: stdout}, Excess: "none"}))
	require.Contains(t, stdout.String(), "Skipped excess of 20 units for Item W1 (SKU: W1).")

	stdout.Reset()
	require.Equal(t, ExitOK, cli.ReconcileCommand(ctx, ReconcileOptions{Options: Options{Stdout: stdout}, Excess: "accept-catalog", SKU: "W1"}))
	require.Contains(t, stdout.String(), "Removed 20 units of Item W1 (SKU: W1) from Location A1.")
	require.Empty(t, wh.ValidateQuantities())

	stdout.Reset()
	require.Equal(t, ExitOK, cli.ReconcileCommand(ctx, ReconcileOptions{Options: Options{Stdout: stdout}}))
	require.Equal(t, "Nothing to reconcile.\n", stdout.String())

	require.Equal(t, ExitError, cli.ReconcileCommand(ctx, ReconcileOptions{Options: Options{Stdout: stdout, Stderr: stderr}, SKU: "NOPE"}))
}

func TestReconcileCommandAsksOperator(t *testing.T) {
	ctx := context.Background()
	cli, wh := newTestCLI(t, nil)
	addProduct(t, wh, "W1", 120)
	setQuantity(t, wh, "W1", 100)

	stdout := new(bytes.Buffer)
	exitCode := cli.ReconcileCommand(ctx, ReconcileOptions{
		Options: Options{Stdout: stdout, Stdin: strings.NewReader("w\n")},
		Excess:  "ask",
	})
	require.Equal(t, ExitOK, exitCode)
	require.Contains(t, stdout.String(), "Item W1 (W1) has 120 units on the shelves but 100 recorded.")
	product, err := wh.Product("W1")
	require.NoError(t, err)
	require.Equal(t, 120, product.Quantity)
}

func TestMapCommandGroupsThousands(t *testing.T) {
	cli, wh := newTestCLI(t, nil)
	addProduct(t, wh, "W1", 1500)

	stdout := new(bytes.Buffer)
	require.Equal(t, ExitOK, cli.MapCommand(context.Background(), Options{Stdout: stdout}))
	out := stdout.String()
	require.True(t, strings.HasPrefix(out, "    1  2  3"), out)
	require.Contains(t, out, "Units placed: 1,500 of 4,000 (37.5%)")
	require.Contains(t, out, "Inventory value: 3750.00")
}

func TestSettingsCommand(t *testing.T) {
	ctx := context.Background()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	require.Equal(t, ExitUsage, SettingsCommand(ctx, store, SettingsOptions{Options: Options{Stdout: stdout, Stderr: stderr}, Rows: 30}))
	require.Contains(t, stderr.String(), "number of rows must be between 1 and 26")

	require.Equal(t, ExitOK, SettingsCommand(ctx, store, SettingsOptions{Options: Options{Stdout: stdout}, Rows: 3, Cols: 12}))
	settings, err := store.LoadSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, warehouse.Settings{Rows: 3, Cols: 12}, settings)

	stdout.Reset()
	require.Equal(t, ExitOK, SettingsCommand(ctx, store, SettingsOptions{Options: Options{Stdout: stdout}}))
	require.Equal(t, "Rows: 3\nColumns: 12\n", stdout.String())
}

func TestREPLSession(t *testing.T) {
	ctx := context.Background()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	cli, wh := newTestCLI(t, store)

	script := strings.Join([]string{
		"1", "Widget", "W1", "9.99", "30",
		"2", "W1", "5", "B3",
		"3", "W1", "100", "A1",
		"4", "W1",
		"5",
		"42",
		"0",
	}, "\n") + "\n"
	stdout := new(bytes.Buffer)
	exitCode := cli.REPL(ctx, Options{Stdout: stdout, Stdin: strings.NewReader(script)})
	require.Equal(t, ExitOK, exitCode)

	out := stdout.String()
	require.Contains(t, out, "Product 'Widget' added successfully.")
	require.Contains(t, out, "30 units at A1")
	require.Contains(t, out, "Product stored successfully.")
	require.Contains(t, out, "Error: warehouse: insufficient quantity")
	require.Contains(t, out, "  B3: 5 units")
	require.Contains(t, out, "Units placed: 35 of 4,000")
	require.Contains(t, out, "Invalid choice. Please try again.")
	require.True(t, strings.HasSuffix(out, "Data saved. Exiting...\n"))

	product, err := wh.Product("W1")
	require.NoError(t, err)
	require.Equal(t, 35, product.Quantity)

	records, err := store.LoadLocations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestLogsCommand(t *testing.T) {
	ctx := context.Background()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	cli, wh := newTestCLI(t, store)

	stdout := new(bytes.Buffer)
	require.Equal(t, ExitOK, cli.LogsCommand(ctx, LogsOptions{Options: Options{Stdout: stdout}}))
	require.Equal(t, "No activity recorded.\n", stdout.String())

	addProduct(t, wh, "W1", 5)
	require.NoError(t, wh.StoreProduct(ctx, "W1", 5, 0, 1))

	stdout.Reset()
	require.Equal(t, ExitOK, cli.LogsCommand(ctx, LogsOptions{Options: Options{Stdout: stdout}, Limit: 1}))
	require.Contains(t, stdout.String(), "Stored SKU W1, qty 5 at A2")
	require.NotContains(t, stdout.String(), "Added product")
}
