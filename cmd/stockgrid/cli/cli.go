package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

// Exit codes shared by every command.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
	// ExitDrift signals that recorded and placed quantities disagree.
	ExitDrift = 10
)

// Options carries the streams and output mode of a command.
type Options struct {
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
	JSONOutput bool
}

func (o *Options) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
}

// WarehouseCLI runs operator commands against a loaded warehouse.
type WarehouseCLI struct {
	wh      *warehouse.Warehouse
	printer *message.Printer
}

// NewWarehouseCLI constructs the command set.
func NewWarehouseCLI(wh *warehouse.Warehouse) *WarehouseCLI {
	return &WarehouseCLI{wh: wh, printer: message.NewPrinter(language.English)}
}

// ConsoleNotifier prints warehouse notices to w.
func ConsoleNotifier(w io.Writer) warehouse.Notifier {
	return warehouse.NotifierFunc(func(_ context.Context, level warehouse.NoticeLevel, msg string) {
		switch level {
		case warehouse.NoticeWarning:
			_, _ = fmt.Fprintf(w, "Warning: %s\n", msg)
		case warehouse.NoticeFailure:
			_, _ = fmt.Fprintf(w, "Error: %s\n", msg)
		default:
			_, _ = fmt.Fprintln(w, msg)
		}
	})
}

// MapCommand prints the grid map followed by a short summary.
func (c *WarehouseCLI) MapCommand(_ context.Context, opts Options) int {
	opts.defaults()
	_, _ = fmt.Fprint(opts.Stdout, c.wh.Map())
	_, _ = fmt.Fprintf(opts.Stdout, "Legend: %s empty  %s below half  %s below full  %s full\n",
		warehouse.SymbolEmpty, warehouse.SymbolLow, warehouse.SymbolHigh, warehouse.SymbolFull)
	c.renderStats(opts.Stdout, c.wh.Stats())
	return ExitOK
}

func (c *WarehouseCLI) renderStats(w io.Writer, s warehouse.Stats) {
	_, _ = c.printer.Fprintf(w, "Products: %d\n", s.Products)
	_, _ = c.printer.Fprintf(w, "Units placed: %d of %d (%.1f%%)\n", s.UnitsPlaced, s.Capacity, s.Utilization*100)
	_, _ = c.printer.Fprintf(w, "Units recorded: %d\n", s.UnitsRecorded)
	_, _ = fmt.Fprintf(w, "Inventory value: %s\n", s.Value.StringFixed(2))
	if s.Drifted > 0 {
		_, _ = c.printer.Fprintf(w, "Products out of sync: %d\n", s.Drifted)
	}
}

// LogsOptions configures the logs command.
type LogsOptions struct {
	Options
	// Limit keeps only the newest entries; zero shows everything.
	Limit int
}

// LogsCommand prints the activity log.
func (c *WarehouseCLI) LogsCommand(ctx context.Context, opts LogsOptions) int {
	opts.defaults()
	entries, err := c.wh.Logs(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "logs: %v\n", err)
		return ExitError
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "No activity recorded.")
		return ExitOK
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(opts.Stdout, "%s  %-12s %s\n", e.At.Format("2006-01-02 15:04:05"), e.User, e.Action)
	}
	return ExitOK
}

// SettingsOptions configures the settings command.
type SettingsOptions struct {
	Options
	Rows int
	Cols int
}

// SettingsCommand shows or updates the persisted grid dimensions. Changes
// apply on the next start.
func SettingsCommand(ctx context.Context, store warehouse.Store, opts SettingsOptions) int {
	opts.defaults()
	settings, err := store.LoadSettings(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "settings: %v\n", err)
		return ExitError
	}
	if opts.Rows == 0 && opts.Cols == 0 {
		_, _ = fmt.Fprintf(opts.Stdout, "Rows: %d\nColumns: %d\n", settings.Rows, settings.Cols)
		return ExitOK
	}
	if opts.Rows != 0 {
		settings.Rows = opts.Rows
	}
	if opts.Cols != 0 {
		settings.Cols = opts.Cols
	}
	if err := settings.Validate(); err != nil {
		_, _ = fmt.Fprintln(opts.Stderr, err)
		return ExitUsage
	}
	settings.FirstRun = false
	if err := store.SaveSettings(ctx, settings); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "settings: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintf(opts.Stdout, "Settings saved (%d rows x %d columns). Restart to apply the new grid size.\n", settings.Rows, settings.Cols)
	return ExitOK
}
