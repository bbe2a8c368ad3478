package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/odyssey-erp/stockgrid/internal/warehouse"
)

// ValidateSummary describes the JSON response for validate.
type ValidateSummary struct {
	OK     bool           `json:"ok"`
	Drifts []DriftSummary `json:"drifts"`
}

// DriftSummary reports one product out of sync.
type DriftSummary struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Recorded  int    `json:"recorded"`
	Placed    int    `json:"placed"`
	Excess    int    `json:"excess"`
	Shortfall int    `json:"shortfall"`
}

// ValidateCommand reports drifted products without changing anything.
func (c *WarehouseCLI) ValidateCommand(_ context.Context, opts Options) int {
	opts.defaults()
	drifts := c.wh.Drifts()
	if opts.JSONOutput {
		summary := ValidateSummary{OK: len(drifts) == 0, Drifts: make([]DriftSummary, 0, len(drifts))}
		for _, d := range drifts {
			summary.Drifts = append(summary.Drifts, DriftSummary{
				SKU:       d.SKU,
				Name:      d.Name,
				Recorded:  d.Recorded,
				Placed:    d.Placed,
				Excess:    d.Excess(),
				Shortfall: d.Shortfall(),
			})
		}
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "validate: encode json: %v\n", err)
			return ExitError
		}
	} else {
		c.renderDrifts(opts.Stdout, drifts)
	}
	if len(drifts) > 0 {
		return ExitDrift
	}
	return ExitOK
}

func (c *WarehouseCLI) renderDrifts(w io.Writer, drifts []warehouse.Drift) {
	if len(drifts) == 0 {
		_, _ = fmt.Fprintln(w, "All product quantities match the warehouse.")
		return
	}
	_, _ = fmt.Fprintln(w, "Products out of sync:")
	for _, d := range drifts {
		switch {
		case d.Excess() > 0:
			_, _ = c.printer.Fprintf(w, "  %s (%s): recorded %d, placed %d, %d units in excess\n", d.Name, d.SKU, d.Recorded, d.Placed, d.Excess())
		default:
			_, _ = c.printer.Fprintf(w, "  %s (%s): recorded %d, placed %d, %d units not placed\n", d.Name, d.SKU, d.Recorded, d.Placed, d.Shortfall())
		}
	}
}

// ReconcileOptions configures the reconcile command.
type ReconcileOptions struct {
	Options
	// Excess is accept-physical, accept-catalog, ask or none.
	Excess string
	// SKU limits the run to one product.
	SKU string
}

// ReconcileCommand fixes drift. Shortfalls are filled from free capacity;
// excess follows opts.Excess. It returns ExitDrift when anything is left
// unresolved.
func (c *WarehouseCLI) ReconcileCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.defaults()
	resolver, err := c.resolverFor(opts.Excess, opts.Stdin, opts.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitUsage
	}

	var report warehouse.Report
	if opts.SKU != "" {
		report, err = c.wh.ReconcileProduct(ctx, opts.SKU, resolver)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %s\n", warehouse.UserMessage(err))
			return ExitError
		}
	} else {
		report = c.wh.Reconcile(ctx, resolver)
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(report); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return ExitError
		}
	} else {
		renderReport(opts.Stdout, report)
	}
	if !report.Resolved() {
		return ExitDrift
	}
	return ExitOK
}

func renderReport(w io.Writer, report warehouse.Report) {
	if len(report.Outcomes) == 0 {
		_, _ = fmt.Fprintln(w, "Nothing to reconcile.")
		return
	}
	for _, line := range report.Lines {
		_, _ = fmt.Fprintln(w, line)
	}
	for _, o := range report.Outcomes {
		if o.Status != warehouse.StatusConsistent {
			_, _ = fmt.Fprintf(w, "%s is still %s (%d units unresolved).\n", o.Drift.SKU, strings.ReplaceAll(string(o.Status), "_", " "), o.Unresolved)
		}
	}
}

func (c *WarehouseCLI) resolverFor(excess string, in io.Reader, out io.Writer) (warehouse.ExcessResolver, error) {
	switch excess {
	case "", "none":
		return nil, nil
	case "ask":
		return promptResolver(bufio.NewScanner(in), out), nil
	}
	strategy, ok := warehouse.ParseStrategy(excess)
	if !ok {
		return nil, fmt.Errorf("unknown excess strategy %q (want accept-physical, accept-catalog, ask or none)", excess)
	}
	return warehouse.FixedStrategy(strategy), nil
}

// promptResolver asks the operator which side of an excess drift is right.
// It must not call back into the warehouse.
func promptResolver(in *bufio.Scanner, out io.Writer) warehouse.ExcessResolver {
	return warehouse.ResolverFunc(func(_ context.Context, d warehouse.Drift) (warehouse.Strategy, bool) {
		_, _ = fmt.Fprintf(out, "%s (%s) has %d units on the shelves but %d recorded.\n", d.Name, d.SKU, d.Placed, d.Recorded)
		_, _ = fmt.Fprint(out, "Keep [w]arehouse count, keep [p]roduct count, or [s]kip? ")
		if !in.Scan() {
			return "", false
		}
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "w", "warehouse":
			return warehouse.StrategyAcceptPhysical, true
		case "p", "product":
			return warehouse.StrategyAcceptCatalog, true
		}
		return "", false
	})
}
