package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of reconciling one product.
type Outcome struct {
	Drift      Drift    `json:"drift"`
	Strategy   Strategy `json:"strategy,omitempty"`
	Status     Status   `json:"status"`
	Unresolved int      `json:"unresolved"`
}

// Report describes a reconciliation run in machine and human readable form.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Lines      []string  `json:"lines"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Resolved reports whether every reconciled product ended consistent.
func (r Report) Resolved() bool {
	for _, o := range r.Outcomes {
		if o.Status != StatusConsistent {
			return false
		}
	}
	return true
}

func (r *Report) addLine(format string, args ...any) {
	r.Lines = append(r.Lines, fmt.Sprintf(format, args...))
}

// ValidateQuantities returns the SKUs whose placed total differs from the
// recorded product quantity, sorted. It does not mutate anything.
func (w *Warehouse) ValidateQuantities() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	drifts := w.drifts()
	out := make([]string, 0, len(drifts))
	for _, d := range drifts {
		out = append(out, d.SKU)
	}
	return out
}

// Drifts returns the full detail of every mismatch, sorted by SKU.
func (w *Warehouse) Drifts() []Drift {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drifts()
}

// Status returns the consistency state of sku.
func (w *Warehouse) Status(sku string) (Status, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.products[sku]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	if w.placedTotal(sku) != p.Quantity {
		return StatusDrifted, nil
	}
	return StatusConsistent, nil
}

func (w *Warehouse) drifts() []Drift {
	placed := make(map[string]int, len(w.products))
	w.eachLocation(func(loc *Location) bool {
		for sku, qty := range loc.inventory {
			placed[sku] += qty
		}
		return true
	})
	var out []Drift
	for sku, p := range w.products {
		if placed[sku] != p.Quantity {
			out = append(out, Drift{SKU: sku, Name: p.Name, Recorded: p.Quantity, Placed: placed[sku]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// Reconcile walks every drifted product. Shortfalls are filled from free
// capacity in grid order; excesses are resolved with the strategy chosen by
// resolver, or left alone when resolver is nil or declines. The resolver is
// called with the warehouse locked and must not call back into it.
func (w *Warehouse) Reconcile(ctx context.Context, resolver ExcessResolver) Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	report := w.newReport()
	drifts := w.drifts()
	for _, d := range drifts {
		report.Outcomes = append(report.Outcomes, w.reconcile(ctx, &report, d, resolver))
	}
	w.finishReport(ctx, &report, len(drifts))
	return report
}

// ReconcileProduct reconciles a single SKU.
func (w *Warehouse) ReconcileProduct(ctx context.Context, sku string, resolver ExcessResolver) (Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.products[sku]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	report := w.newReport()
	d := Drift{SKU: sku, Name: p.Name, Recorded: p.Quantity, Placed: w.placedTotal(sku)}
	if d.Recorded == d.Placed {
		report.Outcomes = append(report.Outcomes, Outcome{Drift: d, Status: StatusConsistent})
		report.FinishedAt = w.now()
		return report, nil
	}
	report.Outcomes = append(report.Outcomes, w.reconcile(ctx, &report, d, resolver))
	w.finishReport(ctx, &report, 1)
	return report, nil
}

// ResolveExcess applies strategy to the excess of sku.
func (w *Warehouse) ResolveExcess(ctx context.Context, sku string, strategy Strategy) (Report, error) {
	if _, ok := ParseStrategy(string(strategy)); !ok {
		return Report{}, fmt.Errorf("warehouse: unknown strategy %q", strategy)
	}
	return w.ReconcileProduct(ctx, sku, FixedStrategy(strategy))
}

// FillShortfall places the missing units of sku into free capacity.
func (w *Warehouse) FillShortfall(ctx context.Context, sku string) (Report, error) {
	return w.ReconcileProduct(ctx, sku, nil)
}

func (w *Warehouse) newReport() Report {
	return Report{RunID: uuid.New(), StartedAt: w.now(), Lines: []string{}, Outcomes: []Outcome{}}
}

func (w *Warehouse) finishReport(ctx context.Context, report *Report, drifted int) {
	report.FinishedAt = w.now()
	if drifted == 0 {
		return
	}
	w.rebuildIndex()
	w.persist(ctx, false)
	w.record(ctx, fmt.Sprintf("Reconciled %d products (run %s)", drifted, report.RunID))
}

func (w *Warehouse) reconcile(ctx context.Context, report *Report, d Drift, resolver ExcessResolver) Outcome {
	p := w.products[d.SKU]
	out := Outcome{Drift: d, Status: StatusResolving}
	logger := w.logger.With(slog.String("sku", d.SKU), slog.String("run_id", report.RunID.String()))

	switch {
	case d.Excess() > 0:
		excess := d.Excess()
		var strategy Strategy
		var chosen bool
		if resolver != nil {
			strategy, chosen = resolver.ResolveExcess(ctx, d)
		}
		switch {
		case chosen && strategy == StrategyAcceptPhysical:
			_ = p.UpdateQuantity(excess)
			report.addLine("Updated product quantity for %s (SKU: %s) to match the warehouse: %d.", p.Name, p.SKU, p.Quantity)
		case chosen && strategy == StrategyAcceptCatalog:
			out.Unresolved = w.removeExcess(report, p, excess)
		default:
			report.addLine("Skipped excess of %d units for %s (SKU: %s).", excess, p.Name, p.SKU)
			out.Status = StatusDrifted
			out.Unresolved = excess
			logger.Info("excess left unresolved", slog.Int("excess", excess))
			return out
		}
		out.Strategy = strategy
	case d.Shortfall() > 0:
		dist := w.distribute(p.SKU, d.Shortfall())
		for _, a := range dist.Placed {
			report.addLine("Moved %d units of %s (SKU: %s) to Location %s due to available space.", a.Quantity, p.Name, p.SKU, a.Code())
		}
		if dist.Remaining > 0 {
			report.addLine("Unable to fully distribute %d units of %s (SKU: %s) due to insufficient space.", dist.Remaining, p.Name, p.SKU)
		}
		out.Unresolved = dist.Remaining
	}

	if out.Unresolved > 0 {
		out.Status = StatusPartiallyResolved
		logger.Warn("drift partially resolved", slog.Int("unresolved", out.Unresolved))
	} else {
		out.Status = StatusConsistent
		logger.Info("drift resolved", slog.String("strategy", string(out.Strategy)))
	}
	return out
}

// removeExcess takes surplus units out of locations in grid order and
// returns what could not be removed.
func (w *Warehouse) removeExcess(report *Report, p *Product, excess int) int {
	remaining := excess
	w.eachLocation(func(loc *Location) bool {
		if remaining <= 0 {
			return false
		}
		held := loc.Quantity(p.SKU)
		if held == 0 {
			return true
		}
		take := min(held, remaining)
		if err := loc.RemoveProduct(p.SKU, take); err != nil {
			return true
		}
		remaining -= take
		report.addLine("Removed %d units of %s (SKU: %s) from Location %s.", take, p.Name, p.SKU, loc.Code())
		return true
	})
	return remaining
}
