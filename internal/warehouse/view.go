package warehouse

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Map symbols by fill level.
const (
	SymbolEmpty = "□"
	SymbolLow   = "▲"
	SymbolHigh  = "■"
	SymbolFull  = "▓"
)

// Map renders the grid with a column header and one letter per row.
func (w *Warehouse) Map() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b strings.Builder
	b.WriteString("   ")
	for c := 0; c < w.cols; c++ {
		if c > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%2d", c+1)
	}
	b.WriteByte('\n')
	for r, row := range w.grid {
		b.WriteRune(rune('A' + r))
		b.WriteByte(' ')
		for _, loc := range row {
			b.WriteString(symbolFor(loc))
			b.WriteString("  ")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func symbolFor(loc *Location) string {
	switch {
	case loc.currentStock == 0:
		return SymbolEmpty
	case loc.currentStock < loc.capacity/2:
		return SymbolLow
	case loc.currentStock < loc.capacity:
		return SymbolHigh
	}
	return SymbolFull
}

// Stats summarises the warehouse.
type Stats struct {
	Products      int             `json:"products"`
	UnitsRecorded int             `json:"units_recorded"`
	UnitsPlaced   int             `json:"units_placed"`
	Capacity      int             `json:"capacity"`
	Utilization   float64         `json:"utilization"`
	Value         decimal.Decimal `json:"value"`
	Drifted       int             `json:"drifted"`
}

// Stats computes the current summary.
func (w *Warehouse) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Stats{Products: len(w.products), Capacity: w.rows * w.cols * w.capacity, Value: decimal.Zero}
	for _, p := range w.products {
		s.UnitsRecorded += p.Quantity
		s.Value = s.Value.Add(p.Value())
	}
	w.eachLocation(func(loc *Location) bool {
		s.UnitsPlaced += loc.currentStock
		return true
	})
	if s.Capacity > 0 {
		s.Utilization = float64(s.UnitsPlaced) / float64(s.Capacity)
	}
	s.Drifted = len(w.drifts())
	return s
}

const skuAttempts = 10

// GenerateSKU proposes an unused SKU: the alphanumerics among the first three
// characters of name, upper-cased (PRD when none), followed by four digits.
func (w *Warehouse) GenerateSKU(name string) (string, error) {
	prefix := skuPrefix(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < skuAttempts; i++ {
		sku := fmt.Sprintf("%s%04d", prefix, w.digits())
		if _, taken := w.products[sku]; !taken {
			return sku, nil
		}
	}
	return "", ErrSKUExhausted
}

func skuPrefix(name string) string {
	head := []rune(strings.ToUpper(strings.TrimSpace(name)))
	if len(head) > 3 {
		head = head[:3]
	}
	var b strings.Builder
	for _, r := range head {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "PRD"
	}
	return b.String()
}

func randomDigits() int {
	return rand.IntN(10000)
}
