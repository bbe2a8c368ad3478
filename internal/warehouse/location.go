package warehouse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxRows bounds the grid height so every row maps onto a single letter.
const MaxRows = 26

// MaxCols bounds the grid width.
const MaxCols = 99

// Location is one grid cell with a bounded, sparse SKU inventory.
// currentStock always equals the sum of inventory and never exceeds capacity.
type Location struct {
	row          int
	col          int
	capacity     int
	inventory    map[string]int
	currentStock int
}

// NewLocation builds an empty location.
func NewLocation(row, col, capacity int) *Location {
	return &Location{row: row, col: col, capacity: capacity, inventory: make(map[string]int)}
}

func (l *Location) Row() int          { return l.row }
func (l *Location) Col() int          { return l.col }
func (l *Location) Coord() Coord      { return Coord{Row: l.row, Col: l.col} }
func (l *Location) Capacity() int     { return l.capacity }
func (l *Location) CurrentStock() int { return l.currentStock }

// Quantity returns the units of sku held here; absence means zero.
func (l *Location) Quantity(sku string) int {
	return l.inventory[sku]
}

// Inventory returns a copy of the SKU to quantity mapping.
func (l *Location) Inventory() map[string]int {
	out := make(map[string]int, len(l.inventory))
	for sku, qty := range l.inventory {
		out[sku] = qty
	}
	return out
}

// SKUs returns the stored SKUs in ascending order.
func (l *Location) SKUs() []string {
	skus := make([]string, 0, len(l.inventory))
	for sku := range l.inventory {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}

// AvailableCapacity returns the units that still fit.
func (l *Location) AvailableCapacity() int {
	return l.capacity - l.currentStock
}

// AddProduct places quantity units of sku. Nothing changes on failure.
func (l *Location) AddProduct(sku string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if l.currentStock+quantity > l.capacity {
		return fmt.Errorf("%w: location %s has %d free, requested %d", ErrCapacityExceeded, l.Code(), l.AvailableCapacity(), quantity)
	}
	l.inventory[sku] += quantity
	l.currentStock += quantity
	return nil
}

// RemoveProduct takes quantity units of sku out. The entry disappears when it reaches zero.
func (l *Location) RemoveProduct(sku string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	have, ok := l.inventory[sku]
	if !ok || have < quantity {
		return fmt.Errorf("%w: location %s holds %d of %s, requested %d", ErrInsufficientStock, l.Code(), have, sku, quantity)
	}
	if have == quantity {
		delete(l.inventory, sku)
	} else {
		l.inventory[sku] = have - quantity
	}
	l.currentStock -= quantity
	return nil
}

// purge drops every unit of sku and returns how many were removed.
func (l *Location) purge(sku string) int {
	qty := l.inventory[sku]
	if qty == 0 {
		return 0
	}
	delete(l.inventory, sku)
	l.currentStock -= qty
	return qty
}

// Code returns the location code, e.g. "A1" for row 0, col 0.
func (l *Location) Code() string {
	return LocationCode(l.row, l.col)
}

func (l *Location) String() string {
	return fmt.Sprintf("Location %s - %d/%d items", l.Code(), l.currentStock, l.capacity)
}

// LocationCode formats a row letter followed by the 1-based column.
func LocationCode(row, col int) string {
	return string(rune('A'+row)) + strconv.Itoa(col+1)
}

// ParseLocationCode is the inverse of LocationCode. Bounds are not checked.
func ParseLocationCode(code string) (Coord, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < 2 || code[0] < 'A' || code[0] > 'Z' {
		return Coord{}, fmt.Errorf("%w: bad code %q", ErrInvalidLocation, code)
	}
	col, err := strconv.Atoi(code[1:])
	if err != nil || col < 1 {
		return Coord{}, fmt.Errorf("%w: bad code %q", ErrInvalidLocation, code)
	}
	return Coord{Row: int(code[0] - 'A'), Col: col - 1}, nil
}
