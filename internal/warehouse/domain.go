package warehouse

import (
	"errors"
	"time"
)

var (
	// ErrUnknownProduct indicates the SKU is not registered.
	ErrUnknownProduct = errors.New("warehouse: unknown product")
	// ErrDuplicateProduct indicates the SKU is already registered.
	ErrDuplicateProduct = errors.New("warehouse: product already exists")
	// ErrInvalidLocation indicates coordinates outside the grid.
	ErrInvalidLocation = errors.New("warehouse: invalid location")
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("warehouse: quantity must be positive")
	// ErrInvalidPrice indicates a negative price.
	ErrInvalidPrice = errors.New("warehouse: price must be >= 0")
	// ErrInvalidProduct indicates missing product attributes.
	ErrInvalidProduct = errors.New("warehouse: invalid product")
	// ErrCapacityExceeded indicates the location cannot hold the requested units.
	ErrCapacityExceeded = errors.New("warehouse: capacity exceeded")
	// ErrInsufficientStock indicates the location holds fewer units than requested.
	ErrInsufficientStock = errors.New("warehouse: insufficient quantity")
	// ErrNegativeQuantity indicates an update would drive a product total below zero.
	ErrNegativeQuantity = errors.New("warehouse: quantity cannot be negative")
	// ErrSKUExhausted indicates no free SKU could be generated.
	ErrSKUExhausted = errors.New("warehouse: could not generate a unique sku")
	// ErrNoState is returned by stores when nothing has been persisted yet.
	ErrNoState = errors.New("warehouse: no persisted state")
)

// Coord addresses a grid cell.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Code returns the human readable location code of the coordinate.
func (c Coord) Code() string {
	return LocationCode(c.Row, c.Col)
}

// Allocation is a quantity placed at (or requested for) a location.
type Allocation struct {
	Coord
	Quantity int `json:"quantity"`
}

// StockRecord is the persisted form of one location inventory entry.
type StockRecord struct {
	Row      int
	Col      int
	SKU      string
	Quantity int
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	At     time.Time
	User   string
	Action string
}

// PlacementPolicy decides what happens to the initial quantity of a new product.
type PlacementPolicy string

const (
	// PlacementAuto greedily distributes new stock across free capacity.
	PlacementAuto PlacementPolicy = "auto"
	// PlacementManual leaves new stock unplaced until AssignLocations is called.
	PlacementManual PlacementPolicy = "manual"
)

// Status is the consistency state of a product.
type Status string

const (
	StatusConsistent        Status = "consistent"
	StatusDrifted           Status = "drifted"
	StatusResolving         Status = "resolving"
	StatusPartiallyResolved Status = "partially_resolved"
)

// Strategy resolves an excess drift, where more units sit in locations than the catalog records.
type Strategy string

const (
	// StrategyAcceptPhysical raises the product quantity to the placed total.
	StrategyAcceptPhysical Strategy = "accept-physical"
	// StrategyAcceptCatalog removes the surplus units from locations in grid order.
	StrategyAcceptCatalog Strategy = "accept-catalog"
)

// ParseStrategy maps user input onto a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyAcceptPhysical, StrategyAcceptCatalog:
		return Strategy(s), true
	}
	return "", false
}

// Drift describes the disagreement between a product total and its placed units.
type Drift struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Recorded int    `json:"recorded"`
	Placed   int    `json:"placed"`
}

// Excess returns the number of placed units beyond the recorded total.
func (d Drift) Excess() int {
	if d.Placed > d.Recorded {
		return d.Placed - d.Recorded
	}
	return 0
}

// Shortfall returns the number of recorded units missing from locations.
func (d Drift) Shortfall() int {
	if d.Recorded > d.Placed {
		return d.Recorded - d.Placed
	}
	return 0
}

// Distribution reports the outcome of a greedy placement.
type Distribution struct {
	Placed    []Allocation `json:"placed"`
	Remaining int          `json:"remaining"`
}

// Total returns the number of units placed.
func (d Distribution) Total() int {
	total := 0
	for _, a := range d.Placed {
		total += a.Quantity
	}
	return total
}

// Category returns a stable identifier for expected failures.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, ErrDuplicateProduct):
		return "duplicate_product"
	case errors.Is(err, ErrInvalidLocation):
		return "invalid_location"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, ErrInvalidProduct):
		return "invalid_product"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_quantity"
	case errors.Is(err, ErrNegativeQuantity):
		return "negative_quantity"
	case errors.Is(err, ErrSKUExhausted):
		return "sku_exhausted"
	}
	return "internal"
}

// UserMessage renders err for operators. Expected failures keep their detail.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if Category(err) == "internal" {
		return "Unexpected error, please check the logs."
	}
	return err.Error()
}
