package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config describes the grid and the policies of a Warehouse.
type Config struct {
	Rows          int
	Cols          int
	Capacity      int
	Placement     PlacementPolicy
	SaveThreshold int
	DefaultUser   string
}

// Option customises a Warehouse.
type Option func(*Warehouse)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Warehouse) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithNotifier sets the presentation notifier.
func WithNotifier(n Notifier) Option {
	return func(w *Warehouse) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Warehouse) {
		if now != nil {
			w.now = now
		}
	}
}

// Warehouse owns the location grid, the product catalog and the SKU to
// location index. The grid is the source of truth; the index is a cache.
// All methods are safe for concurrent use and run one at a time.
type Warehouse struct {
	mu sync.Mutex

	rows      int
	cols      int
	capacity  int
	placement PlacementPolicy

	grid     [][]*Location
	products map[string]*Product
	index    map[string][]Coord

	store    Store
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
	digits   func() int

	user          string
	saveThreshold int
	changes       int
	lastSaveErr   error
}

// New builds an empty warehouse. A nil store keeps everything in memory.
func New(cfg Config, store Store, opts ...Option) (*Warehouse, error) {
	if cfg.Rows < 1 || cfg.Rows > MaxRows {
		return nil, fmt.Errorf("warehouse: rows must be between 1 and %d", MaxRows)
	}
	if cfg.Cols < 1 || cfg.Cols > MaxCols {
		return nil, fmt.Errorf("warehouse: columns must be between 1 and %d", MaxCols)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.Placement == "" {
		cfg.Placement = PlacementAuto
	}
	if cfg.Placement != PlacementAuto && cfg.Placement != PlacementManual {
		return nil, fmt.Errorf("warehouse: unknown placement policy %q", cfg.Placement)
	}
	if cfg.SaveThreshold <= 0 {
		cfg.SaveThreshold = 5
	}
	if cfg.DefaultUser == "" {
		cfg.DefaultUser = "operator"
	}
	w := &Warehouse{
		rows:          cfg.Rows,
		cols:          cfg.Cols,
		capacity:      cfg.Capacity,
		placement:     cfg.Placement,
		store:         store,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		notifier:      NotifierFunc(func(context.Context, NoticeLevel, string) {}),
		now:           time.Now,
		digits:        randomDigits,
		user:          cfg.DefaultUser,
		saveThreshold: cfg.SaveThreshold,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.resetState()
	return w, nil
}

func (w *Warehouse) resetState() {
	w.grid = make([][]*Location, w.rows)
	for r := range w.grid {
		w.grid[r] = make([]*Location, w.cols)
		for c := range w.grid[r] {
			w.grid[r][c] = NewLocation(r, c, w.capacity)
		}
	}
	w.products = make(map[string]*Product)
	w.index = make(map[string][]Coord)
}

func (w *Warehouse) Rows() int                  { return w.rows }
func (w *Warehouse) Cols() int                  { return w.cols }
func (w *Warehouse) Placement() PlacementPolicy { return w.placement }

// Load replaces in-memory state with the persisted one. Location rows that
// reference unknown SKUs, fall outside the grid or do not fit are skipped.
// It reports whether any product was loaded.
func (w *Warehouse) Load(ctx context.Context) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store == nil {
		return false, nil
	}
	products, err := w.store.LoadProducts(ctx)
	if err != nil {
		return false, fmt.Errorf("warehouse: load products: %w", err)
	}
	records, err := w.store.LoadLocations(ctx)
	if err != nil && !errors.Is(err, ErrNoState) {
		return false, fmt.Errorf("warehouse: load locations: %w", err)
	}

	w.resetState()
	for _, p := range products {
		p := p
		w.products[p.SKU] = &p
	}
	skipped := 0
	for _, rec := range records {
		if !w.inBounds(rec.Row, rec.Col) || rec.Quantity <= 0 {
			skipped++
			continue
		}
		if _, ok := w.products[rec.SKU]; !ok {
			skipped++
			continue
		}
		if err := w.grid[rec.Row][rec.Col].AddProduct(rec.SKU, rec.Quantity); err != nil {
			skipped++
		}
	}
	w.rebuildIndex()
	w.changes = 0
	w.logger.Info("warehouse loaded", slog.Int("products", len(w.products)), slog.Int("locations", len(records)), slog.Int("skipped", skipped))
	return len(w.products) > 0, nil
}

// Save writes products and locations when forced or when enough catalog
// changes have accumulated. It returns the store error, which is also kept
// in LastSaveError.
func (w *Warehouse) Save(ctx context.Context, force bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !force && w.changes < w.saveThreshold {
		return nil
	}
	w.persist(ctx, force)
	return w.lastSaveErr
}

// LastSaveError returns the error of the most recent save, nil when it succeeded.
func (w *Warehouse) LastSaveError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSaveErr
}

// AddProduct registers a product. Under PlacementAuto its initial quantity is
// spread over free capacity; units that do not fit stay recorded on the
// product and are reported in Distribution.Remaining.
func (w *Warehouse) AddProduct(ctx context.Context, p Product) (Distribution, error) {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	if err := p.validate(); err != nil {
		return Distribution{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.products[p.SKU]; exists {
		return Distribution{}, fmt.Errorf("%w: %s", ErrDuplicateProduct, p.SKU)
	}
	product := p
	w.products[p.SKU] = &product
	w.index[p.SKU] = []Coord{}

	var dist Distribution
	if w.placement == PlacementAuto && p.Quantity > 0 {
		dist = w.distribute(p.SKU, p.Quantity)
		if dist.Remaining > 0 {
			w.logger.Warn("not enough space for initial quantity", slog.String("sku", p.SKU), slog.Int("remaining", dist.Remaining))
			w.notifier.Notify(ctx, NoticeWarning, fmt.Sprintf("Not enough space to store the full quantity of %s. Remaining: %d", p.SKU, dist.Remaining))
		}
	} else {
		dist.Remaining = p.Quantity
	}
	w.record(ctx, fmt.Sprintf("Added product %s (SKU:%s, price:%s, qty:%d)", p.Name, p.SKU, p.Price.StringFixed(2), p.Quantity))
	w.markChanged(ctx)
	return dist, nil
}

// StoreProduct receives quantity new units of sku into (row, col). The
// product total grows by the same amount.
func (w *Warehouse) StoreProduct(ctx context.Context, sku string, quantity, row, col int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	product, loc, err := w.target(sku, quantity, row, col)
	if err != nil {
		return err
	}
	if err := loc.AddProduct(sku, quantity); err != nil {
		return err
	}
	if err := product.UpdateQuantity(quantity); err != nil {
		_ = loc.RemoveProduct(sku, quantity)
		return err
	}
	w.addToIndex(sku, loc.Coord())
	w.persist(ctx, false)
	w.record(ctx, fmt.Sprintf("Stored SKU %s, qty %d at %s", sku, quantity, loc.Code()))
	return nil
}

// RetrieveProduct ships quantity units of sku out of (row, col). The product
// total shrinks by the same amount.
func (w *Warehouse) RetrieveProduct(ctx context.Context, sku string, quantity, row, col int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	product, loc, err := w.target(sku, quantity, row, col)
	if err != nil {
		return err
	}
	if err := loc.RemoveProduct(sku, quantity); err != nil {
		return err
	}
	if err := product.UpdateQuantity(-quantity); err != nil {
		_ = loc.AddProduct(sku, quantity)
		return err
	}
	if loc.Quantity(sku) == 0 {
		w.removeFromIndex(sku, loc.Coord())
	}
	w.persist(ctx, false)
	w.record(ctx, fmt.Sprintf("Retrieved SKU %s, qty %d from %s", sku, quantity, loc.Code()))
	return nil
}

func (w *Warehouse) target(sku string, quantity, row, col int) (*Product, *Location, error) {
	product, ok := w.products[sku]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	if !w.inBounds(row, col) {
		return nil, nil, fmt.Errorf("%w: (%d, %d) outside %dx%d grid", ErrInvalidLocation, row, col, w.rows, w.cols)
	}
	if quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	return product, w.grid[row][col], nil
}

// FindProduct lists the coordinates holding sku in row-major order. A cache
// miss for a registered SKU triggers a grid scan that repopulates the index.
func (w *Warehouse) FindProduct(sku string) []Coord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if coords, ok := w.index[sku]; ok {
		return append([]Coord{}, coords...)
	}
	coords := w.scan(sku)
	if _, known := w.products[sku]; known {
		w.index[sku] = coords
		return append([]Coord{}, coords...)
	}
	return coords
}

// DeleteProduct removes the product and every unit of it from the grid.
func (w *Warehouse) DeleteProduct(ctx context.Context, sku string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.products[sku]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	removed := 0
	w.eachLocation(func(loc *Location) bool {
		removed += loc.purge(sku)
		return true
	})
	delete(w.index, sku)
	delete(w.products, sku)
	w.persist(ctx, false)
	w.record(ctx, fmt.Sprintf("Deleted product %s (%d units purged from locations)", sku, removed))
	return nil
}

// ProductUpdate carries optional product edits.
type ProductUpdate struct {
	Name     *string
	Price    *decimal.Decimal
	Quantity *int
}

// UpdateProduct edits name, price and total quantity. Either every field is
// applied or none is. A quantity edit does not touch locations.
func (w *Warehouse) UpdateProduct(ctx context.Context, sku string, upd ProductUpdate) (Product, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	product, ok := w.products[sku]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	next := *product
	if upd.Name != nil {
		next.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Price != nil {
		if err := next.UpdatePrice(*upd.Price); err != nil {
			return Product{}, err
		}
	}
	if upd.Quantity != nil {
		if err := next.UpdateQuantity(*upd.Quantity - next.Quantity); err != nil {
			return Product{}, err
		}
	}
	if err := next.validate(); err != nil {
		return Product{}, err
	}
	*product = next
	w.record(ctx, fmt.Sprintf("Updated product %s", sku))
	w.markChanged(ctx)
	return next, nil
}

// AssignLocations places unplaced units of sku at the given locations
// without changing the product total. The request is applied as a whole.
func (w *Warehouse) AssignLocations(ctx context.Context, sku string, allocations []Allocation) (Distribution, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	product, ok := w.products[sku]
	if !ok {
		return Distribution{}, fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	if len(allocations) == 0 {
		return Distribution{}, ErrInvalidQuantity
	}
	perCoord := make(map[Coord]int)
	total := 0
	for _, a := range allocations {
		if !w.inBounds(a.Row, a.Col) {
			return Distribution{}, fmt.Errorf("%w: (%d, %d) outside %dx%d grid", ErrInvalidLocation, a.Row, a.Col, w.rows, w.cols)
		}
		if a.Quantity <= 0 {
			return Distribution{}, ErrInvalidQuantity
		}
		perCoord[a.Coord] += a.Quantity
		total += a.Quantity
	}
	for coord, qty := range perCoord {
		loc := w.grid[coord.Row][coord.Col]
		if qty > loc.AvailableCapacity() {
			return Distribution{}, fmt.Errorf("%w: location %s has %d free, requested %d", ErrCapacityExceeded, loc.Code(), loc.AvailableCapacity(), qty)
		}
	}
	unplaced := product.Quantity - w.placedTotal(sku)
	if total > unplaced {
		return Distribution{}, fmt.Errorf("%w: %s has %d unplaced units, requested %d", ErrInsufficientStock, sku, max(unplaced, 0), total)
	}

	dist := Distribution{Remaining: unplaced - total}
	w.eachLocation(func(loc *Location) bool {
		if qty := perCoord[loc.Coord()]; qty > 0 {
			_ = loc.AddProduct(sku, qty)
			dist.Placed = append(dist.Placed, Allocation{Coord: loc.Coord(), Quantity: qty})
		}
		return true
	})
	w.rebuildIndex()
	w.persist(ctx, false)
	w.record(ctx, fmt.Sprintf("Manually assigned %d units of %s to locations", total, sku))
	return dist, nil
}

// Product returns a copy of the catalog entry.
func (w *Warehouse) Product(sku string) (Product, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.products[sku]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrUnknownProduct, sku)
	}
	return *p, nil
}

// Products returns copies of all catalog entries ordered by SKU.
func (w *Warehouse) Products() []Product {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.productSnapshot()
}

// LocationItem is one SKU held at a location.
type LocationItem struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// LocationView is a read-only snapshot of a location.
type LocationView struct {
	Code         string         `json:"code"`
	Row          int            `json:"row"`
	Col          int            `json:"col"`
	Capacity     int            `json:"capacity"`
	CurrentStock int            `json:"current_stock"`
	Available    int            `json:"available"`
	Items        []LocationItem `json:"items"`
}

// Location describes the cell at (row, col).
func (w *Warehouse) Location(row, col int) (LocationView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.inBounds(row, col) {
		return LocationView{}, fmt.Errorf("%w: (%d, %d) outside %dx%d grid", ErrInvalidLocation, row, col, w.rows, w.cols)
	}
	loc := w.grid[row][col]
	view := LocationView{
		Code:         loc.Code(),
		Row:          row,
		Col:          col,
		Capacity:     loc.Capacity(),
		CurrentStock: loc.CurrentStock(),
		Available:    loc.AvailableCapacity(),
		Items:        []LocationItem{},
	}
	for _, sku := range loc.SKUs() {
		name := "Unknown"
		if p, ok := w.products[sku]; ok {
			name = p.Name
		}
		view.Items = append(view.Items, LocationItem{SKU: sku, Name: name, Quantity: loc.Quantity(sku)})
	}
	return view, nil
}

// RebuildIndex recomputes the SKU to location cache from the grid.
func (w *Warehouse) RebuildIndex() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rebuildIndex()
}

// Reset empties grid and catalog and saves immediately.
func (w *Warehouse) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetState()
	w.persist(ctx, true)
	w.record(ctx, "Reset warehouse")
	return w.lastSaveErr
}

// Logs returns the activity log.
func (w *Warehouse) Logs(ctx context.Context) ([]LogEntry, error) {
	if w.store == nil {
		return nil, nil
	}
	return w.store.LoadLogs(ctx)
}

// Record appends a free-form line to the activity log on behalf of the caller.
func (w *Warehouse) Record(ctx context.Context, action string) {
	w.record(ctx, action)
}

func (w *Warehouse) rebuildIndex() {
	index := make(map[string][]Coord, len(w.products))
	for sku := range w.products {
		index[sku] = []Coord{}
	}
	w.eachLocation(func(loc *Location) bool {
		for sku := range loc.inventory {
			if _, ok := index[sku]; ok {
				index[sku] = append(index[sku], loc.Coord())
			}
		}
		return true
	})
	w.index = index
}

func (w *Warehouse) addToIndex(sku string, coord Coord) {
	coords, ok := w.index[sku]
	if !ok {
		w.index[sku] = w.scan(sku)
		return
	}
	for _, c := range coords {
		if c == coord {
			return
		}
	}
	coords = append(coords, coord)
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Row == coords[j].Row {
			return coords[i].Col < coords[j].Col
		}
		return coords[i].Row < coords[j].Row
	})
	w.index[sku] = coords
}

func (w *Warehouse) removeFromIndex(sku string, coord Coord) {
	coords := w.index[sku]
	out := coords[:0]
	for _, c := range coords {
		if c != coord {
			out = append(out, c)
		}
	}
	w.index[sku] = out
}

func (w *Warehouse) scan(sku string) []Coord {
	coords := []Coord{}
	w.eachLocation(func(loc *Location) bool {
		if loc.Quantity(sku) > 0 {
			coords = append(coords, loc.Coord())
		}
		return true
	})
	return coords
}

// distribute fills free capacity in row-major order and keeps the index current.
func (w *Warehouse) distribute(sku string, quantity int) Distribution {
	remaining := quantity
	var placed []Allocation
	w.eachLocation(func(loc *Location) bool {
		if remaining <= 0 {
			return false
		}
		free := loc.AvailableCapacity()
		if free <= 0 {
			return true
		}
		qty := min(remaining, free)
		if err := loc.AddProduct(sku, qty); err != nil {
			return true
		}
		remaining -= qty
		placed = append(placed, Allocation{Coord: loc.Coord(), Quantity: qty})
		w.addToIndex(sku, loc.Coord())
		return true
	})
	return Distribution{Placed: placed, Remaining: remaining}
}

func (w *Warehouse) placedTotal(sku string) int {
	total := 0
	w.eachLocation(func(loc *Location) bool {
		total += loc.Quantity(sku)
		return true
	})
	return total
}

// eachLocation visits cells row by row until fn returns false.
func (w *Warehouse) eachLocation(fn func(*Location) bool) {
	for _, row := range w.grid {
		for _, loc := range row {
			if !fn(loc) {
				return
			}
		}
	}
}

func (w *Warehouse) inBounds(row, col int) bool {
	return row >= 0 && row < w.rows && col >= 0 && col < w.cols
}

func (w *Warehouse) productSnapshot() []Product {
	out := make([]Product, 0, len(w.products))
	for _, p := range w.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (w *Warehouse) recordSnapshot() []StockRecord {
	var out []StockRecord
	w.eachLocation(func(loc *Location) bool {
		for _, sku := range loc.SKUs() {
			out = append(out, StockRecord{Row: loc.row, Col: loc.col, SKU: sku, Quantity: loc.Quantity(sku)})
		}
		return true
	})
	return out
}

func (w *Warehouse) markChanged(ctx context.Context) {
	w.changes++
	if w.changes >= w.saveThreshold {
		w.persist(ctx, false)
	}
}

// persist saves the full state. Failures are logged and reported but never
// returned to the mutating caller; memory stays authoritative. A forced save
// also writes through a buffering store.
func (w *Warehouse) persist(ctx context.Context, force bool) {
	w.changes = 0
	if w.store == nil {
		return
	}
	var err error
	if flusher, ok := w.store.(Flusher); ok && force {
		// Buffered saves only queue; the flush decides the outcome.
		_ = w.store.SaveProducts(ctx, w.productSnapshot())
		_ = w.store.SaveLocations(ctx, w.recordSnapshot())
		err = flusher.Flush(ctx)
	} else {
		err = w.store.SaveProducts(ctx, w.productSnapshot())
		if err == nil {
			err = w.store.SaveLocations(ctx, w.recordSnapshot())
		}
	}
	w.lastSaveErr = err
	if err != nil {
		w.logger.Error("save warehouse state", slog.Any("error", err))
		w.notifier.Notify(ctx, NoticeWarning, "Changes are kept in memory but could not be saved: "+err.Error())
	}
}

func (w *Warehouse) record(ctx context.Context, action string) {
	if w.store == nil {
		return
	}
	user := ActorFromContext(ctx)
	if user == "" {
		user = w.user
	}
	if err := w.store.AppendLog(ctx, LogEntry{At: w.now(), User: user, Action: action}); err != nil {
		w.logger.Warn("append activity log", slog.Any("error", err))
	}
}
