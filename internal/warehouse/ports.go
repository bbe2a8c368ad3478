package warehouse

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Store abstracts durable storage of warehouse state.
// Implementations must replace each resource atomically on save.
type Store interface {
	SaveProducts(ctx context.Context, products []Product) error
	LoadProducts(ctx context.Context) ([]Product, error)
	SaveLocations(ctx context.Context, records []StockRecord) error
	// LoadLocations returns ErrNoState when no location data was ever saved.
	LoadLocations(ctx context.Context) ([]StockRecord, error)
	SaveSettings(ctx context.Context, settings Settings) error
	// LoadSettings fills missing keys from DefaultSettings.
	LoadSettings(ctx context.Context) (Settings, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	LoadLogs(ctx context.Context) ([]LogEntry, error)
}

// Flusher is implemented by stores that buffer saves. A forced Save calls
// Flush so its result reflects what reached durable storage.
type Flusher interface {
	Flush(ctx context.Context) error
}

// NoticeLevel classifies notices sent to the presentation layer.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeFailure NoticeLevel = "failure"
)

// Notifier receives operator facing notices.
type Notifier interface {
	Notify(ctx context.Context, level NoticeLevel, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, level NoticeLevel, message string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, level NoticeLevel, message string) {
	f(ctx, level, message)
}

// ExcessResolver picks how an excess drift is resolved. Returning false leaves it unresolved.
type ExcessResolver interface {
	ResolveExcess(ctx context.Context, drift Drift) (Strategy, bool)
}

// ResolverFunc adapts a function to ExcessResolver.
type ResolverFunc func(ctx context.Context, drift Drift) (Strategy, bool)

// ResolveExcess implements ExcessResolver.
func (f ResolverFunc) ResolveExcess(ctx context.Context, drift Drift) (Strategy, bool) {
	return f(ctx, drift)
}

// FixedStrategy always answers with s.
func FixedStrategy(s Strategy) ExcessResolver {
	return ResolverFunc(func(context.Context, Drift) (Strategy, bool) { return s, true })
}

// Settings are the persisted application preferences.
type Settings struct {
	Rows     int  `json:"warehouse_rows" validate:"min=1,max=26"`
	Cols     int  `json:"warehouse_cols" validate:"min=1,max=99"`
	FirstRun bool `json:"first_run"`
}

// DefaultSettings mirrors a fresh installation.
func DefaultSettings() Settings {
	return Settings{Rows: 5, Cols: 8, FirstRun: true}
}

var settingsValidator = validator.New()

// Validate checks the grid dimensions.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			switch fe.Field() {
			case "Rows":
				return fmt.Errorf("settings: number of rows must be between 1 and %d", MaxRows)
			case "Cols":
				return fmt.Errorf("settings: number of columns must be between 1 and %d", MaxCols)
			}
		}
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

type actorContextKey struct{}

// ContextWithActor stores the acting user for the activity log.
func ContextWithActor(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, user)
}

// ActorFromContext extracts the acting user, if any.
func ActorFromContext(ctx context.Context) string {
	user, _ := ctx.Value(actorContextKey{}).(string)
	return user
}
