package main

import (
	"context"
	"errors"
	"image"
	"time"

	"gopkg.in/yaml.v3"
)

// Logical button events. The input layer maps physical keys onto these; the
// manager routes them.
const (
	ButtonNext    = "next"
	ButtonPrev    = "prev"
	ButtonBack    = "back"
	ButtonRefresh = "refresh"
	ButtonAction  = "action"
)

// ButtonEvent is one debounced press of a logical button.
type ButtonEvent struct {
	Button string
	When   time.Time
}

// errNoRefreshHook marks providers without a dedicated refresh handler. The
// manager falls back to a plain tick for them.
var errNoRefreshHook = errors.New("no refresh hook")

// Provider produces frames for one dashboard screen.
//
// All hooks are called from the control loop goroutine. Render must return a
// fully drawn frame for the requested canvas; layoutName selects one of the
// provider's layout presets and may be empty for the provider's default.
type Provider interface {
	// Name is the stable identifier used in config and logs.
	Name() string
	Render(ctx context.Context, width, height int, layoutName string) (image.Image, error)
	// Tick runs periodic background work, also while the provider is not
	// the active screen.
	Tick(ctx context.Context) error
	// Refresh handles an explicit refresh request.
	Refresh(ctx context.Context) error
	// HandleButton reacts to a button routed to the active provider.
	HandleButton(ev ButtonEvent) error
	// RefreshInterval hints how often the screen is worth redrawing.
	// Zero means no preference.
	RefreshInterval() time.Duration
	// Layouts lists the presets the provider can render.
	Layouts() []LayoutPreset
}

// BaseProvider supplies the optional hooks so providers only implement what
// they need.
type BaseProvider struct{}

func (BaseProvider) Tick(ctx context.Context) error    { return nil }
func (BaseProvider) Refresh(ctx context.Context) error { return errNoRefreshHook }
func (BaseProvider) HandleButton(ev ButtonEvent) error { return nil }
func (BaseProvider) RefreshInterval() time.Duration    { return 0 }
func (BaseProvider) Layouts() []LayoutPreset           { return DefaultLayouts[:1] }

// ProviderFactory builds a provider from its config fragment and the shared
// font store.
type ProviderFactory func(settings yaml.Node, fonts *FontStore) (Provider, error)

// providerFactories is the static provider registry. Keys are the names used
// in the providers.enabled config list.
var providerFactories = map[string]ProviderFactory{
	"clock":    newClockProvider,
	"mealie":   newMealieProvider,
	"network":  newNetworkProvider,
	"ticktick": newTickTickProvider,
}

// decodeSettings fills out from a provider's config fragment. A missing
// fragment leaves the defaults untouched.
func decodeSettings(settings yaml.Node, out any) error {
	if settings.Kind == 0 {
		return nil
	}
	return settings.Decode(out)
}
