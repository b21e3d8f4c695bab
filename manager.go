package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sort"
	"sync"
)

// ErrNoProviders signals that nothing is loaded; the loop renders a
// placeholder screen instead.
var ErrNoProviders = errors.New("no providers loaded")

// Manager owns the provider list and the active screen selection.
//
// The control loop goroutine performs all mutation. The lock exists so the
// debug server can read navigation state concurrently.
type Manager struct {
	mu        sync.RWMutex
	providers []Provider
	active    int
	layouts   map[string]string
}

// NewManager instantiates the enabled providers from the static registry.
// Factories that fail are logged and skipped; an empty manager is still
// usable.
func NewManager(cfg *Config, fonts *FontStore) *Manager {
	return newManager(providerFactories, cfg, fonts)
}

func newManager(factories map[string]ProviderFactory, cfg *Config, fonts *FontStore) *Manager {
	m := &Manager{layouts: cfg.Providers.Layouts}
	if m.layouts == nil {
		m.layouts = map[string]string{}
	}

	enabled := cfg.Providers.Enabled
	if len(enabled) == 0 {
		for name := range factories {
			enabled = append(enabled, name)
		}
		sort.Strings(enabled)
	}

	for _, name := range enabled {
		factory, ok := factories[name]
		if !ok {
			log.Printf("providers: unknown provider %q, skipping", name)
			continue
		}
		p, err := factory(cfg.Providers.Settings[name], fonts)
		if err != nil {
			log.Printf("providers: failed to load %q: %v", name, err)
			continue
		}
		if hint := p.RefreshInterval(); hint > 0 {
			log.Printf("providers: loaded %q (refresh hint %s)", name, hint)
		} else {
			log.Printf("providers: loaded %q", name)
		}
		m.providers = append(m.providers, p)
	}
	return m
}

// Len returns the number of loaded providers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.providers)
}

// Active returns the provider currently on screen, or nil when none loaded.
func (m *Manager) Active() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.providers) == 0 {
		return nil
	}
	return m.providers[m.active]
}

// ActiveIndex returns the active position, or -1 when none loaded.
func (m *Manager) ActiveIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.providers) == 0 {
		return -1
	}
	return m.active
}

// Advance moves to the next provider in sequence, wrapping around, and
// returns the new active provider.
func (m *Manager) Advance() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.providers) == 0 {
		return nil
	}
	m.active = (m.active + 1) % len(m.providers)
	return m.providers[m.active]
}

// Retreat moves to the previous provider, wrapping around, and returns the
// new active provider.
func (m *Manager) Retreat() Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.providers) == 0 {
		return nil
	}
	m.active = (m.active - 1 + len(m.providers)) % len(m.providers)
	return m.providers[m.active]
}

// RefreshActive asks the active provider to refresh its data. Providers
// without a dedicated refresh hook get a plain tick instead.
func (m *Manager) RefreshActive(ctx context.Context) error {
	p := m.Active()
	if p == nil {
		return nil
	}
	err := p.Refresh(ctx)
	if errors.Is(err, errNoRefreshHook) {
		err = p.Tick(ctx)
	}
	return err
}

// RouteButton applies one button event: next advances, prev and back go
// backwards, refresh triggers the active provider's refresh, action is
// handed to the active provider. Anything else is ignored.
func (m *Manager) RouteButton(ctx context.Context, ev ButtonEvent) error {
	switch ev.Button {
	case ButtonNext:
		m.Advance()
	case ButtonPrev, ButtonBack:
		m.Retreat()
	case ButtonRefresh:
		return m.RefreshActive(ctx)
	case ButtonAction:
		if p := m.Active(); p != nil {
			return p.HandleButton(ev)
		}
	}
	return nil
}

// TickAll runs every provider's background tick. One provider's failure
// does not stop the others.
func (m *Manager) TickAll(ctx context.Context) {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	for _, p := range providers {
		if err := p.Tick(ctx); err != nil {
			log.Printf("providers: tick %s: %v", p.Name(), err)
		}
	}
}

// RenderActive renders the active provider's frame at the given canvas
// size. Returns ErrNoProviders when nothing is loaded.
func (m *Manager) RenderActive(ctx context.Context, width, height int) (image.Image, error) {
	p := m.Active()
	if p == nil {
		return nil, ErrNoProviders
	}
	img, err := p.Render(ctx, width, height, m.layoutFor(p.Name()))
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", p.Name(), err)
	}
	return img, nil
}

func (m *Manager) layoutFor(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layouts[name]
}

// ManagerStatus is a point-in-time snapshot for the debug server.
type ManagerStatus struct {
	Providers   []string `json:"providers"`
	Active      string   `json:"active,omitempty"`
	ActiveIndex int      `json:"active_index"`
}

func (m *Manager) Status() ManagerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := ManagerStatus{ActiveIndex: -1}
	for _, p := range m.providers {
		st.Providers = append(st.Providers, p.Name())
	}
	if len(m.providers) > 0 {
		st.ActiveIndex = m.active
		st.Active = m.providers[m.active].Name()
	}
	return st
}
