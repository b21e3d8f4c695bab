package main

import (
	"context"
	"errors"
	"image"
	"testing"

	"gopkg.in/yaml.v3"
)

type fakeProvider struct {
	BaseProvider
	name       string
	ticks      int
	tickErr    error
	refreshes  int
	hasRefresh bool
	buttons    []ButtonEvent
	renders    int
	renderErr  error
	lastLayout string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Render(ctx context.Context, w, h int, layoutName string) (image.Image, error) {
	f.renders++
	f.lastLayout = layoutName
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

func (f *fakeProvider) Tick(ctx context.Context) error {
	f.ticks++
	return f.tickErr
}

func (f *fakeProvider) Refresh(ctx context.Context) error {
	if !f.hasRefresh {
		return errNoRefreshHook
	}
	f.refreshes++
	return nil
}

func (f *fakeProvider) HandleButton(ev ButtonEvent) error {
	f.buttons = append(f.buttons, ev)
	return nil
}

func managerWith(providers ...Provider) *Manager {
	return &Manager{providers: providers, layouts: map[string]string{}}
}

func TestManagerEmpty(t *testing.T) {
	ctx := context.Background()
	m := managerWith()

	if p := m.Active(); p != nil {
		t.Fatalf("Active() = %v, want nil", p)
	}
	if p := m.Advance(); p != nil {
		t.Fatalf("Advance() = %v, want nil", p)
	}
	if p := m.Retreat(); p != nil {
		t.Fatalf("Retreat() = %v, want nil", p)
	}
	if got := m.ActiveIndex(); got != -1 {
		t.Fatalf("ActiveIndex() = %d, want -1", got)
	}
	if _, err := m.RenderActive(ctx, 10, 10); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("RenderActive err = %v, want ErrNoProviders", err)
	}
	if err := m.RouteButton(ctx, ButtonEvent{Button: ButtonNext}); err != nil {
		t.Fatalf("RouteButton on empty manager: %v", err)
	}
	if err := m.RefreshActive(ctx); err != nil {
		t.Fatalf("RefreshActive on empty manager: %v", err)
	}
	m.TickAll(ctx)
}

func TestManagerAdvanceRoundTrip(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	c := &fakeProvider{name: "c"}
	m := managerWith(a, b, c)

	if got := m.Active().Name(); got != "a" {
		t.Fatalf("initial active = %s, want a", got)
	}
	want := []string{"b", "c", "a"}
	for i, name := range want {
		if got := m.Advance().Name(); got != name {
			t.Fatalf("advance %d = %s, want %s", i+1, got, name)
		}
	}
	if got := m.Active().Name(); got != "a" {
		t.Fatalf("after full cycle active = %s, want a", got)
	}
}

func TestManagerRetreatWraps(t *testing.T) {
	m := managerWith(&fakeProvider{name: "a"}, &fakeProvider{name: "b"}, &fakeProvider{name: "c"})
	if got := m.Retreat().Name(); got != "c" {
		t.Fatalf("retreat from first = %s, want c", got)
	}
	if got := m.Retreat().Name(); got != "b" {
		t.Fatalf("second retreat = %s, want b", got)
	}
}

func TestManagerRouteButtonNavigation(t *testing.T) {
	cases := []struct {
		name      string
		button    string
		wantIndex int
	}{
		{"next advances", ButtonNext, 1},
		{"prev retreats", ButtonPrev, 2},
		{"back retreats", ButtonBack, 2},
		{"unknown ignored", "volume_up", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &fakeProvider{name: "a"}
			m := managerWith(a, &fakeProvider{name: "b"}, &fakeProvider{name: "c"})
			if err := m.RouteButton(context.Background(), ButtonEvent{Button: tc.button}); err != nil {
				t.Fatal(err)
			}
			if got := m.ActiveIndex(); got != tc.wantIndex {
				t.Fatalf("active index = %d, want %d", got, tc.wantIndex)
			}
			if len(a.buttons) != 0 {
				t.Fatalf("navigation buttons must not reach the provider, got %v", a.buttons)
			}
		})
	}
}

func TestManagerRouteRefreshUsesHook(t *testing.T) {
	a := &fakeProvider{name: "a", hasRefresh: true}
	m := managerWith(a)
	if err := m.RouteButton(context.Background(), ButtonEvent{Button: ButtonRefresh}); err != nil {
		t.Fatal(err)
	}
	if a.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", a.refreshes)
	}
	if a.ticks != 0 {
		t.Fatalf("ticks = %d, want 0 when the hook exists", a.ticks)
	}
}

func TestManagerRouteRefreshFallsBackToTick(t *testing.T) {
	a := &fakeProvider{name: "a"}
	m := managerWith(a)
	if err := m.RouteButton(context.Background(), ButtonEvent{Button: ButtonRefresh}); err != nil {
		t.Fatal(err)
	}
	if a.ticks != 1 {
		t.Fatalf("ticks = %d, want 1 via fallback", a.ticks)
	}
}

func TestManagerRouteActionReachesProvider(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	m := managerWith(a, b)
	if err := m.RouteButton(context.Background(), ButtonEvent{Button: ButtonAction}); err != nil {
		t.Fatal(err)
	}
	if len(a.buttons) != 1 || a.buttons[0].Button != ButtonAction {
		t.Fatalf("active provider buttons = %v, want one action", a.buttons)
	}
	if len(b.buttons) != 0 {
		t.Fatalf("inactive provider got buttons: %v", b.buttons)
	}
	if got := m.ActiveIndex(); got != 0 {
		t.Fatalf("action changed active index to %d", got)
	}
}

func TestManagerTickAllIsolatesFailures(t *testing.T) {
	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b", tickErr: errors.New("upstream down")}
	c := &fakeProvider{name: "c"}
	m := managerWith(a, b, c)

	m.TickAll(context.Background())

	for _, p := range []*fakeProvider{a, b, c} {
		if p.ticks != 1 {
			t.Fatalf("provider %s ticks = %d, want 1", p.name, p.ticks)
		}
	}
}

func TestManagerLoadSkipsFailures(t *testing.T) {
	factories := map[string]ProviderFactory{
		"good": func(settings yaml.Node, fonts *FontStore) (Provider, error) {
			return &fakeProvider{name: "good"}, nil
		},
		"bad": func(settings yaml.Node, fonts *FontStore) (Provider, error) {
			return nil, errors.New("no hardware")
		},
	}
	cfg := defaultConfig()
	m := newManager(factories, &cfg, nil)

	if got := m.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if got := m.Active().Name(); got != "good" {
		t.Fatalf("active = %s, want good", got)
	}
}

func TestManagerLoadHonorsEnabledOrder(t *testing.T) {
	mk := func(name string) ProviderFactory {
		return func(settings yaml.Node, fonts *FontStore) (Provider, error) {
			return &fakeProvider{name: name}, nil
		}
	}
	factories := map[string]ProviderFactory{
		"alpha": mk("alpha"),
		"zeta":  mk("zeta"),
	}
	cfg := defaultConfig()
	cfg.Providers.Enabled = []string{"zeta", "missing", "alpha"}
	m := newManager(factories, &cfg, nil)

	st := m.Status()
	if len(st.Providers) != 2 || st.Providers[0] != "zeta" || st.Providers[1] != "alpha" {
		t.Fatalf("providers = %v, want [zeta alpha]", st.Providers)
	}
}

func TestManagerRenderActivePassesLayout(t *testing.T) {
	f := &fakeProvider{name: "net"}
	m := managerWith(f)
	m.layouts["net"] = "compact_quads"

	img, err := m.RenderActive(context.Background(), 100, 50)
	if err != nil {
		t.Fatal(err)
	}
	if img == nil {
		t.Fatal("nil frame")
	}
	if f.lastLayout != "compact_quads" {
		t.Fatalf("layout passed = %q, want compact_quads", f.lastLayout)
	}
}

func TestManagerRenderActiveWrapsError(t *testing.T) {
	cause := errors.New("render exploded")
	m := managerWith(&fakeProvider{name: "a", renderErr: cause})
	if _, err := m.RenderActive(context.Background(), 10, 10); !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}
}
