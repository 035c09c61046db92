package deeplink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lessonbell/pkg/logx"
)

type fakeNav struct {
	mu         sync.Mutex
	readyAfter int // IsReady turns true after this many calls; -1 never
	calls      int
	navErr     map[string]error
	navigated  []Target
	resets     [][]string
	current    string
}

func (f *fakeNav) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.readyAfter >= 0 && f.calls > f.readyAfter
}

func (f *fakeNav) Navigate(route string, params map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.navErr[route]; err != nil {
		return err
	}
	f.navigated = append(f.navigated, Target{Route: route, Params: params})
	f.current = route
	return nil
}

func (f *fakeNav) Reset(routes ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, routes)
	if len(routes) > 0 {
		f.current = routes[len(routes)-1]
	}
	return nil
}

func (f *fakeNav) CurrentRoute() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func fastRouter(nav Navigator, attempts int) *Router {
	return NewRouter(nav, RouterConfig{RetryDelay: time.Millisecond, MaxAttempts: attempts}, logx.Nop())
}

func TestRouterRetriesUntilReady(t *testing.T) {
	t.Parallel()
	nav := &fakeNav{readyAfter: 3}
	got, err := fastRouter(nav, 10).Open(context.Background(), "learningsaint://lesson/live/L42")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got.Route != RouteLessonVideo || got.Params[ParamLessonID] != "L42" {
		t.Fatalf("target = %+v", got)
	}
	if nav.calls != 4 {
		t.Fatalf("IsReady calls = %d, want 4", nav.calls)
	}
	if len(nav.navigated) != 1 {
		t.Fatalf("navigations = %v", nav.navigated)
	}
}

func TestRouterFallsBackHomeWhenNeverReady(t *testing.T) {
	t.Parallel()
	nav := &fakeNav{readyAfter: -1}
	got, err := fastRouter(nav, 3).Open(context.Background(), "learningsaint://enroll/S9")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got.Route != RouteHome {
		t.Fatalf("target = %+v, want home", got)
	}
	if nav.calls != 3 {
		t.Fatalf("IsReady calls = %d, want capped at 3", nav.calls)
	}
}

func TestRouterFallsBackHomeOnNavigateError(t *testing.T) {
	t.Parallel()
	nav := &fakeNav{navErr: map[string]error{RouteEnroll: errors.New("unknown route")}}
	var fallbacks int
	r := fastRouter(nav, 1)
	r.OnNavigate(func(route string, fallback bool) {
		if fallback {
			fallbacks++
		}
	})
	got, err := r.Open(context.Background(), "learningsaint://enroll/S9")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got.Route != RouteHome || nav.current != RouteHome {
		t.Fatalf("target = %+v current = %s", got, nav.current)
	}
	if fallbacks != 1 {
		t.Fatalf("fallback hook calls = %d", fallbacks)
	}
}

func TestRouterHonorsCancel(t *testing.T) {
	t.Parallel()
	nav := &fakeNav{readyAfter: -1}
	r := NewRouter(nav, RouterConfig{RetryDelay: time.Hour, MaxAttempts: 5}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Open(ctx, "home"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type panicNav struct{ fakeNav }

func (p *panicNav) Navigate(string, map[string]string) error { panic("view tree gone") }

func TestRouterSurvivesPanickingNavigator(t *testing.T) {
	t.Parallel()
	got, err := fastRouter(&panicNav{}, 1).Open(context.Background(), "profile")
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if got.Route != RouteHome {
		t.Fatalf("target = %+v", got)
	}
}

func TestRouterResetTo(t *testing.T) {
	t.Parallel()
	nav := &fakeNav{readyAfter: 1}
	if err := fastRouter(nav, 5).ResetTo(context.Background(), RouteLogin); err != nil {
		t.Fatalf("ResetTo error: %v", err)
	}
	if len(nav.resets) != 1 || nav.resets[0][0] != RouteLogin || nav.CurrentRoute() != RouteLogin {
		t.Fatalf("resets = %v current = %s", nav.resets, nav.current)
	}
}
