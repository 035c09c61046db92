package deeplink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lessonbell/pkg/logx"
)

var ErrNotReady = errors.New("deeplink: navigator not ready")

// Navigator is the app's navigation controller.
type Navigator interface {
	IsReady() bool
	Navigate(route string, params map[string]string) error
	Reset(routes ...string) error
	CurrentRoute() string
}

// RouterConfig bounds the readiness retry.
type RouterConfig struct {
	RetryDelay  time.Duration
	MaxAttempts int
}

// Router executes targets against a Navigator supplied at construction.
type Router struct {
	nav Navigator
	log logx.Logger

	mu  sync.RWMutex
	cfg RouterConfig

	onNavigate func(route string, fallback bool)
}

// NewRouter builds a router. Defaults: 500ms delay, 10 attempts.
func NewRouter(nav Navigator, cfg RouterConfig, log logx.Logger) *Router {
	return &Router{nav: nav, cfg: cfg.withDefaults(), log: log}
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	return c
}

// Apply swaps the retry settings; in-flight waits keep the old ones.
func (r *Router) Apply(cfg RouterConfig) {
	r.mu.Lock()
	r.cfg = cfg.withDefaults()
	r.mu.Unlock()
}

func (r *Router) config() RouterConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// OnNavigate installs a hook called after each navigation.
func (r *Router) OnNavigate(fn func(route string, fallback bool)) { r.onNavigate = fn }

// CurrentRoute reports the navigator's current route.
func (r *Router) CurrentRoute() string { return r.nav.CurrentRoute() }

// Open parses uri and navigates to it. See Go.
func (r *Router) Open(ctx context.Context, uri string) (Target, error) {
	t := Parse(uri)
	r.log.Debug("deep link parsed", logx.String("uri", uri), logx.String("route", t.Route))
	return r.Go(ctx, t)
}

// Go navigates to t, waiting for the navigator to become ready. When it never
// does, or when navigation fails, it falls back to Home. The only error
// returned is ctx cancellation; the returned Target is where navigation went.
func (r *Router) Go(ctx context.Context, t Target) (Target, error) {
	if err := r.waitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return Target{}, ctx.Err()
		}
		r.log.Warn("navigator never became ready, falling back to home",
			logx.String("route", t.Route), logx.Int("attempts", r.config().MaxAttempts))
		return r.fallback(t), nil
	}
	if err := r.safeNavigate(t); err != nil {
		r.log.Warn("navigation failed, falling back to home", logx.String("route", t.Route), logx.Err(err))
		return r.fallback(t), nil
	}
	r.notify(t.Route, false)
	return t, nil
}

// ResetTo replaces the navigation stack with route, waiting for readiness the same way Go does.
func (r *Router) ResetTo(ctx context.Context, route string) error {
	if err := r.waitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("navigator not ready for reset, trying anyway", logx.String("route", route))
	}
	if err := r.safeReset(route); err != nil {
		return fmt.Errorf("deeplink.ResetTo: %w", err)
	}
	r.notify(route, false)
	return nil
}

func (r *Router) waitReady(ctx context.Context) error {
	cfg := r.config()
	for attempt := 1; ; attempt++ {
		if r.nav.IsReady() {
			return nil
		}
		if attempt >= cfg.MaxAttempts {
			return ErrNotReady
		}
		r.log.Debug("navigator not ready, retrying", logx.Int("attempt", attempt), logx.Duration("delay", cfg.RetryDelay))
		t := time.NewTimer(cfg.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (r *Router) fallback(from Target) Target {
	home := Home()
	if from.Route == RouteHome {
		r.notify(RouteHome, true)
		return home
	}
	if err := r.safeNavigate(home); err != nil {
		r.log.Error("home fallback failed", logx.Err(err))
	}
	r.notify(RouteHome, true)
	return home
}

// safeNavigate shields callers from a panicking controller.
func (r *Router) safeNavigate(t Target) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("navigator panic: %v", p)
		}
	}()
	return r.nav.Navigate(t.Route, t.Params)
}

func (r *Router) safeReset(route string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("navigator panic: %v", p)
		}
	}()
	return r.nav.Reset(route)
}

func (r *Router) notify(route string, fallback bool) {
	if r.onNavigate != nil {
		r.onNavigate(route, fallback)
	}
}
