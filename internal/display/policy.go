// Package display decides how an incoming notification is surfaced.
package display

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lessonbell/internal/alert"
	"lessonbell/internal/notification"
	"lessonbell/internal/notifier"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

// Lifecycle is the host app's state.
type Lifecycle int

const (
	Foreground Lifecycle = iota
	Background
	Inactive
)

func (l Lifecycle) String() string {
	switch l {
	case Background:
		return "background"
	case Inactive:
		return "inactive"
	default:
		return "foreground"
	}
}

// ParseLifecycle accepts "active"/"foreground", "background" and "inactive".
func ParseLifecycle(s string) (Lifecycle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "foreground":
		return Foreground, nil
	case "background":
		return Background, nil
	case "inactive":
		return Inactive, nil
	}
	return Foreground, fmt.Errorf("display: unknown lifecycle %q", s)
}

// Decision is what Evaluate did with a notification.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionInApp
	DecisionSystem
	DecisionDropped
)

func (d Decision) String() string {
	switch d {
	case DecisionInApp:
		return "in_app"
	case DecisionSystem:
		return "system"
	case DecisionDropped:
		return "dropped"
	default:
		return "none"
	}
}

// AlertRequester is the in-app alert surface.
type AlertRequester interface {
	Request(a alert.Alert) string
}

// SystemNotifier is the OS banner surface.
type SystemNotifier interface {
	Notify(ctx context.Context, m notifier.Message) error
}

// RouteFunc opens n's target; it backs the alert's confirm button.
type RouteFunc func(n notification.Notification)

// Policy maps lifecycle state onto a surface.
type Policy struct {
	alerts AlertRequester
	system SystemNotifier
	route  RouteFunc
	log    logx.Logger

	mu        sync.RWMutex
	lifecycle Lifecycle
	observe   func(Decision)
}

func NewPolicy(alerts AlertRequester, system SystemNotifier, route RouteFunc, log logx.Logger) *Policy {
	return &Policy{alerts: alerts, system: system, route: route, log: log.With(logx.String("comp", "display"))}
}

// OnDecision installs a hook called with every decision.
func (p *Policy) OnDecision(fn func(Decision)) {
	p.mu.Lock()
	p.observe = fn
	p.mu.Unlock()
}

func (p *Policy) SetLifecycle(l Lifecycle) {
	p.mu.Lock()
	prev := p.lifecycle
	p.lifecycle = l
	p.mu.Unlock()
	if prev != l {
		p.log.Debug("lifecycle changed", logx.String("from", prev.String()), logx.String("to", l.String()))
	}
}

func (p *Policy) Lifecycle() Lifecycle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lifecycle
}

// Evaluate surfaces n. In the foreground it requests an in-app alert whose
// confirm action routes to n. Otherwise push notifications are left to the
// OS, which already rendered the provider banner, and realtime ones are
// posted through the system notifier. uri is n's resolved deep link.
func (p *Policy) Evaluate(ctx context.Context, n notification.Notification, uri string) Decision {
	p.mu.RLock()
	lc := p.lifecycle
	observe := p.observe
	p.mu.RUnlock()

	d := p.decide(ctx, lc, n, uri)
	p.log.Debug("notification surfaced",
		logx.String("id", n.ID), logx.String("type", string(n.Type)),
		logx.String("lifecycle", lc.String()), logx.String("decision", d.String()))
	if observe != nil {
		observe(d)
	}
	return d
}

func (p *Policy) decide(ctx context.Context, lc Lifecycle, n notification.Notification, uri string) Decision {
	if lc == Foreground {
		if p.alerts == nil {
			return DecisionNone
		}
		var onConfirm func()
		if p.route != nil {
			target := n.Clone()
			onConfirm = func() { p.route(target) }
		}
		p.alerts.Request(alert.ForNotification(n, onConfirm))
		return DecisionInApp
	}

	if n.Channel == transport.ChannelPush || p.system == nil {
		return DecisionNone
	}
	err := p.system.Notify(ctx, notifier.Message{
		ID:       n.ID,
		Title:    n.Title,
		Body:     n.Body,
		Category: string(n.Category()),
		URI:      uri,
		Data:     n.Data,
	})
	switch {
	case err == nil:
		return DecisionSystem
	case errors.Is(err, notifier.ErrRateLimited), errors.Is(err, notifier.ErrQueueFull):
		p.log.Info("system notification dropped", logx.String("id", n.ID), logx.Err(err))
		return DecisionDropped
	default:
		p.log.Warn("system notification failed", logx.String("id", n.ID), logx.Err(err))
		return DecisionDropped
	}
}
