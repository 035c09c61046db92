package app

import (
	"context"
	"time"

	"lessonbell/internal/deeplink"
	"lessonbell/internal/display"
	"lessonbell/internal/enrich"
	"lessonbell/internal/eventbus"
	"lessonbell/internal/notification"
	"lessonbell/internal/session"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

// HandleIncomingEvent runs one raw event through the pipeline: normalize,
// store, enrich, then surface. It never fails on bad input; the only error
// is ctx cancellation. An event whose enrichment overlapped a session
// invalidation is not surfaced.
func (a *App) HandleIncomingEvent(ctx context.Context, raw transport.RawEvent) (display.Decision, error) {
	n := notification.Normalize(raw)
	malformed := n.Field(notification.KeyMalformed) == "true"
	a.met.Ingested(string(raw.Channel), string(n.Type), malformed)
	if malformed {
		a.log.Warn("malformed event stored as general notification",
			logx.String("channel", string(raw.Channel)), logx.String("id", n.ID))
	}

	a.store.Append(n)
	a.bus.Publish(eventbus.Event{Type: eventbus.NotificationStored, Time: time.Now(), Data: n.ID})

	epoch := a.episodes.Load()
	res, err := a.resolve(ctx, n)
	if err != nil && ctx.Err() != nil {
		return display.DecisionNone, ctx.Err()
	}
	if a.episodes.Load() != epoch {
		a.log.Info("session invalidated during enrichment, not surfacing", logx.String("id", n.ID))
		return display.DecisionNone, nil
	}
	n = enrich.Apply(n, res)
	return a.policy.Evaluate(ctx, n, res.URI), nil
}

// RouteNotification resolves n's target, navigates there and marks n read.
func (a *App) RouteNotification(ctx context.Context, n notification.Notification) (deeplink.Target, error) {
	res, err := a.resolve(ctx, n)
	if err != nil && ctx.Err() != nil {
		return deeplink.Target{}, ctx.Err()
	}
	t, err := a.router.Open(ctx, res.URI)
	if err != nil {
		return deeplink.Target{}, err
	}
	if a.store.MarkRead(n.ID) {
		a.log.Debug("notification marked read", logx.String("id", n.ID))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.NotificationRouted, Time: time.Now(), Data: t.Route})
	return t, nil
}

// OpenURI navigates to a deep link received from outside the pipeline, such
// as a cold-start launch URL.
func (a *App) OpenURI(ctx context.Context, uri string) (deeplink.Target, error) {
	return a.router.Open(ctx, uri)
}

// OnAuthFailure forwards a backend response to the session coordinator.
// It reports whether the response was treated as an auth failure.
func (a *App) OnAuthFailure(ctx context.Context, resp session.Response, suppressAlert bool) bool {
	return a.sess.OnAuthFailure(ctx, resp, suppressAlert)
}

// SetLifecycle records the host's foreground state.
func (a *App) SetLifecycle(l display.Lifecycle) { a.policy.SetLifecycle(l) }

func (a *App) resolve(ctx context.Context, n notification.Notification) (enrich.Resolution, error) {
	timeout := time.Duration(a.enrichTimeout.Load())
	if timeout <= 0 {
		timeout = defaultEnrichTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := a.resolver.Resolve(rctx, n)
	if err != nil {
		a.log.Warn("enrichment cut short, using list route", logx.String("id", n.ID), logx.Err(err))
	}
	return res, err
}

// routeFromAlert is the confirm action of a notification alert. It runs off
// the alert coordinator's goroutine.
func (a *App) routeFromAlert(n notification.Notification) {
	run := func(ctx context.Context) {
		if _, err := a.RouteNotification(ctx, n); err != nil && ctx.Err() == nil {
			a.log.Warn("alert route failed", logx.String("id", n.ID), logx.Err(err))
		}
	}
	if a.sup == nil {
		go run(context.Background())
		return
	}
	a.sup.Go0("alert.route", run)
}
