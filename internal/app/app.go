package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"lessonbell/internal/alert"
	"lessonbell/internal/backend"
	"lessonbell/internal/badge"
	"lessonbell/internal/config"
	"lessonbell/internal/deeplink"
	"lessonbell/internal/display"
	"lessonbell/internal/enrich"
	"lessonbell/internal/eventbus"
	"lessonbell/internal/metrics"
	"lessonbell/internal/notification"
	"lessonbell/internal/notifier"
	"lessonbell/internal/observability/debugsrv"
	rtsup "lessonbell/internal/runtime/supervisor"
	"lessonbell/internal/session"
	"lessonbell/internal/storage"
	"lessonbell/internal/transport"
	"lessonbell/internal/transport/push"
	"lessonbell/internal/transport/realtime"
	"lessonbell/pkg/logx"
)

// Host is the embedding client: navigation, in-app alert rendering and OS
// banners. PushInput, when set, replaces the configured push source.
type Host struct {
	Navigator deeplink.Navigator
	Presenter alert.Presenter
	Poster    notifier.Poster
	PushInput io.Reader
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	host Host

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	kv   storage.Store
	met  *metrics.Metrics

	api      *backend.Client
	store    *notification.Store
	sess     *session.Coordinator
	router   *deeplink.Router
	alerts   *alert.Coordinator
	notif    *notifier.Service
	policy   *display.Policy
	resolver *enrich.Resolver
	push     *push.Adapter
	rt       *realtime.Adapter
	badge    *badge.Syncer
	debug    *debugsrv.Service

	events        chan transport.RawEvent
	enrichTimeout atomic.Int64
	realtimeOn    atomic.Bool
	episodes      atomic.Uint64
}

// New loads the config at cfgPath and wires every component. Nothing runs
// until Start.
func New(cfgPath string, host Host) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, host)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, host Host) (*App, error) {
	if host.Navigator == nil || host.Presenter == nil || host.Poster == nil {
		return nil, errors.New("app: host needs a navigator, a presenter and a poster")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	bc, _ := mapBackend(cfg)
	rc, _ := mapRealtime(cfg)
	sc, _ := mapStore(cfg)
	kc, _ := mapStorage(cfg)
	ssc, _ := mapSession(cfg)
	rtc, _ := mapRouter(cfg)
	ac, _ := mapAlerts(cfg)
	nc, _ := mapNotifier(cfg)
	ec, enrichTimeout, _ := mapEnrich(cfg)
	dc, _ := mapDebug(cfg)

	logs, log := logx.New(mapLogging(cfg))

	kv, err := storage.Open(kc, log)
	if err != nil {
		return nil, err
	}
	vault, err := openVault(mapVault(cfg))
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	a := &App{
		cfgm:   cfgm,
		host:   host,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		bus:    eventbus.New(),
		kv:     kv,
		met:    metrics.New(),
		events: make(chan transport.RawEvent, 256),
	}
	a.enrichTimeout.Store(int64(enrichTimeout))
	a.realtimeOn.Store(cfg.Realtime.Enabled)

	a.api = backend.New(bc, func() string { return a.sess.Token() })
	a.store = notification.NewStore(sc, kv, log.With(logx.String("comp", "store")))
	a.router = deeplink.NewRouter(host.Navigator, rtc, log.With(logx.String("comp", "deeplink")))
	a.alerts = alert.NewCoordinator(host.Presenter, ac, log)
	a.notif = notifier.New(nc, host.Poster, log.With(logx.String("comp", "notifier")), a.bus, kv)
	a.sess = session.New(ssc, vault, kv, a.api, a.router, a.alerts, log)
	a.resolver = enrich.Default(a.store, a.api, ec, log,
		enrich.WithObserver(func(t enrich.Tier) { a.met.Enriched(t.String()) }))
	a.policy = display.NewPolicy(a.alerts, a.notif, a.routeFromAlert, log)
	a.push = push.New(a.api, a.sess, log)
	a.rt = realtime.New(rc, a.sess.Token, a.bus, log)
	a.badge = badge.New(a.api, a.store, a.bus, func() bool { return a.sess.Snapshot().Authenticated }, log)
	a.debug = debugsrv.New(dc, a.met.Registry, log)

	a.wire()
	return a, nil
}

func openVault(vc session.VaultConfig) (session.SecretVault, error) {
	if strings.EqualFold(vc.Backend, "memory") {
		return session.NewMemoryVault(), nil
	}
	v, err := session.OpenKeyring(vc)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return v, nil
}

// wire connects hooks and observers between components.
func (a *App) wire() {
	a.api.SetInspector(a.inspect)

	a.store.SetPersistObserver(func(k notification.Kind, err error) { a.met.Persisted(k.String(), err) })
	a.router.OnNavigate(a.met.Navigated)
	a.alerts.OnShow(func(c alert.Category) { a.met.AlertShown(string(c)) })
	a.alerts.OnDrop(func(c alert.Category) { a.met.AlertDropped(string(c)) })
	a.policy.OnDecision(func(d display.Decision) { a.met.Decided(d.String()) })

	a.sess.OnTeardown(func(ctx context.Context) {
		a.store.Clear()
		a.alerts.Clear()
		if err := a.rt.Disconnect(ctx); err != nil {
			a.log.Warn("realtime disconnect on teardown failed", logx.Err(err))
		}
	})
	a.sess.OnLogin(func(ctx context.Context, s session.State) {
		if err := a.push.RegisterCurrent(ctx); err != nil {
			a.log.Warn("push identity registration failed", logx.Err(err))
		}
		if a.realtimeOn.Load() && s.UserID != "" {
			if err := a.rt.Connect(ctx, s.UserID); err != nil {
				a.log.Warn("realtime connect failed", logx.Err(err))
			}
		}
	})
	a.sess.OnEpisode(func(ep session.Episode) {
		a.episodes.Add(1)
		a.met.Invalidated(ep.Reason, ep.Deregistered, ep.Duration)
		a.bus.Publish(eventbus.Event{Type: eventbus.SessionInvalidated, Time: time.Now(), Data: ep})
	})

	a.debug.SetHealth(a.health)
	a.debug.Snapshot("supervisor", func() any { return a.sup.Counters() })
	a.debug.Snapshot("notifier", func() any { return a.notif.Snapshot() })
	a.debug.Snapshot("session", func() any {
		s := a.sess.Snapshot()
		return map[string]any{
			"authenticated": s.Authenticated,
			"user_id":       s.UserID,
			"device_id":     s.DeviceID,
			"push_set":      s.PushIdentity != "",
		}
	})
	a.debug.Snapshot("store", func() any {
		p, g := a.store.Caps()
		return map[string]any{
			"personal":        a.store.Len(notification.KindPersonal),
			"personal_cap":    p,
			"personal_unread": a.store.UnreadCount(notification.KindPersonal),
			"global":          a.store.Len(notification.KindGlobal),
			"global_cap":      g,
			"global_unread":   a.store.UnreadCount(notification.KindGlobal),
			"badge":           a.badge.Count(),
			"realtime":        a.rt.Connected(),
			"alerts_pending":  a.alerts.Pending(),
		}
	})
}

// inspect sees every inspected backend response.
func (a *App) inspect(ctx context.Context, r backend.Response) {
	a.met.BackendResponse(routeTemplate(r.Path), r.StatusCode)
	a.OnAuthFailure(ctx, session.Response{StatusCode: r.StatusCode, Path: r.Path, Body: r.Body}, r.SuppressAlert)
}

// routeTemplate drops the query string to bound metric cardinality.
func routeTemplate(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func (a *App) health(ctx context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	_, err := a.kv.Get(ctx, "health.probe")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	if err := a.store.Load(ctx); err != nil {
		a.log.Warn("stored notifications not loaded", logx.Err(err))
	}
	a.sup.Go("store.persist", a.store.Run)

	if err := a.push.Start(c, a.events); err != nil {
		return err
	}
	if err := a.rt.Start(c, a.events); err != nil {
		return err
	}
	a.sup.Go("events.pump", a.pump)

	if a.notif.Enabled() {
		a.notif.Start(c)
	}
	cfg := a.cfgm.Get()
	if cfg.Badge.Enabled {
		if err := a.badge.Start(c, badgeSchedule(cfg)); err != nil {
			return err
		}
	}
	if a.debug.Enabled() {
		a.debug.Start(c)
	}

	a.startObserver()
	a.startPushBridge(cfg)
	a.startConfigReload()
	a.sup.Go("config.watch", a.cfgm.Watch)

	switch ok, err := a.sess.CheckStoredToken(ctx); {
	case errors.Is(err, session.ErrNoSession):
		a.log.Info("no stored session")
	case err != nil:
		a.log.Warn("stored session unreadable", logx.Err(err))
	case ok:
		a.log.Info("session restored", logx.String("user", a.sess.Snapshot().UserID))
	}

	a.log.Info("app started")
	return nil
}

// pump feeds adapter events through the pipeline in arrival order.
func (a *App) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.events:
			if _, err := a.HandleIncomingEvent(ctx, ev); err != nil && ctx.Err() == nil {
				a.log.Warn("incoming event not handled", logx.String("channel", string(ev.Channel)), logx.Err(err))
			}
		}
	}
}

// startObserver mirrors bus events into metrics and debug logs.
func (a *App) startObserver() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.observe", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.Type {
				case eventbus.RealtimeConnected:
					a.met.RealtimeConnected(true)
				case eventbus.RealtimeDisconnected, eventbus.RealtimeGaveUp:
					a.met.RealtimeConnected(false)
				case eventbus.UnreadCount:
					if n, ok := e.Data.(int); ok {
						a.met.Unread(n)
					}
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startPushBridge(cfg *config.Config) {
	r := a.host.PushInput
	if r == nil && cfg.Push.Enabled {
		src := strings.TrimSpace(cfg.Push.Source)
		switch src {
		case "", "stdin", "-":
			r = os.Stdin
		default:
			f, err := os.Open(src)
			if err != nil {
				a.log.Error("push source not opened", logx.String("source", src), logx.Err(err))
				return
			}
			r = f
			context.AfterFunc(a.sup.Context(), func() { _ = f.Close() })
		}
	}
	if r == nil {
		return
	}
	a.sup.Go0("push.bridge", func(c context.Context) {
		if err := a.push.Run(c, r); err != nil && c.Err() == nil {
			a.log.Error("push bridge stopped", logx.Err(err))
			return
		}
		a.log.Info("push bridge reached end of input")
	})
}

// Login starts a session; Logout ends it without an alert.
func (a *App) Login(ctx context.Context, token, userID string, profile json.RawMessage) error {
	return a.sess.Login(ctx, token, userID, profile)
}

func (a *App) Logout(ctx context.Context) { a.sess.Logout(backend.SuppressAuthAlert(ctx)) }

// MarkAllRead clears the unread count server-side, then locally.
func (a *App) MarkAllRead(ctx context.Context) error { return a.badge.MarkAllRead(ctx) }

// Dismiss closes the visible alert; confirmed runs its action.
func (a *App) Dismiss(id string, confirmed bool) error { return a.alerts.Dismiss(id, confirmed) }

func (a *App) Store() *notification.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Metrics() *metrics.Metrics { return a.met }

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown step so it cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("badge", 2*time.Second, func(c context.Context) error { a.badge.Stop(c); return nil })
	step("realtime", 2*time.Second, a.rt.Stop)
	step("push", time.Second, a.push.Stop)
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("alerts", time.Second, func(context.Context) error { a.alerts.Close(); return nil })
	// store.persist flushes on cancel; wait for it before closing storage.
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.kv.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_left", c.Active), logx.Uint64("goroutines_started", c.Started))
	return a.logs.Close()
}
