// Package realtime keeps a websocket connection to the realtime bus while a
// session exists and forwards subscribed events as RawEvents.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"lessonbell/internal/eventbus"
	rtsup "lessonbell/internal/runtime/supervisor"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

var ErrNotStarted = errors.New("realtime adapter not started")

// Events is the fixed subscription set.
var Events = []string{
	"live_lesson",
	"lesson_started",
	"buy_course",
	"course_unlocked",
	"request_internship_letter",
	"upload_internship_letter",
	"global_notification",
}

// Config controls the connection and its reconnect policy.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	MaxRetries   int
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	return c
}

// frame is the wire shape in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Adapter is the realtime channel.
type Adapter struct {
	log   logx.Logger
	bus   eventbus.Bus
	token func() string

	subscribed map[string]struct{}
	connected  atomic.Bool

	mu     sync.Mutex
	cfg    Config
	parent context.Context
	out    chan<- transport.RawEvent
	sup    *rtsup.Supervisor
	userID string
}

var _ transport.Adapter = (*Adapter)(nil)

// New builds an idle adapter. token supplies the bearer credential for the
// handshake and may be nil.
func New(cfg Config, token func() string, bus eventbus.Bus, log logx.Logger) *Adapter {
	subs := make(map[string]struct{}, len(Events))
	for _, e := range Events {
		subs[e] = struct{}{}
	}
	return &Adapter{
		cfg:        cfg.withDefaults(),
		token:      token,
		bus:        bus,
		log:        log.With(logx.String("comp", "realtime")),
		subscribed: subs,
	}
}

// Start records where events go. It does not connect; see Connect.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.RawEvent) error {
	a.mu.Lock()
	a.parent = ctx
	a.out = out
	a.mu.Unlock()
	return nil
}

// Stop disconnects and waits for the connection loop to exit.
func (a *Adapter) Stop(ctx context.Context) error { return a.Disconnect(ctx) }

// Apply swaps connection settings; they take effect on the next Connect.
func (a *Adapter) Apply(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg.withDefaults()
	a.mu.Unlock()
}

// Connected reports whether a connection is currently open.
func (a *Adapter) Connected() bool { return a.connected.Load() }

// Connect starts the reconnecting loop for userID. Calling it while a loop
// runs for the same user is a no-op; a different user replaces the loop.
func (a *Adapter) Connect(ctx context.Context, userID string) error {
	a.mu.Lock()
	if a.out == nil {
		a.mu.Unlock()
		return ErrNotStarted
	}
	if a.sup != nil && a.userID == userID && a.sup.Context().Err() == nil {
		a.mu.Unlock()
		return nil
	}
	old := a.sup
	a.sup = nil
	a.mu.Unlock()
	if old != nil {
		if err := old.Stop(ctx); err != nil {
			return fmt.Errorf("realtime.Connect: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	cfg := a.cfg
	out := a.out
	parent := a.parent
	if parent == nil {
		parent = context.Background()
	}
	a.userID = userID
	a.sup = rtsup.New(parent, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(false))
	a.sup.GoRestart("realtime.conn", func(c context.Context) error {
		return a.session(c, cfg, userID, out)
	},
		rtsup.WithRestartBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		rtsup.WithMaxRestarts(cfg.MaxRetries),
		rtsup.WithStopOnCleanExit(false),
		rtsup.WithRestartHook(func(restarts int, err error) {
			a.log.Info("realtime reconnecting", logx.Int("attempt", restarts), logx.Err(err))
		}),
		rtsup.WithGiveUpHook(func(err error) {
			a.publish(eventbus.RealtimeGaveUp, err)
		}),
	)
	return nil
}

// Disconnect cancels the reconnect loop and waits for it. No goroutine
// survives a successful return.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.userID = ""
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("realtime.Disconnect: %w", err)
	}
	a.log.Info("realtime disconnected")
	return nil
}

// session runs one connection until it drops.
func (a *Adapter) session(ctx context.Context, cfg Config, userID string, out chan<- transport.RawEvent) error {
	header := http.Header{}
	if a.token != nil {
		if tok := a.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment}
	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	conn, resp, err := dialer.DialContext(dctx, cfg.URL, header)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close() //nolint:errcheck // best-effort close

	var wmu sync.Mutex
	write := func(f frame) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(cfg.DialTimeout))
		return conn.WriteJSON(f)
	}

	uid, _ := json.Marshal(userID)
	if err := write(frame{Event: "join", Data: uid}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	a.connected.Store(true)
	a.publish(eventbus.RealtimeConnected, nil)
	a.log.Info("realtime connected", logx.String("user", userID))
	defer func() {
		a.connected.Store(false)
		a.publish(eventbus.RealtimeDisconnected, nil)
	}()

	readWait := 2 * cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	// Closing the connection unblocks ReadJSON on cancel; the ticker keeps
	// the peer's idle timer fed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(cfg.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				wmu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				wmu.Unlock()
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.DialTimeout))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				a.log.Debug("realtime frame skipped", logx.Err(err))
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if _, ok := a.subscribed[f.Event]; !ok {
			a.log.Debug("realtime event ignored", logx.String("event", f.Event))
			continue
		}
		ev := transport.RawEvent{
			Channel:    transport.ChannelRealtime,
			Name:       f.Event,
			Payload:    f.Data,
			ReceivedAt: time.Now(),
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Adapter) publish(typ string, err error) {
	if a.bus == nil {
		return
	}
	var data any
	if err != nil {
		data = err.Error()
	}
	a.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}
