package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"lessonbell/pkg/logx"
)

var ErrUnknownAlert = errors.New("alert: not the active alert")

// Presenter renders alerts. Calls are serialized in state-transition order.
// A presenter must not call back into the Coordinator from Show or Hide.
type Presenter interface {
	Show(a Alert)
	Hide(id string)
}

type state int

const (
	stateIdle state = iota
	stateShowing
	stateHiding
)

func (s state) String() string {
	switch s {
	case stateShowing:
		return "showing"
	case stateHiding:
		return "hiding"
	default:
		return "idle"
	}
}

// Config bounds the queue and sets the hide animation delay.
type Config struct {
	QueueSize int
	HideDelay time.Duration
}

// Coordinator enforces the single visible alert.
type Coordinator struct {
	presenter Presenter
	log       logx.Logger
	presentMu sync.Mutex // held across presenter calls, acquired under mu

	mu     sync.Mutex
	cfg    Config
	state  state
	active Alert
	queue  []Alert
	timer  *time.Timer
	closed bool
	onShow func(Category)
	onDrop func(Category)
}

// NewCoordinator builds a coordinator. Defaults: queue of 8, 300ms hide delay.
func NewCoordinator(p Presenter, cfg Config, log logx.Logger) *Coordinator {
	c := &Coordinator{presenter: p, log: log.With(logx.String("comp", "alert"))}
	c.Apply(cfg)
	return c
}

// Apply swaps in new limits. A shrunken queue keeps its newest entries.
func (c *Coordinator) Apply(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.HideDelay <= 0 {
		cfg.HideDelay = 300 * time.Millisecond
	}
	c.mu.Lock()
	c.cfg = cfg
	var dropped []Alert
	if over := len(c.queue) - cfg.QueueSize; over > 0 {
		dropped = append(dropped, c.queue[:over]...)
		c.queue = append([]Alert(nil), c.queue[over:]...)
	}
	onDrop := c.onDrop
	c.mu.Unlock()
	for _, a := range dropped {
		c.logDrop(a, onDrop)
	}
}

// OnShow and OnDrop install counter hooks.
func (c *Coordinator) OnShow(fn func(Category)) { c.mu.Lock(); c.onShow = fn; c.mu.Unlock() }
func (c *Coordinator) OnDrop(fn func(Category)) { c.mu.Lock(); c.onDrop = fn; c.mu.Unlock() }

// Request shows a immediately when idle, otherwise queues it. It returns the
// alert's ID, generating one when a has none.
func (c *Coordinator) Request(a Alert) string {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return a.ID
	}
	if c.state == stateIdle {
		c.state = stateShowing
		c.active = a
		onShow := c.onShow
		c.presentMu.Lock()
		c.mu.Unlock()
		c.show(a, onShow)
		c.presentMu.Unlock()
		return a.ID
	}

	var dropped *Alert
	if len(c.queue) >= c.cfg.QueueSize {
		d := c.queue[0]
		dropped = &d
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, a)
	onDrop := c.onDrop
	st := c.state
	c.mu.Unlock()

	c.log.Debug("alert queued", logx.String("id", a.ID), logx.String("state", st.String()))
	if dropped != nil {
		c.logDrop(*dropped, onDrop)
	}
	return a.ID
}

// Dismiss closes the active alert, runs the chosen action and, after the
// hide delay, shows the next queued alert.
func (c *Coordinator) Dismiss(id string, confirmed bool) error {
	c.mu.Lock()
	if c.state != stateShowing || c.active.ID != id {
		c.mu.Unlock()
		return fmt.Errorf("alert.Dismiss %q: %w", id, ErrUnknownAlert)
	}
	a := c.active
	c.active = Alert{}
	c.state = stateHiding
	c.timer = time.AfterFunc(c.cfg.HideDelay, c.advance)
	c.presentMu.Lock()
	c.mu.Unlock()
	c.presenter.Hide(id)
	c.presentMu.Unlock()

	action := a.OnCancel
	if confirmed {
		action = a.OnConfirm
	}
	if action != nil {
		c.run(a.ID, action)
	}
	return nil
}

// Active returns the visible alert, if any.
func (c *Coordinator) Active() (Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.state == stateShowing
}

// Pending returns the number of queued alerts.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Clear drops queued alerts and hides the visible one without running its
// actions. Used on logout.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	id := ""
	if c.state == stateShowing {
		id = c.active.ID
	}
	c.queue = nil
	c.active = Alert{}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = stateIdle
	c.presentMu.Lock()
	c.mu.Unlock()
	if id != "" {
		c.presenter.Hide(id)
	}
	c.presentMu.Unlock()
}

// Close clears the coordinator and ignores later requests.
func (c *Coordinator) Close() {
	c.Clear()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Coordinator) advance() {
	c.mu.Lock()
	if c.state != stateHiding || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if len(c.queue) == 0 {
		c.state = stateIdle
		c.mu.Unlock()
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.state = stateShowing
	c.active = next
	onShow := c.onShow
	c.presentMu.Lock()
	c.mu.Unlock()
	c.show(next, onShow)
	c.presentMu.Unlock()
}

func (c *Coordinator) show(a Alert, onShow func(Category)) {
	c.log.Debug("alert shown", logx.String("id", a.ID), logx.String("category", string(a.Category)))
	if onShow != nil {
		onShow(a.Category)
	}
	c.presenter.Show(a)
}

func (c *Coordinator) logDrop(a Alert, onDrop func(Category)) {
	c.log.Warn("alert queue full, dropped oldest", logx.String("id", a.ID), logx.String("category", string(a.Category)))
	if onDrop != nil {
		onDrop(a.Category)
	}
}

func (c *Coordinator) run(id string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("alert action panicked", logx.String("id", id), logx.Any("panic", p))
		}
	}()
	fn()
}
