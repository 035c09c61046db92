// Package badge keeps the unread counter in sync with the backend on a cron
// schedule.
package badge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"lessonbell/internal/eventbus"
	"lessonbell/pkg/logx"
)

const DefaultSchedule = "@every 1m"

// API is the backend slice the syncer calls.
type API interface {
	UnreadCount(ctx context.Context) (int, error)
	MarkAllRead(ctx context.Context) error
}

// LocalStore is the notification store slice marked read after the backend.
type LocalStore interface {
	MarkAllRead()
}

// Syncer polls the unread count and publishes it on the bus.
type Syncer struct {
	api     API
	store   LocalStore
	bus     eventbus.Bus
	log     logx.Logger
	active  func() bool
	timeout time.Duration

	mu      sync.Mutex
	parser  cron.Parser
	c       *cron.Cron
	entry   cron.EntryID
	spec    string
	baseCtx context.Context

	count   atomic.Int64
	running atomic.Bool
}

// New builds a stopped syncer. active gates polling (no session, no poll);
// nil means always.
func New(api API, store LocalStore, bus eventbus.Bus, active func() bool, log logx.Logger) *Syncer {
	return &Syncer{
		api:     api,
		store:   store,
		bus:     bus,
		active:  active,
		timeout: 10 * time.Second,
		log:     log.With(logx.String("comp", "badge")),
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start schedules the poll. An empty spec uses DefaultSchedule.
func (s *Syncer) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	s.c = cron.New(cron.WithParser(s.parser))
	if err := s.scheduleLocked(spec); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	return nil
}

// Reschedule swaps the poll schedule on a running syncer.
func (s *Syncer) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	if spec == s.spec {
		return nil
	}
	old := s.entry
	if err := s.scheduleLocked(spec); err != nil {
		return err
	}
	s.c.Remove(old)
	s.log.Info("badge schedule changed", logx.String("spec", spec))
	return nil
}

func (s *Syncer) scheduleLocked(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("badge: bad schedule %q: %w", spec, err)
	}
	s.entry = s.c.Schedule(sched, cron.FuncJob(s.tick))
	s.spec = spec
	return nil
}

// Stop halts the schedule and waits for a running poll.
func (s *Syncer) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Count is the last known unread count.
func (s *Syncer) Count() int { return int(s.count.Load()) }

func (s *Syncer) tick() {
	if s.active != nil && !s.active() {
		return
	}
	// A slow backend must not stack polls.
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.SyncNow(ctx); err != nil {
		s.log.Debug("unread count poll failed", logx.Err(err))
	}
}

// SyncNow fetches the count once and publishes it.
func (s *Syncer) SyncNow(ctx context.Context) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.api.UnreadCount(cctx)
	if err != nil {
		return 0, fmt.Errorf("badge.SyncNow: %w", err)
	}
	s.set(n)
	return n, nil
}

// MarkAllRead clears the counter server-side, then locally.
func (s *Syncer) MarkAllRead(ctx context.Context) error {
	if err := s.api.MarkAllRead(ctx); err != nil {
		return fmt.Errorf("badge.MarkAllRead: %w", err)
	}
	if s.store != nil {
		s.store.MarkAllRead()
	}
	s.set(0)
	return nil
}

func (s *Syncer) set(n int) {
	prev := s.count.Swap(int64(n))
	if prev == int64(n) || s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.UnreadCount, Time: time.Now(), Data: n})
}
