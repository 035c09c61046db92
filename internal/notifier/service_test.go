package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lessonbell/internal/eventbus"
	"lessonbell/internal/storage"
	"lessonbell/pkg/logx"
)

type countingPoster struct {
	mu       sync.Mutex
	failures int // fail this many posts first
	posted   []Message
	attempts int
}

func (p *countingPoster) Post(_ context.Context, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.failures > 0 {
		p.failures--
		return errors.New("surface busy")
	}
	p.posted = append(p.posted, m)
	return nil
}

func (p *countingPoster) count() (posted, attempts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posted), p.attempts
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func startService(t *testing.T, cfg Config, p Poster, bus eventbus.Bus, st storage.Store) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, p, logx.Nop(), bus, st)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestRetryThenSent(t *testing.T) {
	t.Parallel()
	p := &countingPoster{failures: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, EventSent)
	defer unsub()
	s := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, p, bus, nil)

	if err := s.Notify(context.Background(), Message{ID: "n1", Title: "Live now"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatalf("no sent event")
	}
	if posted, attempts := p.count(); posted != 1 || attempts != 3 {
		t.Fatalf("posted=%d attempts=%d", posted, attempts)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].ID != "n1" {
		t.Fatalf("history = %+v", h)
	}
}

func TestRateLimitDrops(t *testing.T) {
	t.Parallel()
	p := &countingPoster{}
	s := startService(t, Config{RatePerSec: 1}, p, nil, nil)

	if err := s.Notify(context.Background(), Message{ID: "a", Title: "a"}); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := s.Notify(context.Background(), Message{ID: "b", Title: "b"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second Notify err = %v, want ErrRateLimited", err)
	}
	waitUntil(t, func() bool { n, _ := p.count(); return n == 1 })
}

func TestDedupWindowPersists(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	p := &countingPoster{}
	cfg := Config{RatePerSec: 10, DedupWindow: time.Hour, PersistDedup: true}
	s := startService(t, cfg, p, nil, st)

	m := Message{ID: "x", Category: "lesson", Title: "Lesson", Body: "starts"}
	_ = s.Notify(context.Background(), m)
	_ = s.Notify(context.Background(), m)
	waitUntil(t, func() bool { n, _ := p.count(); return n == 1 })

	// A fresh service sharing the store still suppresses the duplicate.
	waitUntil(t, func() bool {
		_, err := st.Get(context.Background(), dedupKeyPrefix+dedupKey(m))
		return err == nil
	})
	p2 := &countingPoster{}
	s2 := startService(t, cfg, p2, nil, st)
	if err := s2.Notify(context.Background(), m); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	_ = s2.Notify(context.Background(), Message{ID: "y", Title: "other"})
	waitUntil(t, func() bool { n, _ := p2.count(); return n == 1 })
	if p2.posted[0].ID != "y" {
		t.Fatalf("posted %+v", p2.posted)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	disabled := New(Config{}, &countingPoster{}, logx.Nop(), nil, nil)
	if err := disabled.Notify(context.Background(), Message{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	stopped := New(Config{Enabled: true}, &countingPoster{}, logx.Nop(), nil, nil)
	if err := stopped.Notify(context.Background(), Message{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
}
