package badge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"lessonbell/internal/eventbus"
	"lessonbell/pkg/logx"
)

type fakeAPI struct {
	count   atomic.Int32
	polls   atomic.Int32
	markErr error
}

func (f *fakeAPI) UnreadCount(context.Context) (int, error) {
	f.polls.Add(1)
	return int(f.count.Load()), nil
}

func (f *fakeAPI) MarkAllRead(context.Context) error { return f.markErr }

type fakeStore struct{ marked int }

func (f *fakeStore) MarkAllRead() { f.marked++ }

func TestScheduledPollPublishes(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	api.count.Store(3)
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.UnreadCount)
	defer unsub()

	s := New(api, nil, bus, nil, logx.Nop())
	if err := s.Start(context.Background(), "@every 1s"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	select {
	case ev := <-ch:
		if ev.Data.(int) != 3 {
			t.Fatalf("count = %v", ev.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no unread count published")
	}
	if s.Count() != 3 {
		t.Fatalf("Count = %d", s.Count())
	}
}

func TestInactiveSkipsPoll(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	s := New(api, nil, nil, func() bool { return false }, logx.Nop())
	s.tick()
	if api.polls.Load() != 0 {
		t.Fatalf("polled without a session")
	}
}

func TestMarkAllRead(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	api.count.Store(5)
	st := &fakeStore{}
	s := New(api, st, nil, nil, logx.Nop())
	if _, err := s.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if err := s.MarkAllRead(context.Background()); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if st.marked != 1 || s.Count() != 0 {
		t.Fatalf("marked=%d count=%d", st.marked, s.Count())
	}

	api.markErr = errors.New("offline")
	if err := s.MarkAllRead(context.Background()); err == nil || st.marked != 1 {
		t.Fatalf("err=%v marked=%d", err, st.marked)
	}
}

func TestBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(&fakeAPI{}, nil, nil, nil, logx.Nop())
	if err := s.Start(context.Background(), "every tuesday"); err == nil {
		t.Fatalf("expected schedule error")
	}
	if err := s.Start(context.Background(), ""); err != nil {
		t.Fatalf("default schedule: %v", err)
	}
	if err := s.Reschedule("*/5 * * * *"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	s.Stop(context.Background())
}
