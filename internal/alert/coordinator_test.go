package alert

import (
	"errors"
	"sync"
	"testing"
	"time"

	"lessonbell/internal/notification"
	"lessonbell/pkg/logx"
)

type recorder struct {
	mu      sync.Mutex
	visible map[string]bool
	maxSeen int
	shown   []string
}

func newRecorder() *recorder { return &recorder{visible: map[string]bool{}} }

func (r *recorder) Show(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visible[a.ID] = true
	r.shown = append(r.shown, a.ID)
	if len(r.visible) > r.maxSeen {
		r.maxSeen = len(r.visible)
	}
}

func (r *recorder) Hide(id string) {
	r.mu.Lock()
	delete(r.visible, id)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (shown []string, maxSeen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.shown...), r.maxSeen
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestBackToBackRequestsNeverStack(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	c := NewCoordinator(rec, Config{HideDelay: time.Millisecond}, logx.Nop())
	defer c.Close()

	c.Request(Alert{ID: "a"})
	c.Request(Alert{ID: "b"})

	if a, ok := c.Active(); !ok || a.ID != "a" {
		t.Fatalf("active = %+v %v, want a", a, ok)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}
	if err := c.Dismiss("a", false); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	waitFor(t, func() bool { a, ok := c.Active(); return ok && a.ID == "b" })

	shown, maxSeen := rec.snapshot()
	if maxSeen != 1 {
		t.Fatalf("max simultaneously visible = %d", maxSeen)
	}
	if len(shown) != 2 || shown[0] != "a" || shown[1] != "b" {
		t.Fatalf("shown = %v", shown)
	}
}

func TestConcurrentRequestsOneVisible(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	c := NewCoordinator(rec, Config{QueueSize: 64, HideDelay: time.Millisecond}, logx.Nop())
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Request(Alert{})
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		var a Alert
		waitFor(t, func() bool { var ok bool; a, ok = c.Active(); return ok })
		if err := c.Dismiss(a.ID, true); err != nil {
			t.Fatalf("Dismiss: %v", err)
		}
	}
	if _, maxSeen := rec.snapshot(); maxSeen != 1 {
		t.Fatalf("max simultaneously visible = %d", maxSeen)
	}
}

func TestQueueDropsOldest(t *testing.T) {
	t.Parallel()
	var dropped []Category
	c := NewCoordinator(newRecorder(), Config{QueueSize: 2}, logx.Nop())
	defer c.Close()
	c.OnDrop(func(cat Category) { dropped = append(dropped, cat) })

	c.Request(Alert{ID: "visible"})
	c.Request(Alert{ID: "q1", Category: CategoryLesson})
	c.Request(Alert{ID: "q2"})
	c.Request(Alert{ID: "q3"})

	if c.Pending() != 2 {
		t.Fatalf("pending = %d", c.Pending())
	}
	if len(dropped) != 1 || dropped[0] != CategoryLesson {
		t.Fatalf("dropped = %v", dropped)
	}
	if a, _ := c.Active(); a.ID != "visible" {
		t.Fatalf("visible alert replaced: %s", a.ID)
	}
}

func TestDismissRunsAction(t *testing.T) {
	t.Parallel()
	c := NewCoordinator(newRecorder(), Config{}, logx.Nop())
	defer c.Close()

	var confirmed, canceled int
	id := c.Request(Alert{OnConfirm: func() { confirmed++ }, OnCancel: func() { canceled++ }})
	if err := c.Dismiss("someone-else", true); !errors.Is(err, ErrUnknownAlert) {
		t.Fatalf("err = %v", err)
	}
	if err := c.Dismiss(id, true); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if err := c.Dismiss(id, true); !errors.Is(err, ErrUnknownAlert) {
		t.Fatalf("second dismiss err = %v", err)
	}
	if confirmed != 1 || canceled != 0 {
		t.Fatalf("confirmed=%d canceled=%d", confirmed, canceled)
	}
}

func TestPanickingActionIsContained(t *testing.T) {
	t.Parallel()
	c := NewCoordinator(newRecorder(), Config{HideDelay: time.Millisecond}, logx.Nop())
	defer c.Close()
	id := c.Request(Alert{OnConfirm: func() { panic("boom") }})
	if err := c.Dismiss(id, true); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	c.Request(Alert{ID: "next"})
	waitFor(t, func() bool { a, ok := c.Active(); return ok && a.ID == "next" })
}

func TestClear(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	c := NewCoordinator(rec, Config{}, logx.Nop())
	c.Request(Alert{ID: "a"})
	c.Request(Alert{ID: "b"})
	c.Clear()
	if _, ok := c.Active(); ok || c.Pending() != 0 {
		t.Fatalf("not cleared")
	}
	rec.mu.Lock()
	n := len(rec.visible)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("presenter still shows %d alerts", n)
	}
	c.Close()
	c.Request(Alert{ID: "late"})
	if _, ok := c.Active(); ok {
		t.Fatalf("closed coordinator showed an alert")
	}
}

func TestForNotificationDescriptors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		typ     notification.Type
		icon    string
		confirm string
	}{
		{notification.TypeLiveLesson, "🎓", "Start Learning"},
		{notification.TypeBuyCourse, "📚", "View Course"},
		{notification.TypeInternshipLetter, "💼", "View Details"},
		{notification.TypeGlobalAnnouncement, "🌍", "View"},
		{notification.TypeGeneral, "🌍", "View"},
	}
	for _, tt := range tests {
		a := ForNotification(notification.Notification{ID: "n", Type: tt.typ}, nil)
		if a.Icon != tt.icon || a.Confirm != tt.confirm {
			t.Fatalf("%s: icon=%q confirm=%q", tt.typ, a.Icon, a.Confirm)
		}
	}
	if s := SessionExpired(nil); s.Cancel != "" || s.Confirm != "OK" || s.Title != "Session Expired" {
		t.Fatalf("session alert = %+v", s)
	}
}
