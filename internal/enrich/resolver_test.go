package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"lessonbell/internal/backend"
	"lessonbell/internal/notification"
	"lessonbell/pkg/logx"
)

type fakeStore []notification.Notification

func (f fakeStore) FindByExternalID(id string) []notification.Notification {
	var out []notification.Notification
	for _, n := range f {
		if n.ExternalID() == id || n.ID == id {
			out = append(out, n)
		}
	}
	return out
}

type fakeLister struct {
	calls atomic.Int32
	page  *backend.NotificationPage
	err   error
}

func (f *fakeLister) ListNotifications(ctx context.Context, page, limit int) (*backend.NotificationPage, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.page, f.err
}

func liveNote(kv ...string) notification.Notification {
	d := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		d[kv[i]] = kv[i+1]
	}
	return notification.Notification{ID: "push-1", Type: notification.TypeLiveLesson, Data: d}
}

func TestResolveFromStore(t *testing.T) {
	t.Parallel()
	store := fakeStore{{ID: "n1", Type: notification.TypeLiveLesson, Data: map[string]string{"lessonId": "L42"}}}
	api := &fakeLister{}
	r := Default(store, api, Config{SameTypeFallback: true}, logx.Nop())

	res, err := r.Resolve(context.Background(), liveNote("notificationId", "n1"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.URI != "learningsaint://lesson/live/L42" || res.Tier != TierStore || res.LessonID != "L42" {
		t.Fatalf("resolution = %+v", res)
	}
	if api.calls.Load() != 0 {
		t.Fatalf("backend called %d times, want 0", api.calls.Load())
	}
}

func TestResolveSubcourseFallback(t *testing.T) {
	t.Parallel()
	api := &fakeLister{page: &backend.NotificationPage{}}
	r := Default(fakeStore{}, api, Config{SameTypeFallback: true}, logx.Nop())

	res, err := r.Resolve(context.Background(), liveNote("notificationId", "n1", "subcourseId", "S9"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.URI != "learningsaint://enroll/S9" || res.Tier != TierSubcourse {
		t.Fatalf("resolution = %+v", res)
	}
	if api.calls.Load() != 1 {
		t.Fatalf("backend called %d times, want 1", api.calls.Load())
	}
}

func TestResolveRemoteExactBeatsHeuristic(t *testing.T) {
	t.Parallel()
	now := time.Now()
	api := &fakeLister{page: &backend.NotificationPage{Notifications: []backend.RemoteNotification{
		{ID: "other", Type: "live_lesson", LessonID: "L-newest", CreatedAt: now},
		{ID: "n1", Type: "live_lesson", LessonID: "L7", CreatedAt: now.Add(-time.Hour)},
	}}}
	r := Default(fakeStore{}, api, Config{SameTypeFallback: true}, logx.Nop())

	res, _ := r.Resolve(context.Background(), liveNote("notificationId", "n1"))
	if res.URI != "learningsaint://lesson/live/L7" || res.Tier != TierRemote {
		t.Fatalf("resolution = %+v", res)
	}
}

func TestResolveRemoteHeuristic(t *testing.T) {
	t.Parallel()
	now := time.Now()
	page := &backend.NotificationPage{Notifications: []backend.RemoteNotification{
		{ID: "a", Type: "lesson", LessonID: "L-wrong-type", CreatedAt: now},
		{ID: "b", Type: "lesson_live", LessonID: "L-old", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "c", Type: "live_lesson", Data: []byte(`{"lessonId":"L-new"}`), CreatedAt: now.Add(-time.Minute)},
	}}

	on := Default(fakeStore{}, &fakeLister{page: page}, Config{SameTypeFallback: true}, logx.Nop())
	res, _ := on.Resolve(context.Background(), liveNote("notificationId", "n1"))
	if res.URI != "learningsaint://lesson/live/L-new" || res.Tier != TierRemoteHeuristic {
		t.Fatalf("heuristic on: %+v", res)
	}

	off := Default(fakeStore{}, &fakeLister{page: page}, Config{SameTypeFallback: false}, logx.Nop())
	res, _ = off.Resolve(context.Background(), liveNote("notificationId", "n1"))
	if res.Tier != TierList || res.URI != "learningsaint://notification" {
		t.Fatalf("heuristic off: %+v", res)
	}
}

func TestResolveRemoteErrorFallsThrough(t *testing.T) {
	t.Parallel()
	api := &fakeLister{err: errors.New("503")}
	r := Default(fakeStore{}, api, Config{}, logx.Nop())
	res, err := r.Resolve(context.Background(), liveNote("subcourseId", "S1"))
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Tier != TierSubcourse {
		t.Fatalf("resolution = %+v", res)
	}
}

func TestResolveIdempotent(t *testing.T) {
	t.Parallel()
	api := &fakeLister{page: &backend.NotificationPage{Notifications: []backend.RemoteNotification{
		{ID: "x", NotificationID: "n2", Type: "live_lesson", LessonID: "L5"},
	}}}
	var tiers []Tier
	r := Default(fakeStore{}, api, Config{}, logx.Nop(), WithObserver(func(t Tier) { tiers = append(tiers, t) }))
	n := liveNote("notificationId", "n2")

	first, _ := r.Resolve(context.Background(), n)
	second, _ := r.Resolve(context.Background(), n)
	if first != second {
		t.Fatalf("first %+v != second %+v", first, second)
	}
	if n.Field(notification.KeyLessonID) != "" {
		t.Fatalf("input mutated: %v", n.Data)
	}
	if len(tiers) != 2 || tiers[0] != TierRemote {
		t.Fatalf("observed tiers = %v", tiers)
	}
	if got := Apply(n, first); got.Field(notification.KeyLessonID) != "L5" {
		t.Fatalf("Apply data = %v", got.Data)
	}
}

func TestResolveCompiledTypes(t *testing.T) {
	t.Parallel()
	api := &fakeLister{}
	r := Default(fakeStore{}, api, Config{SameTypeFallback: true}, logx.Nop())
	tests := []struct {
		n    notification.Notification
		want string
	}{
		{notification.Notification{Type: notification.TypeInternshipUpload, Data: map[string]string{"internshipLetterId": "IL1"}}, "learningsaint://notification"},
		{notification.Notification{Type: notification.TypeBuyCourse, Data: map[string]string{"courseId": "C1"}}, "learningsaint://enroll/C1"},
		{liveNote("lessonId", "L1"), "learningsaint://lesson/live/L1"},
	}
	for _, tt := range tests {
		res, err := r.Resolve(context.Background(), tt.n)
		if err != nil || res.URI != tt.want || res.Tier != TierCompiled {
			t.Fatalf("Resolve(%s) = %+v, %v; want %s compiled", tt.n.Type, res, err, tt.want)
		}
	}
	if api.calls.Load() != 0 {
		t.Fatalf("backend called for complete payloads")
	}
}

func TestResolveCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Default(fakeStore{}, &fakeLister{}, Config{}, logx.Nop())
	res, err := r.Resolve(ctx, liveNote("subcourseId", "S1"))
	if !errors.Is(err, context.Canceled) || res.Tier != TierList {
		t.Fatalf("got %+v, %v", res, err)
	}
}
