package display

import (
	"context"
	"testing"

	"lessonbell/internal/alert"
	"lessonbell/internal/notification"
	"lessonbell/internal/notifier"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

type alertSpy struct{ got []alert.Alert }

func (a *alertSpy) Request(al alert.Alert) string { a.got = append(a.got, al); return al.ID }

type systemSpy struct {
	err error
	got []notifier.Message
}

func (s *systemSpy) Notify(_ context.Context, m notifier.Message) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, m)
	return nil
}

func TestEvaluateByLifecycle(t *testing.T) {
	t.Parallel()
	live := notification.Notification{ID: "n1", Type: notification.TypeLiveLesson, Title: "Live", Channel: transport.ChannelRealtime}
	push := live
	push.Channel = transport.ChannelPush

	tests := []struct {
		name      string
		lifecycle Lifecycle
		n         notification.Notification
		sysErr    error
		want      Decision
		alerts    int
		system    int
	}{
		{"foreground realtime", Foreground, live, nil, DecisionInApp, 1, 0},
		{"foreground push", Foreground, push, nil, DecisionInApp, 1, 0},
		{"background realtime", Background, live, nil, DecisionSystem, 0, 1},
		{"inactive realtime", Inactive, live, nil, DecisionSystem, 0, 1},
		{"background push left to os", Background, push, nil, DecisionNone, 0, 0},
		{"background rate limited", Background, live, notifier.ErrRateLimited, DecisionDropped, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			as, ss := &alertSpy{}, &systemSpy{err: tt.sysErr}
			p := NewPolicy(as, ss, nil, logx.Nop())
			p.SetLifecycle(tt.lifecycle)
			if got := p.Evaluate(context.Background(), tt.n, "learningsaint://notification"); got != tt.want {
				t.Fatalf("decision = %s, want %s", got, tt.want)
			}
			if len(as.got) != tt.alerts || len(ss.got) != tt.system {
				t.Fatalf("alerts=%d system=%d", len(as.got), len(ss.got))
			}
		})
	}
}

func TestForegroundConfirmRoutes(t *testing.T) {
	t.Parallel()
	as := &alertSpy{}
	var routed []string
	p := NewPolicy(as, nil, func(n notification.Notification) { routed = append(routed, n.ID) }, logx.Nop())

	p.Evaluate(context.Background(), notification.Notification{ID: "c1", Type: notification.TypeBuyCourse}, "")
	if len(as.got) != 1 || as.got[0].Confirm != "View Course" {
		t.Fatalf("alert = %+v", as.got)
	}
	as.got[0].OnConfirm()
	if len(routed) != 1 || routed[0] != "c1" {
		t.Fatalf("routed = %v", routed)
	}
}

func TestParseLifecycle(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Lifecycle{"active": Foreground, "Background": Background, " inactive ": Inactive} {
		got, err := ParseLifecycle(in)
		if err != nil || got != want {
			t.Fatalf("ParseLifecycle(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLifecycle("sleeping"); err == nil {
		t.Fatalf("expected error")
	}
}
