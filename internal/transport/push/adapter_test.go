package push

import (
	"context"
	"strings"
	"sync"
	"testing"

	"lessonbell/internal/backend"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

type fakeIdentity struct {
	mu    sync.Mutex
	token string
	push  string
}

func (f *fakeIdentity) Token() string { f.mu.Lock(); defer f.mu.Unlock(); return f.token }
func (f *fakeIdentity) DeviceID(context.Context) string { return "dev-1" }
func (f *fakeIdentity) SetPushIdentity(t string) { f.mu.Lock(); f.push = t; f.mu.Unlock() }

type fakeRegistrar struct {
	mu  sync.Mutex
	ids []backend.PushIdentity
}

func (f *fakeRegistrar) RegisterPushIdentity(_ context.Context, id backend.PushIdentity) error {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	return nil
}

func TestRunForwardsEnvelopesAndTokens(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistrar{}
	id := &fakeIdentity{token: "session"}
	a := New(reg, id, logx.Nop())
	out := make(chan transport.RawEvent, 4)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatalf("Start: %v", err)
	}

	input := strings.Join([]string{
		`{"notification":{"title":"Live"},"data":{"type":"lesson_live","lessonId":"L1"}}`,
		``,
		`{"fcmToken":"fcm-9"}`,
		`not json at all`,
	}, "\n")
	if err := a.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(out)

	var got []transport.RawEvent
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Channel != transport.ChannelPush || string(got[1].Payload) != "not json at all" {
		t.Fatalf("events = %+v", got)
	}
	if len(reg.ids) != 1 || reg.ids[0] != (backend.PushIdentity{FCMToken: "fcm-9", DeviceID: "dev-1"}) {
		t.Fatalf("registrations = %+v", reg.ids)
	}
	if id.push != "fcm-9" {
		t.Fatalf("identity push token = %q", id.push)
	}
}

func TestRegistrationDeferredWithoutSession(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistrar{}
	id := &fakeIdentity{}
	a := New(reg, id, logx.Nop())

	if err := a.RegisterIdentity(context.Background(), "fcm-1"); err != nil {
		t.Fatalf("RegisterIdentity: %v", err)
	}
	if len(reg.ids) != 0 {
		t.Fatalf("registered without a session")
	}
	id.mu.Lock()
	id.token = "session"
	id.mu.Unlock()
	if err := a.RegisterCurrent(context.Background()); err != nil {
		t.Fatalf("RegisterCurrent: %v", err)
	}
	if err := a.RefreshIdentity(context.Background(), "fcm-1"); err != nil {
		t.Fatalf("RefreshIdentity: %v", err)
	}
	if len(reg.ids) != 1 {
		t.Fatalf("registrations = %+v", reg.ids)
	}
}

func TestDeliverBeforeStart(t *testing.T) {
	t.Parallel()
	a := New(nil, &fakeIdentity{}, logx.Nop())
	if err := a.Deliver(context.Background(), []byte(`{}`)); err != ErrNotStarted {
		t.Fatalf("err = %v", err)
	}
}
