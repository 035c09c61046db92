package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lessonbell/internal/eventbus"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

func TestForwardsSubscribedEvents(t *testing.T) {
	t.Parallel()
	joined := make(chan frame, 1)
	auth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		joined <- f
		_ = conn.WriteJSON(frame{Event: "live_lesson", Data: json.RawMessage(`{"lessonId":"L1"}`)})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = conn.WriteJSON(frame{Event: "typing", Data: json.RawMessage(`{}`)})
		_ = conn.WriteJSON(frame{Event: "global_notification", Data: json.RawMessage(`{"message":"hi"}`)})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.RealtimeConnected)
	defer unsub()
	a := New(Config{URL: wsURL(srv), MinBackoff: time.Millisecond}, func() string { return "tok" }, bus, logx.Nop())
	out := make(chan transport.RawEvent, 8)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got := <-auth; got != "Bearer tok" {
		t.Fatalf("auth header = %q", got)
	}
	if f := <-joined; f.Event != "join" || string(f.Data) != `"u1"` {
		t.Fatalf("join frame = %+v", f)
	}
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatalf("no connected event")
	}

	var names []string
	for len(names) < 2 {
		select {
		case ev := <-out:
			if ev.Channel != transport.ChannelRealtime {
				t.Fatalf("channel = %s", ev.Channel)
			}
			names = append(names, ev.Name)
		case <-time.After(2 * time.Second):
			t.Fatalf("events so far: %v", names)
		}
	}
	if names[0] != "live_lesson" || names[1] != "global_notification" {
		t.Fatalf("names = %v", names)
	}
	if !a.Connected() {
		t.Fatalf("not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if a.Connected() {
		t.Fatalf("still connected after Disconnect")
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	bus := eventbus.New()
	gaveUp, unsub := bus.Subscribe(1, eventbus.RealtimeGaveUp)
	defer unsub()
	a := New(Config{URL: wsURL(srv), MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MaxRetries: 2}, nil, bus, logx.Nop())
	if err := a.Start(context.Background(), make(chan transport.RawEvent)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Connect(context.Background(), "u1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-gaveUp:
	case <-time.After(3 * time.Second):
		t.Fatalf("no give-up event")
	}
	_ = a.Disconnect(context.Background())
}

func TestConnectRequiresStart(t *testing.T) {
	t.Parallel()
	a := New(Config{URL: "ws://127.0.0.1:1"}, nil, nil, logx.Nop())
	if err := a.Connect(context.Background(), "u1"); err != ErrNotStarted {
		t.Fatalf("err = %v", err)
	}
	if err := a.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect idle: %v", err)
	}
}
