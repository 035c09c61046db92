package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestListNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathListNotifications {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("page") != "1" || r.URL.Query().Get("limit") != "20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"data":{"notifications":[{"_id":"n1","type":"lesson_live","data":{"lessonId":"L42"}}],"total":1,"page":1}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, func() string { return "tok" })
	p, err := c.ListNotifications(context.Background(), 1, 20)
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if len(p.Notifications) != 1 {
		t.Fatalf("got %d notifications", len(p.Notifications))
	}
	if got := p.Notifications[0].Field("lessonId"); got != "L42" {
		t.Errorf("lessonId = %q, want L42", got)
	}
}

func TestListNotificationsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"data":[{"_id":"a"},{"_id":"b","lessonId":"L1"}]}`))
	}))
	defer srv.Close()

	p, err := New(Config{BaseURL: srv.URL}, nil).ListNotifications(context.Background(), 2, 5)
	if err != nil {
		t.Fatalf("ListNotifications() error: %v", err)
	}
	if len(p.Notifications) != 2 || p.Page != 2 {
		t.Fatalf("page = %+v", p)
	}
	if got := p.Notifications[1].Field("lessonId"); got != "L1" {
		t.Errorf("top-level lessonId = %q", got)
	}
}

func TestInspectorSeesEveryResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "jwt expired"})
	}))
	defer srv.Close()

	var mu sync.Mutex
	var seen []Response
	c := New(Config{BaseURL: srv.URL}, nil)
	c.SetInspector(func(_ context.Context, r Response) {
		mu.Lock()
		seen = append(seen, r)
		mu.Unlock()
	})

	_, err := c.UnreadCount(context.Background())
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("err = %v, want 401", err)
	}
	if !strings.Contains(err.Error(), "jwt expired") {
		t.Errorf("error = %q, want backend message", err.Error())
	}
	_ = c.MarkAllRead(SuppressAuthAlert(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("inspector calls = %d, want 2", len(seen))
	}
	if seen[0].SuppressAlert || !seen[1].SuppressAlert {
		t.Fatalf("suppress flags = %v,%v", seen[0].SuppressAlert, seen[1].SuppressAlert)
	}
	if seen[1].Path != PathReadAll || seen[1].Method != http.MethodPatch {
		t.Fatalf("second response = %s %s", seen[1].Method, seen[1].Path)
	}
}

func TestDeregisterPushIdentity(t *testing.T) {
	var mu sync.Mutex
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		mu.Unlock()
		var body PushIdentity
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.FCMToken != "fcm" || body.DeviceID != "dev" {
			t.Errorf("body = %+v", body)
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	inspected := false
	c.SetInspector(func(context.Context, Response) { inspected = true })

	id := PushIdentity{FCMToken: "fcm", DeviceID: "dev"}
	if err := c.DeregisterPushIdentity(context.Background(), id, "stale"); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("with auth err = %v, want 401", err)
	}
	if err := c.DeregisterPushIdentity(context.Background(), id, ""); err != nil {
		t.Fatalf("without auth err = %v, want 404 treated as success", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotAuth[0] != "Bearer stale" || gotAuth[1] != "" {
		t.Fatalf("auth headers = %q", gotAuth)
	}
	if inspected {
		t.Fatal("deregistration responses must not reach the inspector")
	}
}

func TestSuccessFalseIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"nope"}`))
	}))
	defer srv.Close()

	if _, err := New(Config{BaseURL: srv.URL}, nil).UnreadCount(context.Background()); err == nil {
		t.Fatal("expected error for success=false")
	}
}
