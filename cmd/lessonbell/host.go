package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"lessonbell/internal/alert"
	"lessonbell/internal/deeplink"
	"lessonbell/internal/notifier"
)

// jsonLines writes one JSON object per line. It is the headless stand-in
// for the UI and the OS notification center.
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONLines(w io.Writer) *jsonLines { return &jsonLines{enc: json.NewEncoder(w)} }

func (j *jsonLines) write(kind string, v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(map[string]any{"kind": kind, "time": time.Now().UTC(), "data": v})
}

func (j *jsonLines) poster() notifier.Poster {
	return notifier.PosterFunc(func(_ context.Context, m notifier.Message) error {
		return j.write("system_notification", m)
	})
}

// headlessNavigator is always ready and records the current route.
type headlessNavigator struct {
	out *jsonLines

	mu    sync.Mutex
	route string
}

func newHeadlessNavigator(out *jsonLines) *headlessNavigator {
	return &headlessNavigator{out: out, route: deeplink.RouteHome}
}

func (n *headlessNavigator) IsReady() bool { return true }

func (n *headlessNavigator) Navigate(route string, params map[string]string) error {
	n.mu.Lock()
	n.route = route
	n.mu.Unlock()
	return n.out.write("navigate", map[string]any{"route": route, "params": params})
}

func (n *headlessNavigator) Reset(routes ...string) error {
	if len(routes) == 0 {
		return nil
	}
	n.mu.Lock()
	n.route = routes[len(routes)-1]
	n.mu.Unlock()
	return n.out.write("reset", map[string]any{"routes": routes})
}

func (n *headlessNavigator) CurrentRoute() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

// autoPresenter prints each alert and cancels it, so the queue drains
// without a user.
type autoPresenter struct {
	out     *jsonLines
	dismiss func(id string, confirmed bool) error
}

func newAutoPresenter(out *jsonLines) *autoPresenter { return &autoPresenter{out: out} }

func (p *autoPresenter) Show(a alert.Alert) {
	_ = p.out.write("alert", map[string]any{
		"id":       a.ID,
		"category": a.Category,
		"icon":     a.Icon,
		"title":    a.Title,
		"body":     a.Body,
		"confirm":  a.Confirm,
		"cancel":   a.Cancel,
	})
	if p.dismiss != nil {
		go func() { _ = p.dismiss(a.ID, false) }()
	}
}

func (p *autoPresenter) Hide(id string) { _ = p.out.write("alert_hidden", map[string]any{"id": id}) }
