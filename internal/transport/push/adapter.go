// Package push adapts the push provider's callbacks into RawEvents and keeps
// the device's push identity registered with the backend.
package push

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"lessonbell/internal/backend"
	"lessonbell/internal/transport"
	"lessonbell/pkg/logx"
)

var ErrNotStarted = errors.New("push adapter not started")

// maxLine bounds one bridged envelope.
const maxLine = 1 << 20

// Registrar saves the push identity server-side.
type Registrar interface {
	RegisterPushIdentity(ctx context.Context, id backend.PushIdentity) error
}

// Identity is the session slice the adapter needs.
type Identity interface {
	Token() string
	DeviceID(ctx context.Context) string
	SetPushIdentity(token string)
}

// Adapter is the push channel. It works in every lifecycle state and does
// not deduplicate.
type Adapter struct {
	api      Registrar
	identity Identity
	log      logx.Logger

	mu    sync.RWMutex
	out   chan<- transport.RawEvent
	token string
}

var _ transport.Adapter = (*Adapter)(nil)

func New(api Registrar, identity Identity, log logx.Logger) *Adapter {
	return &Adapter{api: api, identity: identity, log: log.With(logx.String("comp", "push"))}
}

func (a *Adapter) Start(_ context.Context, out chan<- transport.RawEvent) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	a.out = nil
	a.mu.Unlock()
	return nil
}

// Deliver is the provider callback: it forwards one envelope verbatim.
func (a *Adapter) Deliver(ctx context.Context, envelope []byte) error {
	a.mu.RLock()
	out := a.out
	a.mu.RUnlock()
	if out == nil {
		return ErrNotStarted
	}
	ev := transport.RawEvent{
		Channel:    transport.ChannelPush,
		Payload:    append(json.RawMessage(nil), envelope...),
		ReceivedAt: time.Now(),
	}
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bridgeLine recognizes token refresh lines; everything else is an envelope.
type bridgeLine struct {
	FCMToken string `json:"fcmToken"`
}

// Run reads newline-delimited envelopes from r until EOF or ctx is done.
// A line of the form {"fcmToken": "..."} refreshes the push identity.
func (a *Adapter) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLine)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			select {
			case lines <- append([]byte(nil), line...):
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("push.Run: %w", err)
			}
			return nil
		case line := <-lines:
			var bl bridgeLine
			if json.Unmarshal(line, &bl) == nil && bl.FCMToken != "" && !bytes.Contains(line, []byte(`"data"`)) {
				if err := a.RefreshIdentity(ctx, bl.FCMToken); err != nil {
					a.log.Warn("push identity refresh failed", logx.Err(err))
				}
				continue
			}
			if err := a.Deliver(ctx, line); err != nil {
				return err
			}
		}
	}
}

// RegisterIdentity records token and saves it server-side when a session exists.
func (a *Adapter) RegisterIdentity(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("push.RegisterIdentity: empty token")
	}
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	a.identity.SetPushIdentity(token)
	return a.register(ctx, token)
}

// RefreshIdentity handles a provider token rotation.
func (a *Adapter) RefreshIdentity(ctx context.Context, token string) error {
	a.mu.RLock()
	same := a.token == token
	a.mu.RUnlock()
	if same {
		return nil
	}
	a.log.Info("push token rotated")
	return a.RegisterIdentity(ctx, token)
}

// RegisterCurrent re-sends the last known token, e.g. right after login.
func (a *Adapter) RegisterCurrent(ctx context.Context) error {
	a.mu.RLock()
	token := a.token
	a.mu.RUnlock()
	if token == "" {
		return nil
	}
	return a.register(ctx, token)
}

func (a *Adapter) register(ctx context.Context, token string) error {
	if a.api == nil || a.identity.Token() == "" {
		a.log.Debug("no session, push identity registration deferred")
		return nil
	}
	id := backend.PushIdentity{FCMToken: token, DeviceID: a.identity.DeviceID(ctx)}
	if err := a.api.RegisterPushIdentity(ctx, id); err != nil {
		return fmt.Errorf("push.register: %w", err)
	}
	a.log.Debug("push identity registered", logx.String("device", id.DeviceID))
	return nil
}
