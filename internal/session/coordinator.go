package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"lessonbell/internal/alert"
	"lessonbell/internal/backend"
	"lessonbell/internal/deeplink"
	"lessonbell/internal/storage"
	"lessonbell/pkg/logx"
)

var ErrNoSession = errors.New("no stored session")

// Vault and kv keys.
const (
	SecretToken   = "auth_token"
	KeyProfile    = "user_profile"
	KeyDeviceID   = "device_id"
	episodeKey    = "invalidate"
	detachedLimit = 30 * time.Second
)

// State is the authentication state. Others read it through Snapshot.
type State struct {
	Token         string
	PushIdentity  string
	DeviceID      string
	UserID        string
	Authenticated bool
	Profile       json.RawMessage
}

// Deregisterer removes the device's push identity server-side. token ""
// means an unauthenticated call.
type Deregisterer interface {
	DeregisterPushIdentity(ctx context.Context, id backend.PushIdentity, token string) error
}

// Navigator is the navigation slice the coordinator drives.
type Navigator interface {
	CurrentRoute() string
	ResetTo(ctx context.Context, route string) error
}

// AlertRequester shows the session alert.
type AlertRequester interface {
	Request(a alert.Alert) string
}

// Config tunes an episode.
type Config struct {
	DeregisterTimeout time.Duration
}

// Deregistration outcomes reported in Episode.
const (
	DeregSkipped = "skipped"
	DeregOK      = "ok"
	DeregRetried = "ok_unauthenticated"
	DeregFailed  = "failed"
	DeregTimeout = "timeout"
)

// Episode summarizes one invalidation run.
type Episode struct {
	Reason       string
	Reset        bool
	Alerted      bool
	Deregistered string
	Duration     time.Duration
}

// Coordinator owns State and runs invalidation episodes.
type Coordinator struct {
	cfg    Config
	vault  SecretVault
	kv     storage.Store
	api    Deregisterer
	nav    Navigator
	alerts AlertRequester
	log    logx.Logger

	group singleflight.Group

	mu         sync.RWMutex
	state      State
	suppressed bool
	onTeardown []func(ctx context.Context)
	onLogin    []func(ctx context.Context, s State)
	onEpisode  func(Episode)
}

// New builds a coordinator. kv may be nil; the vault is required.
func New(cfg Config, vault SecretVault, kv storage.Store, api Deregisterer, nav Navigator, alerts AlertRequester, log logx.Logger) *Coordinator {
	if cfg.DeregisterTimeout <= 0 {
		cfg.DeregisterTimeout = 3 * time.Second
	}
	return &Coordinator{
		cfg:    cfg,
		vault:  vault,
		kv:     kv,
		api:    api,
		nav:    nav,
		alerts: alerts,
		log:    log.With(logx.String("comp", "session")),
	}
}

// OnTeardown registers cleanup run after state is cleared by an episode that
// ended a live session (store wipe, realtime disconnect, pending alerts).
// Stragglers that arrive once the session is gone do not rerun it.
func (c *Coordinator) OnTeardown(fn func(ctx context.Context)) {
	c.mu.Lock()
	c.onTeardown = append(c.onTeardown, fn)
	c.mu.Unlock()
}

// OnLogin registers hooks run after a successful Login or restore.
func (c *Coordinator) OnLogin(fn func(ctx context.Context, s State)) {
	c.mu.Lock()
	c.onLogin = append(c.onLogin, fn)
	c.mu.Unlock()
}

// OnEpisode installs a hook receiving every episode summary.
func (c *Coordinator) OnEpisode(fn func(Episode)) {
	c.mu.Lock()
	c.onEpisode = fn
	c.mu.Unlock()
}

// SuppressAlerts mutes the session alert while a user-initiated flow
// (account deletion, logout) is running.
func (c *Coordinator) SuppressAlerts(on bool) {
	c.mu.Lock()
	c.suppressed = on
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.Profile = append(json.RawMessage(nil), s.Profile...)
	return s
}

// Token is the backend's TokenSource.
func (c *Coordinator) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.Authenticated {
		return ""
	}
	return c.state.Token
}

// DeviceID returns the stable device id, creating and persisting one on first use.
func (c *Coordinator) DeviceID(ctx context.Context) string {
	c.mu.RLock()
	id := c.state.DeviceID
	c.mu.RUnlock()
	if id != "" {
		return id
	}
	if c.kv != nil {
		if b, err := c.kv.Get(ctx, KeyDeviceID); err == nil && len(b) > 0 {
			id = string(b)
		}
	}
	if id == "" {
		id = uuid.NewString()
		if c.kv != nil {
			if err := c.kv.Put(ctx, KeyDeviceID, []byte(id)); err != nil {
				c.log.Warn("device id not persisted", logx.Err(err))
			}
		}
	}
	c.mu.Lock()
	if c.state.DeviceID == "" {
		c.state.DeviceID = id
	}
	id = c.state.DeviceID
	c.mu.Unlock()
	return id
}

// SetPushIdentity records the device's current push token.
func (c *Coordinator) SetPushIdentity(token string) {
	c.mu.Lock()
	c.state.PushIdentity = token
	c.mu.Unlock()
}

// Login stores a fresh session and runs the login hooks.
func (c *Coordinator) Login(ctx context.Context, token, userID string, profile json.RawMessage) error {
	if token == "" {
		return errors.New("session.Login: empty token")
	}
	if err := c.vault.Set(SecretToken, token); err != nil {
		return fmt.Errorf("session.Login: %w", err)
	}
	if c.kv != nil && len(profile) > 0 {
		if err := c.kv.Put(ctx, KeyProfile, profile); err != nil {
			c.log.Warn("profile not persisted", logx.Err(err))
		}
	}
	c.DeviceID(ctx)
	c.mu.Lock()
	c.state.Token = token
	c.state.UserID = userID
	c.state.Profile = append(json.RawMessage(nil), profile...)
	c.state.Authenticated = true
	c.suppressed = false
	c.mu.Unlock()
	c.log.Info("session started", logx.String("user", userID))
	c.runLoginHooks(ctx)
	return nil
}

// CheckStoredToken restores a persisted session. An expired JWT runs a
// silent invalidation episode and returns false. Opaque tokens are trusted
// until the backend rejects them.
func (c *Coordinator) CheckStoredToken(ctx context.Context) (bool, error) {
	token, err := c.vault.Get(SecretToken)
	if errors.Is(err, ErrSecretNotFound) || (err == nil && token == "") {
		return false, ErrNoSession
	}
	if err != nil {
		return false, fmt.Errorf("session.CheckStoredToken: %w", err)
	}

	var profile json.RawMessage
	if c.kv != nil {
		if b, err := c.kv.Get(ctx, KeyProfile); err == nil {
			profile = b
		}
	}
	userID := profileUserID(profile)
	c.DeviceID(ctx)
	c.mu.Lock()
	c.state.Token = token
	c.state.UserID = userID
	c.state.Profile = profile
	c.state.Authenticated = true
	c.mu.Unlock()

	if exp, ok := tokenExpiry(token); ok && !exp.After(time.Now()) {
		c.log.Info("stored token expired", logx.Time("expired_at", exp))
		c.invalidate(ctx, "expired_at_start", true)
		return false, nil
	}
	c.runLoginHooks(ctx)
	return true, nil
}

// OnAuthFailure inspects resp and, on an auth failure, runs (or joins) the
// invalidation episode. It reports whether a failure was detected.
func (c *Coordinator) OnAuthFailure(ctx context.Context, resp Response, suppressAlert bool) bool {
	if !IsAuthFailure(resp.StatusCode, resp.Body) {
		return false
	}
	c.log.Warn("backend rejected token", logx.Int("status", resp.StatusCode), logx.String("path", resp.Path))
	c.invalidate(ctx, "auth_failure", suppressAlert)
	return true
}

// Logout ends the session on purpose: same teardown, no alert.
func (c *Coordinator) Logout(ctx context.Context) {
	c.invalidate(ctx, "logout", true)
}

// invalidate runs the episode once per burst of triggers and waits for it,
// or for ctx.
func (c *Coordinator) invalidate(ctx context.Context, reason string, suppressAlert bool) {
	// The episode must finish even if the triggering request is canceled.
	ectx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(episodeKey, func() (any, error) {
		return c.runEpisode(ectx, reason, suppressAlert), nil
	})
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (c *Coordinator) runEpisode(ctx context.Context, reason string, suppressAlert bool) Episode {
	start := time.Now()
	ep := Episode{Reason: reason, Deregistered: DeregSkipped}

	c.mu.RLock()
	snap := c.state
	suppressAlert = suppressAlert || c.suppressed
	c.mu.RUnlock()
	route := c.nav.CurrentRoute()

	// Stragglers after an episode find the session gone and leave teardown,
	// and the alert it raised, alone.
	if !snap.Authenticated || route == deeplink.RouteLogin {
		c.clearState(ctx)
		if snap.Authenticated {
			c.runTeardownHooks(ctx)
		}
		if route != deeplink.RouteLogin {
			ep.Reset = c.resetToLogin(ctx)
		}
		c.finish(ep, start)
		return ep
	}

	ep.Deregistered = c.deregister(ctx, snap)
	c.clearState(ctx)
	c.runTeardownHooks(ctx)
	ep.Reset = c.resetToLogin(ctx)
	if !suppressAlert && c.alerts != nil {
		c.alerts.Request(alert.SessionExpired(nil))
		ep.Alerted = true
	}
	c.finish(ep, start)
	return ep
}

// deregister gives the push deregistration a bounded head start. Losing the
// race is not an error; the call keeps running detached.
func (c *Coordinator) deregister(ctx context.Context, snap State) string {
	if c.api == nil || snap.PushIdentity == "" {
		return DeregSkipped
	}
	id := backend.PushIdentity{FCMToken: snap.PushIdentity, DeviceID: snap.DeviceID}
	done := make(chan string, 1)
	go func() {
		cctx, cancel := context.WithTimeout(ctx, detachedLimit)
		defer cancel()
		done <- c.deregisterOnce(cctx, id, snap.Token)
	}()

	t := time.NewTimer(c.cfg.DeregisterTimeout)
	defer t.Stop()
	select {
	case out := <-done:
		return out
	case <-t.C:
		c.log.Info("push deregistration still running, continuing teardown", logx.Duration("waited", c.cfg.DeregisterTimeout))
		return DeregTimeout
	}
}

func (c *Coordinator) deregisterOnce(ctx context.Context, id backend.PushIdentity, token string) string {
	err := c.api.DeregisterPushIdentity(ctx, id, token)
	if err == nil {
		return DeregOK
	}
	if token != "" && (backend.IsStatus(err, http.StatusUnauthorized) || backend.IsStatus(err, http.StatusForbidden) || IsAuthFailureMessage(err.Error())) {
		c.log.Debug("push deregistration unauthorized, retrying without auth")
		if err = c.api.DeregisterPushIdentity(ctx, id, ""); err == nil {
			return DeregRetried
		}
	}
	c.log.Warn("push deregistration abandoned", logx.Err(err))
	return DeregFailed
}

// clearState wipes memory, vault and persisted profile. The device id
// survives.
func (c *Coordinator) clearState(ctx context.Context) {
	c.mu.Lock()
	c.state = State{DeviceID: c.state.DeviceID, PushIdentity: c.state.PushIdentity}
	c.mu.Unlock()

	if err := c.vault.Remove(SecretToken); err != nil {
		c.log.Warn("token not removed from vault", logx.Err(err))
	}
	if c.kv != nil {
		if err := c.kv.Delete(ctx, KeyProfile); err != nil {
			c.log.Warn("profile not removed", logx.Err(err))
		}
	}
}

func (c *Coordinator) runTeardownHooks(ctx context.Context) {
	c.mu.RLock()
	hooks := slices.Clone(c.onTeardown)
	c.mu.RUnlock()
	for _, fn := range hooks {
		c.safeHook(func() { fn(ctx) })
	}
}

func (c *Coordinator) resetToLogin(ctx context.Context) bool {
	if err := c.nav.ResetTo(ctx, deeplink.RouteLogin); err != nil {
		c.log.Error("reset to login failed", logx.Err(err))
		return false
	}
	return true
}

func (c *Coordinator) finish(ep Episode, start time.Time) {
	ep.Duration = time.Since(start)
	c.log.Info("session invalidated",
		logx.String("reason", ep.Reason), logx.Bool("reset", ep.Reset),
		logx.Bool("alerted", ep.Alerted), logx.String("deregistration", ep.Deregistered),
		logx.Duration("took", ep.Duration))
	c.mu.RLock()
	fn := c.onEpisode
	c.mu.RUnlock()
	if fn != nil {
		fn(ep)
	}
}

func (c *Coordinator) runLoginHooks(ctx context.Context) {
	c.mu.RLock()
	hooks := slices.Clone(c.onLogin)
	c.mu.RUnlock()
	s := c.Snapshot()
	for _, fn := range hooks {
		c.safeHook(func() { fn(ctx, s) })
	}
}

func (c *Coordinator) safeHook(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error("session hook panicked", logx.Any("panic", p))
		}
	}()
	fn()
}

// tokenExpiry reads exp without verifying the signature.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func profileUserID(profile json.RawMessage) string {
	if len(profile) == 0 {
		return ""
	}
	var p struct {
		ID    string `json:"_id"`
		AltID string `json:"id"`
	}
	if json.Unmarshal(profile, &p) != nil {
		return ""
	}
	if p.ID != "" {
		return p.ID
	}
	return p.AltID
}
