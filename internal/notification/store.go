package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"lessonbell/internal/storage"
	"lessonbell/pkg/logx"
)

const (
	// Storage keys for the two logs.
	KeyStoredNotifications = "stored_notifications"
	KeyGlobalNotifications = "global_notifications"

	DefaultPersonalCap = 100
	DefaultGlobalCap   = 50
)

// StoreConfig bounds the two logs.
type StoreConfig struct {
	PersonalCap  int
	GlobalCap    int
	WriteTimeout time.Duration
}

// PersistObserver is told about every snapshot write outcome.
type PersistObserver func(kind Kind, err error)

// Store holds two capacity-bounded logs, newest first.
//
// All operations update the in-memory view synchronously. Persistence is
// asynchronous: a mutation marks the log dirty and the persist loop writes a
// snapshot. A failed write is logged and never rolls back memory.
type Store struct {
	mu   sync.RWMutex
	logs [2][]Notification
	caps [2]int

	kv       storage.Store
	log      logx.Logger
	timeout  time.Duration
	observer PersistObserver

	dirtyMu sync.Mutex
	dirty   [2]bool
	kick    chan struct{}
	flushed chan struct{} // closed and replaced after each drained pass
}

// NewStore builds a store. kv may be nil for a purely in-memory store.
func NewStore(cfg StoreConfig, kv storage.Store, log logx.Logger) *Store {
	if cfg.PersonalCap <= 0 {
		cfg.PersonalCap = DefaultPersonalCap
	}
	if cfg.GlobalCap <= 0 {
		cfg.GlobalCap = DefaultGlobalCap
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Store{
		caps:    [2]int{cfg.PersonalCap, cfg.GlobalCap},
		kv:      kv,
		log:     log,
		timeout: cfg.WriteTimeout,
		kick:    make(chan struct{}, 1),
		flushed: make(chan struct{}),
	}
}

// SetPersistObserver installs a hook for write outcomes (metrics).
func (s *Store) SetPersistObserver(fn PersistObserver) {
	s.dirtyMu.Lock()
	s.observer = fn
	s.dirtyMu.Unlock()
}

// Caps returns the personal and global capacities.
func (s *Store) Caps() (personal, global int) { return s.caps[KindPersonal], s.caps[KindGlobal] }

// Load hydrates both logs from storage, trimming to capacity.
func (s *Store) Load(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	var errs []error
	for _, k := range []Kind{KindPersonal, KindGlobal} {
		b, err := s.kv.Get(ctx, storageKey(k))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var items []Notification
		if err := json.Unmarshal(b, &items); err != nil {
			s.log.Warn("stored notifications unreadable, starting empty", logx.String("log", k.String()), logx.Err(err))
			continue
		}
		if len(items) > s.caps[k] {
			items = items[:s.caps[k]]
		}
		s.mu.Lock()
		s.logs[k] = items
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Append prepends n to its log and evicts the oldest entries past capacity.
func (s *Store) Append(n Notification) {
	k := n.Kind()
	n = n.Clone()
	s.mu.Lock()
	l := make([]Notification, 0, min(len(s.logs[k])+1, s.caps[k]))
	l = append(l, n)
	l = append(l, s.logs[k]...)
	if len(l) > s.caps[k] {
		l = l[:s.caps[k]]
	}
	s.logs[k] = l
	s.mu.Unlock()
	s.markDirty(k)
}

// List returns a 1-based page of the given log. Out-of-range pages are empty.
func (s *Store) List(kind Kind, page, pageSize int) []Notification {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.logs[kind]
	start := (page - 1) * pageSize
	if start >= len(l) {
		return nil
	}
	end := min(start+pageSize, len(l))
	out := make([]Notification, 0, end-start)
	for _, n := range l[start:end] {
		out = append(out, n.Clone())
	}
	return out
}

// Len returns the number of entries in a log.
func (s *Store) Len(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[kind])
}

// Get looks up a notification by ID in one log.
func (s *Store) Get(kind Kind, id string) (Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.logs[kind] {
		if n.ID == id {
			return n.Clone(), true
		}
	}
	return Notification{}, false
}

// FindByExternalID returns matches on notificationId (or ID) across both logs, newest first.
func (s *Store) FindByExternalID(externalID string) []Notification {
	if externalID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Notification
	for _, k := range []Kind{KindPersonal, KindGlobal} {
		for _, n := range s.logs[k] {
			if n.ExternalID() == externalID || n.ID == externalID {
				out = append(out, n.Clone())
			}
		}
	}
	return out
}

// MarkRead flags one notification read. It reports whether one was found.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	var hit [2]bool
	for k := range s.logs {
		for i := range s.logs[k] {
			if s.logs[k][i].ID == id && !s.logs[k][i].Read {
				s.logs[k][i].Read = true
				hit[k] = true
			}
		}
	}
	s.mu.Unlock()
	for k, h := range hit {
		if h {
			s.markDirty(Kind(k))
		}
	}
	return hit[KindPersonal] || hit[KindGlobal]
}

// MarkAllRead flags every notification in both logs read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	var hit [2]bool
	for k := range s.logs {
		for i := range s.logs[k] {
			if !s.logs[k][i].Read {
				s.logs[k][i].Read = true
				hit[k] = true
			}
		}
	}
	s.mu.Unlock()
	for k, h := range hit {
		if h {
			s.markDirty(Kind(k))
		}
	}
}

// UnreadCount counts unread entries in one log.
func (s *Store) UnreadCount(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := 0
	for _, n := range s.logs[kind] {
		if !n.Read {
			c++
		}
	}
	return c
}

// Clear empties both logs.
func (s *Store) Clear() {
	s.mu.Lock()
	s.logs = [2][]Notification{}
	s.mu.Unlock()
	s.markDirty(KindPersonal)
	s.markDirty(KindGlobal)
}

func (s *Store) markDirty(k Kind) {
	if s.kv == nil {
		return
	}
	s.dirtyMu.Lock()
	s.dirty[k] = true
	s.dirtyMu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run is the persist loop. It coalesces bursts so each pass writes at most
// one snapshot per dirty log. It returns when ctx is canceled, after a final flush.
func (s *Store) Run(ctx context.Context) error {
	if s.kv == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			return ctx.Err()
		case <-s.kick:
			s.flush(ctx)
		}
	}
}

// Flush writes pending snapshots synchronously.
func (s *Store) Flush(ctx context.Context) { s.flush(ctx) }

func (s *Store) flush(ctx context.Context) {
	s.dirtyMu.Lock()
	dirty := s.dirty
	s.dirty = [2]bool{}
	obs := s.observer
	s.dirtyMu.Unlock()

	for k, d := range dirty {
		if !d {
			continue
		}
		kind := Kind(k)
		err := s.persist(ctx, kind)
		if err != nil {
			s.log.Warn("notification persist failed", logx.String("log", kind.String()), logx.Err(err))
		}
		if obs != nil {
			obs(kind, err)
		}
	}

	s.dirtyMu.Lock()
	close(s.flushed)
	s.flushed = make(chan struct{})
	s.dirtyMu.Unlock()
}

func (s *Store) persist(ctx context.Context, k Kind) error {
	s.mu.RLock()
	b, err := json.Marshal(s.logs[k])
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.kv.Put(cctx, storageKey(k), b)
}

// Flushed returns a channel closed after the next completed persist pass.
func (s *Store) Flushed() <-chan struct{} {
	s.dirtyMu.Lock()
	defer s.dirtyMu.Unlock()
	return s.flushed
}

func storageKey(k Kind) string {
	if k == KindGlobal {
		return KeyGlobalNotifications
	}
	return KeyStoredNotifications
}
