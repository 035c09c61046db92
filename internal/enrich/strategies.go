package enrich

import (
	"context"
	"fmt"

	"lessonbell/internal/backend"
	"lessonbell/internal/deeplink"
	"lessonbell/internal/notification"
	"lessonbell/pkg/logx"
)

// PayloadStrategy succeeds when the lessonId is already present.
type PayloadStrategy struct{}

func (PayloadStrategy) Name() string { return TierPayload.String() }

func (PayloadStrategy) Resolve(_ context.Context, n notification.Notification) (Resolution, bool, error) {
	id := n.Field(notification.KeyLessonID)
	if id == "" {
		return Resolution{}, false, nil
	}
	return Resolution{URI: deeplink.Compile(n), LessonID: id, Tier: TierPayload}, true, nil
}

// StoreLookup is the slice of notification.Store this package reads.
type StoreLookup interface {
	FindByExternalID(externalID string) []notification.Notification
}

// StoreStrategy looks for an earlier notification with the same external id
// that carried a lessonId.
type StoreStrategy struct {
	Store StoreLookup
}

func (StoreStrategy) Name() string { return TierStore.String() }

func (s StoreStrategy) Resolve(_ context.Context, n notification.Notification) (Resolution, bool, error) {
	if s.Store == nil {
		return Resolution{}, false, nil
	}
	for _, prior := range s.Store.FindByExternalID(n.ExternalID()) {
		if id := prior.Field(notification.KeyLessonID); id != "" {
			return Resolution{URI: lessonURI(n, id), LessonID: id, Tier: TierStore}, true, nil
		}
	}
	return Resolution{}, false, nil
}

// Lister is the backend call the remote tier makes.
type Lister interface {
	ListNotifications(ctx context.Context, page, limit int) (*backend.NotificationPage, error)
}

// RemoteStrategy makes exactly one list request. It matches the external id
// first and, when SameTypeFallback is set, then takes the most recent entry
// of the same type that carries a lessonId.
type RemoteStrategy struct {
	Backend          Lister
	Limit            int
	SameTypeFallback bool
	Log              logx.Logger
}

func (RemoteStrategy) Name() string { return TierRemote.String() }

func (s RemoteStrategy) Resolve(ctx context.Context, n notification.Notification) (Resolution, bool, error) {
	if s.Backend == nil {
		return Resolution{}, false, nil
	}
	limit := s.Limit
	if limit <= 0 {
		limit = 20
	}
	page, err := s.Backend.ListNotifications(ctx, 1, limit)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("enrich.RemoteStrategy: %w", err)
	}
	if page == nil {
		return Resolution{}, false, nil
	}

	ext := n.ExternalID()
	for _, r := range page.Notifications {
		lid := r.Field(notification.KeyLessonID)
		if lid == "" {
			continue
		}
		for _, id := range r.Identifiers() {
			if id == ext {
				return Resolution{URI: lessonURI(n, lid), LessonID: lid, Tier: TierRemote}, true, nil
			}
		}
	}

	if !s.SameTypeFallback {
		return Resolution{}, false, nil
	}
	var best *backend.RemoteNotification
	for i := range page.Notifications {
		r := &page.Notifications[i]
		if t, _ := notification.ParseType(r.Type); t != n.Type || r.Field(notification.KeyLessonID) == "" {
			continue
		}
		// List order is newest first unless timestamps say otherwise.
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return Resolution{}, false, nil
	}
	lid := best.Field(notification.KeyLessonID)
	s.Log.Warn("lessonId recovered from most recent notification of the same type",
		logx.String("id", n.ID), logx.String("external_id", ext),
		logx.String("matched", best.ID), logx.String("lesson_id", lid))
	return Resolution{URI: lessonURI(n, lid), LessonID: lid, Tier: TierRemoteHeuristic}, true, nil
}

// SubcourseStrategy routes to the enrollment screen when only a course is known.
type SubcourseStrategy struct{}

func (SubcourseStrategy) Name() string { return TierSubcourse.String() }

func (SubcourseStrategy) Resolve(_ context.Context, n notification.Notification) (Resolution, bool, error) {
	id := n.Field(notification.KeySubcourseID)
	if id == "" {
		id = n.Field(notification.KeyCourseID)
	}
	if id == "" {
		return Resolution{}, false, nil
	}
	c := notification.Notification{Type: notification.TypeCourseUnlocked, Data: map[string]string{notification.KeySubcourseID: id}}
	return Resolution{URI: deeplink.Compile(c), Tier: TierSubcourse}, true, nil
}

// ListStrategy always lands on the notification list.
type ListStrategy struct{}

func (ListStrategy) Name() string { return TierList.String() }

func (ListStrategy) Resolve(context.Context, notification.Notification) (Resolution, bool, error) {
	return listResolution(), true, nil
}

// Config selects the default chain's knobs.
type Config struct {
	RemoteLimit      int
	SameTypeFallback bool
}

// Default builds the standard chain: payload, store, remote, subcourse, list.
func Default(store StoreLookup, api Lister, cfg Config, log logx.Logger, opts ...Option) *Resolver {
	return New(log, []Strategy{
		PayloadStrategy{},
		StoreStrategy{Store: store},
		RemoteStrategy{Backend: api, Limit: cfg.RemoteLimit, SameTypeFallback: cfg.SameTypeFallback, Log: log.With(logx.String("comp", "enrich"))},
		SubcourseStrategy{},
	}, opts...)
}
