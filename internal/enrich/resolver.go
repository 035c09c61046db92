package enrich

import (
	"context"

	"lessonbell/internal/deeplink"
	"lessonbell/internal/notification"
	"lessonbell/pkg/logx"
)

// Tier records which strategy produced a Resolution.
type Tier int

const (
	TierCompiled Tier = iota
	TierPayload
	TierStore
	TierRemote
	TierRemoteHeuristic
	TierSubcourse
	TierList
)

func (t Tier) String() string {
	switch t {
	case TierCompiled:
		return "compiled"
	case TierPayload:
		return "payload"
	case TierStore:
		return "store"
	case TierRemote:
		return "remote"
	case TierRemoteHeuristic:
		return "remote_heuristic"
	case TierSubcourse:
		return "subcourse"
	case TierList:
		return "list"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of enrichment. LessonID is set when a tier
// recovered one.
type Resolution struct {
	URI      string
	LessonID string
	Tier     Tier
}

// Strategy is one tier of the search. ok=false passes to the next tier; a
// non-nil error is logged and also passes.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, n notification.Notification) (res Resolution, ok bool, err error)
}

// NeedsLesson reports whether n's route depends on a lessonId it lacks.
func NeedsLesson(n notification.Notification) bool {
	switch n.Type {
	case notification.TypeLiveLesson, notification.TypeLesson:
		return n.Field(notification.KeyLessonID) == ""
	}
	return false
}

// Resolver runs the strategy chain.
type Resolver struct {
	strategies []Strategy
	log        logx.Logger
	observe    func(Tier)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver installs a hook called with the tier of every resolution.
func WithObserver(fn func(Tier)) Option { return func(r *Resolver) { r.observe = fn } }

// New builds a resolver over strategies, in order. ListStrategy is appended
// implicitly so the chain always terminates.
func New(log logx.Logger, strategies []Strategy, opts ...Option) *Resolver {
	r := &Resolver{
		strategies: append(append([]Strategy(nil), strategies...), ListStrategy{}),
		log:        log.With(logx.String("comp", "enrich")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the route for n. Notifications whose route does not depend
// on a missing lessonId compile directly. On ctx cancellation the list
// fallback is returned together with ctx.Err().
func (r *Resolver) Resolve(ctx context.Context, n notification.Notification) (Resolution, error) {
	if !NeedsLesson(n) {
		return r.done(Resolution{URI: deeplink.Compile(n), LessonID: n.Field(notification.KeyLessonID), Tier: TierCompiled}), nil
	}
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return r.done(listResolution()), err
		}
		res, ok, err := s.Resolve(ctx, n)
		if err != nil {
			r.log.Warn("enrichment tier failed", logx.String("tier", s.Name()), logx.String("id", n.ID), logx.Err(err))
			continue
		}
		if ok {
			r.log.Debug("notification enriched",
				logx.String("id", n.ID), logx.String("tier", res.Tier.String()), logx.String("uri", res.URI))
			return r.done(res), nil
		}
	}
	return r.done(listResolution()), nil
}

// Apply returns a copy of n with the recovered lessonId filled in.
func Apply(n notification.Notification, res Resolution) notification.Notification {
	out := n.Clone()
	if res.LessonID != "" && out.Field(notification.KeyLessonID) == "" {
		if out.Data == nil {
			out.Data = map[string]string{}
		}
		out.Data[notification.KeyLessonID] = res.LessonID
	}
	return out
}

func (r *Resolver) done(res Resolution) Resolution {
	if r.observe != nil {
		r.observe(res.Tier)
	}
	return res
}

// lessonURI builds the route for n once a lessonId is known.
func lessonURI(n notification.Notification, lessonID string) string {
	withID := n.Clone()
	if withID.Data == nil {
		withID.Data = map[string]string{}
	}
	withID.Data[notification.KeyLessonID] = lessonID
	return deeplink.Compile(withID)
}

func listResolution() Resolution {
	return Resolution{URI: deeplink.Scheme + "://notification", Tier: TierList}
}
