package deeplink

import (
	"net/url"
	"strings"
)

// Route names understood by the navigation controller.
const (
	RouteHome         = "Home"
	RouteLogin        = "Login"
	RouteNotification = "Notification"
	RouteLessonVideo  = "LessonVideo"
	RouteEnroll       = "Enroll"
	RouteSubCourse    = "SubCourse"
	RouteInternship   = "Internship"
	RouteProfile      = "Profile"
)

// Param keys.
const (
	ParamLessonID       = "lessonId"
	ParamIsLive         = "isLive"
	ParamCourseID       = "courseId"
	ParamNotificationID = "notificationId"
)

// Target is a resolved navigation destination. It is never persisted.
type Target struct {
	Route  string
	Params map[string]string
}

// Home is the fallback target.
func Home() Target { return Target{Route: RouteHome, Params: map[string]string{}} }

func (t Target) Equal(o Target) bool {
	if t.Route != o.Route || len(t.Params) != len(o.Params) {
		return false
	}
	for k, v := range t.Params {
		if o.Params[k] != v {
			return false
		}
	}
	return true
}

// Parse maps a URI onto a Target. The scheme prefix is optional; query and
// fragment are ignored. Anything unrecognized yields Home.
func Parse(uri string) Target {
	segs, ok := segments(uri)
	if !ok || len(segs) == 0 {
		return Home()
	}
	t := func(route string, kv ...string) Target {
		p := make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			p[kv[i]] = kv[i+1]
		}
		return Target{Route: route, Params: p}
	}

	switch segs[0] {
	case "home":
		if len(segs) == 1 {
			return Home()
		}
	case "notification":
		switch len(segs) {
		case 1:
			return t(RouteNotification)
		case 2:
			return t(RouteNotification, ParamNotificationID, segs[1])
		}
	case "lesson":
		switch {
		case len(segs) == 3 && segs[1] == "live":
			return t(RouteLessonVideo, ParamLessonID, segs[2], ParamIsLive, "true")
		case len(segs) == 2:
			return t(RouteLessonVideo, ParamLessonID, segs[1])
		}
	case "enroll":
		if len(segs) == 2 {
			return t(RouteEnroll, ParamCourseID, segs[1])
		}
	case "course":
		if len(segs) == 2 {
			return t(RouteSubCourse, ParamCourseID, segs[1])
		}
	case "internship":
		if len(segs) == 1 || (len(segs) == 2 && segs[1] == "letter") {
			return t(RouteInternship)
		}
	case "profile":
		if len(segs) == 1 {
			return t(RouteProfile)
		}
	}
	return Home()
}

func segments(uri string) ([]string, bool) {
	s := strings.TrimSpace(uri)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, schemePrefix) {
		s = strings.TrimPrefix(s, schemePrefix)
	} else if strings.Contains(s, "://") {
		return nil, false
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	var out []string
	for _, p := range strings.Split(strings.Trim(s, "/"), "/") {
		if p == "" {
			return nil, false
		}
		v, err := url.PathUnescape(p)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
