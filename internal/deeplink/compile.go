package deeplink

import (
	"net/url"
	"strings"

	"lessonbell/internal/notification"
)

// Scheme is the app's URI scheme.
const Scheme = "learningsaint"

const schemePrefix = Scheme + "://"

// Compile maps a notification onto an app URI. It never fails; anything it
// cannot place lands on the notification list.
func Compile(n notification.Notification) string {
	return schemePrefix + compilePath(n)
}

func compilePath(n notification.Notification) string {
	switch n.Type {
	case notification.TypeLiveLesson:
		if id := n.Field(notification.KeyLessonID); id != "" {
			return "lesson/live/" + escape(id)
		}
		// Enrichment owns the coarser fallbacks.
		return "notification"
	case notification.TypeLesson:
		if id := n.Field(notification.KeyLessonID); id != "" {
			return "lesson/" + escape(id)
		}
		return "notification"
	case notification.TypeCourseUnlocked, notification.TypeBuyCourse:
		id := n.Field(notification.KeySubcourseID)
		if id == "" {
			id = n.Field(notification.KeyCourseID)
		}
		if id != "" {
			return "enroll/" + escape(id)
		}
		return "notification"
	case notification.TypeInternshipRequest, notification.TypeInternshipUpload, notification.TypeInternshipLetter:
		// Every internship subtype lands on the list, whatever ids it carries.
		return "notification"
	}
	return genericPath(n)
}

// genericPath handles general, global and unknown types.
func genericPath(n notification.Notification) string {
	if id := n.Field(notification.KeyNotificationID); id != "" {
		return "notification/" + escape(id)
	}
	if p, ok := appPath(n.Field(notification.KeyURL)); ok {
		return p
	}
	if n.Type == notification.TypeGeneral && n.Field(notification.KeyRawType) != "" {
		if id := n.Field(notification.KeyLessonID); id != "" {
			return "lesson/" + escape(id)
		}
	}
	return "notification"
}

// appPath accepts "learningsaint://x/y" or a bare "x/y" and rejects web URLs.
func appPath(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, schemePrefix) {
		p := strings.Trim(strings.TrimPrefix(raw, schemePrefix), "/")
		return p, p != ""
	}
	if strings.Contains(raw, "://") {
		return "", false
	}
	p := strings.Trim(raw, "/")
	return p, p != ""
}

func escape(s string) string { return url.PathEscape(s) }
