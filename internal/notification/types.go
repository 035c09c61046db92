package notification

import (
	"encoding/json"
	"strings"
	"time"

	"lessonbell/internal/transport"
)

// Type is a canonical notification tag.
type Type string

const (
	TypeLiveLesson         Type = "live_lesson"
	TypeLesson             Type = "lesson"
	TypeCourseUnlocked     Type = "course_unlocked"
	TypeBuyCourse          Type = "buy_course"
	TypeInternshipRequest  Type = "internship_request"
	TypeInternshipUpload   Type = "internship_upload"
	TypeInternshipLetter   Type = "internship_letter"
	TypeGlobalAnnouncement Type = "global_announcement"
	TypeGeneral            Type = "general"
)

// Category groups types that share alert wording.
type Category string

const (
	CategoryLesson     Category = "lesson"
	CategoryCourse     Category = "course"
	CategoryInternship Category = "internship"
	CategoryGlobal     Category = "global"
)

// Kind selects one of the two bounded logs.
type Kind int

const (
	KindPersonal Kind = iota
	KindGlobal
)

func (k Kind) String() string {
	if k == KindGlobal {
		return "global"
	}
	return "personal"
}

// Data keys carrying routing fields.
const (
	KeyLessonID       = "lessonId"
	KeyCourseID       = "courseId"
	KeySubcourseID    = "subcourseId"
	KeyNotificationID = "notificationId"
	KeyURL            = "url"
	KeyRawType        = "rawType"
	KeyMalformed      = "malformed"
)

// Notification is the normalized event every downstream component consumes.
// Data may be partially populated.
type Notification struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Type       Type              `json:"type"`
	Data       map[string]string `json:"data,omitempty"`
	ReceivedAt time.Time         `json:"receivedAt"`
	Read       bool              `json:"isRead"`
	Channel    transport.Channel `json:"channel,omitempty"`
	Raw        json.RawMessage   `json:"raw,omitempty"`
}

// Field returns a trimmed Data value.
func (n Notification) Field(key string) string {
	if n.Data == nil {
		return ""
	}
	return strings.TrimSpace(n.Data[key])
}

// ExternalID is the backend notification id, falling back to ID.
func (n Notification) ExternalID() string {
	if id := n.Field(KeyNotificationID); id != "" {
		return id
	}
	return n.ID
}

// Kind reports which log the notification belongs to.
func (n Notification) Kind() Kind {
	if n.Type == TypeGlobalAnnouncement {
		return KindGlobal
	}
	return KindPersonal
}

// Category reports the alert category for n's type.
func (n Notification) Category() Category { return n.Type.Category() }

func (t Type) Category() Category {
	switch t {
	case TypeLiveLesson, TypeLesson:
		return CategoryLesson
	case TypeCourseUnlocked, TypeBuyCourse:
		return CategoryCourse
	case TypeInternshipRequest, TypeInternshipUpload, TypeInternshipLetter:
		return CategoryInternship
	default:
		return CategoryGlobal
	}
}

// IsInternship reports whether t is any internship subtype.
func (t Type) IsInternship() bool { return t.Category() == CategoryInternship }

// Clone returns a deep copy safe to hand across goroutines.
func (n Notification) Clone() Notification {
	cp := n
	if n.Data != nil {
		cp.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			cp.Data[k] = v
		}
	}
	if n.Raw != nil {
		cp.Raw = append(json.RawMessage(nil), n.Raw...)
	}
	return cp
}
