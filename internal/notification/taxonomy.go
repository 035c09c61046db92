package notification

import "strings"

var typeAliases = map[string]Type{
	"live_lesson":            TypeLiveLesson,
	"livelesson":             TypeLiveLesson,
	"lesson_live":            TypeLiveLesson,
	"lesson_started":         TypeLiveLesson,
	"livelessonnotification": TypeLiveLesson,

	"lesson":              TypeLesson,
	"lesson_notification": TypeLesson,
	"lesson_update":       TypeLesson,
	"lessonnotification":  TypeLesson,

	"course":              TypeCourseUnlocked,
	"course_unlocked":     TypeCourseUnlocked,
	"coursenotification":  TypeCourseUnlocked,
	"course_notification": TypeCourseUnlocked,
	"buy_course":          TypeBuyCourse,
	"buycourse":           TypeBuyCourse,

	"request_internship_letter": TypeInternshipRequest,
	"requestinternshipletter":   TypeInternshipRequest,
	"internship_request":        TypeInternshipRequest,
	"upload_internship_letter":  TypeInternshipUpload,
	"uploadinternshipletter":    TypeInternshipUpload,
	"internship_upload":         TypeInternshipUpload,

	"global_notification": TypeGlobalAnnouncement,
	"global_announcement": TypeGlobalAnnouncement,
	"global":              TypeGlobalAnnouncement,

	"notification":        TypeGeneral,
	"general":             TypeGeneral,
	"generalnotification": TypeGeneral,
}

// ParseType maps a provider tag onto the taxonomy.
// known is false for tags that fell back to TypeGeneral.
func ParseType(raw string) (t Type, known bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return TypeGeneral, false
	}
	if t, ok := typeAliases[key]; ok {
		return t, true
	}
	if strings.HasPrefix(key, "internship") || strings.Contains(key, "internship_letter") {
		return TypeInternshipLetter, true
	}
	return TypeGeneral, false
}
