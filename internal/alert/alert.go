package alert

import (
	"lessonbell/internal/notification"
)

// Category selects an alert's icon and button labels.
type Category string

const (
	CategoryGlobal     Category = "global"
	CategoryCourse     Category = "course"
	CategoryLesson     Category = "lesson"
	CategoryInternship Category = "internship"
	CategorySession    Category = "session"
)

// Descriptor is the fixed presentation of a category.
type Descriptor struct {
	Icon    string
	Confirm string
	Cancel  string
}

var descriptors = map[Category]Descriptor{
	CategoryGlobal:     {Icon: "🌍", Confirm: "View", Cancel: "Dismiss"},
	CategoryCourse:     {Icon: "📚", Confirm: "View Course", Cancel: "Later"},
	CategoryLesson:     {Icon: "🎓", Confirm: "Start Learning", Cancel: "Later"},
	CategoryInternship: {Icon: "💼", Confirm: "View Details", Cancel: "Later"},
	CategorySession:    {Confirm: "OK"},
}

// DescriptorFor returns c's descriptor, defaulting to the global one.
func DescriptorFor(c Category) Descriptor {
	if d, ok := descriptors[c]; ok {
		return d
	}
	return descriptors[CategoryGlobal]
}

// Alert is one modal. Cancel is empty for single-button alerts.
type Alert struct {
	ID       string
	Category Category
	Icon     string
	Title    string
	Body     string
	Confirm  string
	Cancel   string

	OnConfirm func()
	OnCancel  func()
}

// ForNotification builds the in-app alert for n. onConfirm typically routes
// to the notification's target.
func ForNotification(n notification.Notification, onConfirm func()) Alert {
	c := Category(n.Category())
	d := DescriptorFor(c)
	return Alert{
		ID:        n.ID,
		Category:  c,
		Icon:      d.Icon,
		Title:     n.Title,
		Body:      n.Body,
		Confirm:   d.Confirm,
		Cancel:    d.Cancel,
		OnConfirm: onConfirm,
	}
}

// SessionExpired is the alert shown once per invalidation episode.
func SessionExpired(onConfirm func()) Alert {
	d := DescriptorFor(CategorySession)
	return Alert{
		Category:  CategorySession,
		Title:     "Session Expired",
		Body:      "Your session has expired. Please login again.",
		Confirm:   d.Confirm,
		OnConfirm: onConfirm,
	}
}
