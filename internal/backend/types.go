package backend

import (
	"encoding/json"
	"strings"
	"time"
)

// RemoteNotification is one entry of the backend notification list.
type RemoteNotification struct {
	ID             string          `json:"_id"`
	AltID          string          `json:"id"`
	NotificationID string          `json:"notificationId"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Type           string          `json:"type"`
	LessonID       string          `json:"lessonId"`
	Data           json.RawMessage `json:"data"`
	IsRead         bool            `json:"isRead"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Identifiers returns every id this entry may be referenced by.
func (r RemoteNotification) Identifiers() []string {
	var out []string
	for _, id := range []string{r.ID, r.AltID, r.NotificationID, r.Field("notificationId")} {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Field reads a string field from the nested data object, falling back to
// top-level fields the backend sometimes flattens.
func (r RemoteNotification) Field(key string) string {
	if len(r.Data) > 0 {
		var m map[string]any
		if json.Unmarshal(r.Data, &m) == nil {
			switch v := m[key].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case float64:
				b, _ := json.Marshal(v)
				return string(b)
			}
		}
	}
	if key == "lessonId" {
		return strings.TrimSpace(r.LessonID)
	}
	return ""
}

// NotificationPage is the payload of the paged list endpoint.
type NotificationPage struct {
	Notifications []RemoteNotification `json:"notifications"`
	Total         int                  `json:"total"`
	Page          int                  `json:"page"`
}

// PushIdentity is the device registration body.
type PushIdentity struct {
	FCMToken string `json:"fcmToken"`
	DeviceID string `json:"deviceId"`
}

// envelope is the {success, data, message} wrapper every endpoint uses.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}
