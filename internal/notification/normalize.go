package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"lessonbell/internal/transport"
)

const (
	defaultTitle       = "Notification"
	defaultGlobalTitle = "System Announcement"
	maxRawBody         = 240
)

// keyAliases folds snake_case and legacy keys onto the canonical Data keys.
var keyAliases = map[string]string{
	"lesson_id":         KeyLessonID,
	"course_id":         KeyCourseID,
	"subcourse_id":      KeySubcourseID,
	"notification_id":   KeyNotificationID,
	"deepLink":          KeyURL,
	"deep_link":         KeyURL,
	"notificationType":  "type",
	"notification_type": "type",
}

// pushEnvelope is the provider shape: {notification:{title,body}, data:{...}}.
type pushEnvelope struct {
	MessageID    string                     `json:"messageId"`
	Notification *pushBlock                 `json:"notification"`
	Data         map[string]json.RawMessage `json:"data"`
	Title        string                     `json:"title"`
	Body         string                     `json:"body"`
}

type pushBlock struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Normalize turns any raw event into exactly one Notification.
// Malformed payloads become a general notification carrying the raw text.
func Normalize(ev transport.RawEvent) Notification {
	now := ev.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}
	n := Notification{
		ReceivedAt: now,
		Channel:    ev.Channel,
		Raw:        append(json.RawMessage(nil), ev.Payload...),
		Data:       map[string]string{},
	}

	var ok bool
	switch ev.Channel {
	case transport.ChannelRealtime:
		ok = n.fromRealtime(ev.Name, ev.Payload)
	default:
		ok = n.fromPush(ev.Payload)
	}
	if !ok {
		n.Type = TypeGeneral
		n.Title = defaultTitle
		n.Body = rawPreview(ev.Payload)
		n.Data[KeyMalformed] = "true"
		if ev.Name != "" {
			n.Data[KeyRawType] = ev.Name
		}
	}

	if n.Type == "" {
		n.Type = TypeGeneral
	}
	if strings.TrimSpace(n.Title) == "" {
		if n.Type == TypeGlobalAnnouncement {
			n.Title = defaultGlobalTitle
		} else {
			n.Title = defaultTitle
		}
	}
	if n.ID == "" {
		n.ID = newID()
	}
	return n
}

func (n *Notification) fromPush(payload []byte) bool {
	var env pushEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	for k, v := range env.Data {
		if s, ok := scalarString(v); ok {
			n.Data[k] = s
		}
	}
	canonicalizeKeys(n.Data)
	n.Title, n.Body = env.Title, env.Body
	if env.Notification != nil {
		n.Title = firstNonEmpty(env.Notification.Title, n.Title)
		n.Body = firstNonEmpty(env.Notification.Body, n.Body)
	}
	n.Title = firstNonEmpty(n.Title, n.Data["title"])
	n.Body = firstNonEmpty(n.Body, n.Data["body"], n.Data["message"])
	n.applyType(n.Data["type"])
	n.ID = firstNonEmpty(env.MessageID, n.Data["id"], n.Data["_id"])
	return true
}

func (n *Notification) fromRealtime(event string, payload []byte) bool {
	var data map[string]json.RawMessage
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		data = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(trimmed, &data); err != nil {
		return false
	}
	for k, v := range data {
		if s, ok := scalarString(v); ok {
			n.Data[k] = s
		}
	}
	canonicalizeKeys(n.Data)
	n.Title = n.Data["title"]
	n.Body = firstNonEmpty(n.Data["message"], n.Data["body"])
	n.applyType(firstNonEmpty(n.Data["type"], event))
	n.ID = firstNonEmpty(n.Data["id"], n.Data["_id"])
	return true
}

func (n *Notification) applyType(raw string) {
	t, known := ParseType(raw)
	n.Type = t
	if !known && strings.TrimSpace(raw) != "" {
		n.Data[KeyRawType] = raw
	}
}

// canonicalizeKeys copies aliased keys onto canonical ones without overwriting.
func canonicalizeKeys(m map[string]string) {
	for alias, canon := range keyAliases {
		v, ok := m[alias]
		if !ok {
			continue
		}
		if strings.TrimSpace(m[canon]) == "" {
			m[canon] = v
		}
		delete(m, alias)
	}
}

// scalarString flattens JSON scalars into strings. Objects and arrays are kept as JSON text.
func scalarString(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		b, err := strconv.ParseBool(string(v))
		if err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	default:
		return string(v), true
	}
}

func rawPreview(p []byte) string {
	s := strings.TrimSpace(string(p))
	if s == "" {
		return "You have a new notification."
	}
	if !utf8.ValidString(s) {
		return fmt.Sprintf("(%d bytes)", len(p))
	}
	if len(s) > maxRawBody {
		cut := maxRawBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
