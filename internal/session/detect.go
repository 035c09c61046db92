package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

var authFailurePatterns = []string{
	"invalid token",
	"token expired",
	"jwt expired",
	"jwt malformed",
	"token malformed",
	"unauthorized",
	"authentication failed",
	"token invalid",
	"expired token",
	"invalid authentication",
}

// Response is the part of a backend response the detector inspects.
type Response struct {
	StatusCode int
	Path       string
	Body       []byte
}

// IsAuthFailure reports whether a response means the token is no longer
// accepted: a 401, or a body whose message, error or raw text mentions a
// token failure.
func IsAuthFailure(status int, body []byte) bool {
	if status == http.StatusUnauthorized {
		return true
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return false
	}
	text := string(body)
	if body[0] == '{' {
		var msg struct {
			Message json.RawMessage `json:"message"`
			Error   json.RawMessage `json:"error"`
		}
		if json.Unmarshal(body, &msg) == nil {
			text = rawText(msg.Message) + " " + rawText(msg.Error)
		}
	}
	return matchesAuthFailure(text)
}

// IsAuthFailureMessage applies the same patterns to an error string.
func IsAuthFailureMessage(msg string) bool { return matchesAuthFailure(msg) }

func matchesAuthFailure(s string) bool {
	s = strings.ToLower(s)
	for _, p := range authFailurePatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// rawText unquotes JSON strings and keeps anything else as JSON text.
func rawText(v json.RawMessage) string {
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	return string(v)
}
