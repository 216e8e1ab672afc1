package fieldops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var ErrCircuitOpen = errors.New("field-operations circuit open")

// NetworkError reports that the backend could not be reached.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// HTTPError is a non-2xx response. Message carries the server's detail text
// unchanged so callers can show it to the user.
type HTTPError struct {
	StatusCode int
	Message    string
	Method     string
	Path       string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *HTTPError) Unauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

func (e *HTTPError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ValidationError lists field-level problems, either reported by the server
// (HTTP 422) or found locally before a request was sent.
type ValidationError struct {
	Fields []FieldError
	Local  bool
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// errorBody covers both detail shapes the backend emits: a plain string or a
// list of {loc, msg, type} entries.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type detailEntry struct {
	Loc  []any  `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

func decodeError(method, path string, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	var entries []detailEntry
	if len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &entries) == nil && len(entries) > 0 {
		fields := make([]FieldError, 0, len(entries))
		for _, d := range entries {
			fields = append(fields, FieldError{Field: locPath(d.Loc), Message: d.Msg, Type: d.Type})
		}
		if status == http.StatusUnprocessableEntity || status == http.StatusBadRequest {
			return &ValidationError{Fields: fields}
		}
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			msgs = append(msgs, f.Message)
		}
		return &HTTPError{StatusCode: status, Message: strings.Join(msgs, "; "), Method: method, Path: path}
	}

	msg := eb.Message
	var s string
	if len(eb.Detail) > 0 && json.Unmarshal(eb.Detail, &s) == nil {
		msg = s
	}
	if msg == "" && len(eb.Detail) == 0 && eb.Message == "" {
		msg = strings.TrimSpace(string(body))
		if strings.HasPrefix(msg, "{") {
			msg = ""
		}
	}
	if status == http.StatusUnprocessableEntity {
		return &ValidationError{Fields: []FieldError{{Message: msg}}}
	}
	return &HTTPError{StatusCode: status, Message: msg, Method: method, Path: path}
}

// locPath renders a FastAPI location like ["body","title"] as "title".
func locPath(loc []any) string {
	parts := make([]string, 0, len(loc))
	for i, p := range loc {
		s := fmt.Sprint(p)
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}
