package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/garnizeh/fieldops/internal/workflow"
)

type EventSource interface {
	Subscribe() chan workflow.Event
	Unsubscribe(ch chan workflow.Event)
}

type EventsHandler struct {
	events    EventSource
	keepalive time.Duration
}

func NewEventsHandler(src EventSource, keepalive time.Duration) *EventsHandler {
	if keepalive <= 0 {
		keepalive = 25 * time.Second
	}
	return &EventsHandler{events: src, keepalive: keepalive}
}

// Stream sends committed status changes as server-sent events until the
// client disconnects or the broker closes.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	writeEvent(w, "connected", map[string]any{"timestamp": time.Now().Unix()})
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
}
