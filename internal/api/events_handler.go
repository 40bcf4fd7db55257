package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/tether/internal/events"
)

var keepAliveInterval = 15 * time.Second

// sseStream writes hub events to one client. lastID is the newest id already
// written; anything at or below it is skipped.
type sseStream struct {
	w      http.ResponseWriter
	lastID int64
}

// send writes ev as a single frame. The hub's payloads are one-line JSON.
func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	frame += "data: " + string(ev.Data) + "\n\n"

	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *sseStream) ping() error {
	_, err := fmt.Fprint(s.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams hub events, replaying the buffer after Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscription precedes replay; overlap is dropped by id in send.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, lastID: parseLastEventID(r.Header.Get("Last-Event-ID"))}
	for _, ev := range s.events.Since(stream.lastID) {
		if stream.send(ev) != nil {
			return
		}
	}
	f.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			return
		}
		f.Flush()
	}
}

// parseLastEventID returns 0 for a missing or malformed header.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
