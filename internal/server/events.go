package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/ratingsync/internal/bus"
)

// streamed are the bus messages forwarded to the page.
var streamed = []bus.Type{bus.Activated, bus.SyncCompleted, bus.Connectivity}

// handleEvents streams bus messages as server-sent events until the client
// goes away. Each event is named after the message type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	rc := http.NewResponseController(w)

	sub := s.Bus.Subscribe(streamed...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.Logger.Warn("event stream not flushable", "error", err)
		return
	}

	ctx := r.Context()
	msgs := make(chan bus.Message)
	go func() {
		defer close(msgs)
		for {
			msg, ok := sub.Next(ctx)
			if !ok {
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.Logger.Error("encode event", "type", string(msg.Type), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
