package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const keepAliveInterval = 15 * time.Second

// Stream handles Server-Sent Events for project changes. An optional
// ?projeto=<id> narrows the feed to one project.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Unsubscribes when the client leaves or the server shuts down.
	ctx := r.Context()

	ch := a.stream.Subscribe(ctx, r.URL.Query().Get("projeto"))

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		}
	}
}
