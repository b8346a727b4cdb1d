package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// heartbeatInterval bounds the silence on an open progress stream.
const heartbeatInterval = 15 * time.Second

var sseSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "prime_flipper_sse_subscribers",
	Help: "Currently connected progress stream subscribers.",
})

// handleProgress streams orchestrator progress as server-sent events.
// Subscribers immediately receive the current state; the stream closes
// after one terminal (completed or error) event.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	updates, cancel := s.analyzer.Subscribe()
	defer cancel()

	sseSubscribers.Inc()
	defer sseSubscribers.Dec()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case u, open := <-updates:
			if !open {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
			if u.Terminal() {
				return
			}
		}
	}
}
