package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Pi-Jeremy/gateman/internal/gateman/types"
)

// keepAlive keeps proxies from closing an idle event stream.
const keepAlive = 15 * time.Second

// handleStatsStream serves live attendance as server-sent events, one
// "stats" event per change.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request, c types.Caller) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response does not support streaming")
		return
	}

	stream, err := s.watcher.Open(r.Context(), c, r.PathValue("event_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer stream.Stop()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case st, ok := <-stream.C:
			if !ok {
				return
			}
			data, err := json.Marshal(toStatsResponse(st))
			if err != nil {
				s.logger.Error("encode stats", "err", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
