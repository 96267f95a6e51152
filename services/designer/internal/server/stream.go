package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"edaagent/internal/util"
	"edaagent/pkg/domain"
	"edaagent/services/designer/internal/app"
)

var streamKeepAlive = 25 * time.Second

// handleStream pushes the caller's design history as server-sent events: one
// "history" event with the full list on connect and again after every change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, caller app.Caller) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ctx := r.Context()

	// latest snapshot wins; older undelivered ones are dropped
	updates := make(chan []historyItem, 1)
	sub, err := s.app.SubscribeDesigns(ctx, caller, func(recs []domain.DesignRecord) {
		items := newHistoryItems(recs)
		select {
		case updates <- items:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- items
		}
	})
	if err != nil {
		writeAppError(ctx, w, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	logger := util.LoggerFromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.streams.Done():
			return
		case <-sub.Done():
			return
		case items := <-updates:
			payload, err := json.Marshal(items)
			if err != nil {
				logger.Error("encode history event", "err", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: history\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
