package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/channels/internal/channel"
	"github.com/rickgao/channels/internal/journal"
)

type healthResponse struct {
	Status     string         `json:"status"`
	Components map[string]any `json:"components"`
}

// createHealthHandler creates the HTTP handler for health checks. It reports
// 503 while the channel is not connected.
func createHealthHandler(ch *channel.Channel, writer *journal.Writer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := ch.Stats()

		health := healthResponse{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["channel"] = map[string]any{
			"address":       ch.Address(),
			"state":         stats.State.String(),
			"attempts":      stats.Attempts,
			"opens":         stats.Opens,
			"messages":      stats.Messages,
			"decode_errors": stats.DecodeErrors,
			"queue_len":     stats.Queue.Len,
			"queue_resizes": stats.Queue.Resizes,
		}
		if !ch.Connected() {
			health.Status = "unhealthy"
		}

		if writer != nil {
			js := writer.Stats()
			health.Components["journal"] = map[string]any{
				"inserts": js.Inserts,
				"errors":  js.Errors,
				"queued":  js.Queued,
			}
			if js.Errors > 0 && health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
