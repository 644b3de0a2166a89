package handlers

import (
	"context"
	"net/http"
	"time"

	"dockqueue-backend/internal/notify"
	"dockqueue-backend/pkg/utils"

	"github.com/rs/zerolog/log"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type realtimeCounter interface {
	GetClientCount() int
	SubscriberCount(channel string) int
}

type HealthResponse struct {
	Status           string `json:"status"`
	Store            string `json:"store"`
	RealtimeClients  int    `json:"realtime_clients"`
	QueueSubscribers int    `json:"queue_subscribers"`
}

// Health reports liveness, whether the store answers and how many
// realtime clients this instance serves. realtime may be nil.
func Health(store pinger, realtime realtimeCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Store: "ok"}
		if realtime != nil {
			resp.RealtimeClients = realtime.GetClientCount()
			resp.QueueSubscribers = realtime.SubscriberCount(notify.QueueChannel)
		}

		if err := store.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("⚠️  Health check: store unreachable")
			resp.Status, resp.Store = "degraded", "unreachable"
			utils.RespondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		utils.RespondJSON(w, http.StatusOK, resp)
	}
}
