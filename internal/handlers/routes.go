package handlers

import (
	"dockqueue-backend/internal/queue"
	"dockqueue-backend/internal/registry"
	"dockqueue-backend/internal/store"
	"dockqueue-backend/internal/websocket"

	"github.com/go-chi/chi/v5"
)

// Dependencies holds what the /api routes need.
type Dependencies struct {
	Registry  *registry.Service
	Queue     *queue.Manager
	Waypoints store.WaypointStore
	Tokens    *websocket.TokenIssuer
}

// Routes builds the /api sub-router.
func Routes(d Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Route("/drivers", func(r chi.Router) {
		r.Post("/", RegisterDriver(d.Registry))
		r.Get("/", ListDrivers(d.Registry))
		r.Get("/{taxId}", GetDriver(d.Registry))
		r.Post("/{taxId}/fcm-token", RegisterFCMToken(d.Registry))
	})

	r.Route("/queue", func(r chi.Router) {
		r.Post("/", JoinQueue(d.Queue))
		r.Get("/", GetQueue(d.Queue))
		r.Get("/stats", GetQueueStats(d.Queue))
		r.Get("/{id}", GetQueueEntry(d.Queue))
		r.Put("/{id}/dock", AssignDock(d.Queue))
		r.Put("/{id}/start", StartUnloading(d.Queue))
		r.Put("/{id}/finish", FinishUnloading(d.Queue))
	})

	r.Get("/waypoints", GetWaypoints(d.Waypoints))
	r.Post("/realtime/token", IssueChannelToken(d.Tokens, d.Registry))

	return r
}
