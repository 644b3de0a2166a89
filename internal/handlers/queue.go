package handlers

import (
	"math"
	"net/http"
	"time"

	"dockqueue-backend/internal/models"
	"dockqueue-backend/internal/queue"
	"dockqueue-backend/internal/timer"
	"dockqueue-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// JoinQueueRequest is the request body for POST /api/queue
type JoinQueueRequest struct {
	TaxID    string              `json:"tax_id" validate:"required,max=32"`
	Location *models.Coordinates `json:"location,omitempty"`
}

// AssignDockRequest is the request body for PUT /api/queue/{id}/dock
type AssignDockRequest struct {
	Dock string `json:"dock" validate:"required,max=32"`
}

// FinishUnloadingRequest is the request body for PUT /api/queue/{id}/finish.
// All three counts are required; finished is terminal and cannot be corrected.
type FinishUnloadingRequest struct {
	CageCount   *int `json:"cage_count" validate:"required,gte=0"`
	PalletCount *int `json:"pallet_count" validate:"required,gte=0"`
	SleeveCount *int `json:"sleeve_count" validate:"required,gte=0"`
}

// QueueEntryResponse adds timers computed at response time
type QueueEntryResponse struct {
	models.QueueEntry
	LiveWaitSeconds   int64 `json:"live_wait_seconds"`
	LiveUnloadSeconds int64 `json:"live_unload_seconds"`
}

func toEntryResponse(e *models.QueueEntry, now time.Time) QueueEntryResponse {
	resp := QueueEntryResponse{QueueEntry: *e}
	switch e.Status {
	case models.QueueStatusWaiting:
		resp.LiveWaitSeconds = timer.Elapsed(now, &e.ArrivedAt)
	case models.QueueStatusUnloading:
		resp.LiveWaitSeconds = e.WaitSeconds
		resp.LiveUnloadSeconds = timer.Elapsed(now, e.UnloadStartedAt)
	default:
		resp.LiveWaitSeconds = e.WaitSeconds
		resp.LiveUnloadSeconds = e.UnloadSeconds
	}
	return resp
}

func toEntryResponses(entries []models.QueueEntry, now time.Time) []QueueEntryResponse {
	out := make([]QueueEntryResponse, len(entries))
	for i := range entries {
		out[i] = toEntryResponse(&entries[i], now)
	}
	return out
}

func queueFilter(r *http.Request) (queue.Filter, error) {
	q := r.URL.Query()
	limit, err := utils.ParseQueryInt(r, "limit", 0, 0, 1000)
	if err != nil {
		return queue.Filter{}, err
	}
	offset, err := utils.ParseQueryInt(r, "offset", 0, 0, math.MaxInt32)
	if err != nil {
		return queue.Filter{}, err
	}
	return queue.Filter{
		Status:      q.Get("status"),
		Destination: q.Get("destination"),
		Facility:    q.Get("facility"),
		Limit:       limit,
		Offset:      offset,
	}, nil
}

// JoinQueue admits a driver into the waiting queue
func JoinQueue(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinQueueRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			utils.RespondError(w, r, err)
			return
		}

		entry, err := mgr.Admit(r.Context(), queue.AdmitParams{TaxID: req.TaxID, Location: req.Location})
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusCreated, toEntryResponse(entry, time.Now()))
	}
}

func GetQueue(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := queueFilter(r)
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}

		entries, err := mgr.List(r.Context(), filter)
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, toEntryResponses(entries, time.Now()))
	}
}

// GetQueueStats returns counts and average durations for the filtered queue
func GetQueueStats(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := queueFilter(r)
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}

		stats, err := mgr.Stats(r.Context(), filter)
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, stats)
	}
}

func GetQueueEntry(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := mgr.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, toEntryResponse(entry, time.Now()))
	}
}

func AssignDock(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssignDockRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			utils.RespondError(w, r, err)
			return
		}

		entry, err := mgr.AssignDock(r.Context(), chi.URLParam(r, "id"), req.Dock)
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, toEntryResponse(entry, time.Now()))
	}
}

func StartUnloading(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := mgr.StartUnloading(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, toEntryResponse(entry, time.Now()))
	}
}

func FinishUnloading(mgr *queue.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FinishUnloadingRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			utils.RespondError(w, r, err)
			return
		}

		load := models.LoadReturn{Cages: *req.CageCount, Pallets: *req.PalletCount, Sleeves: *req.SleeveCount}
		entry, err := mgr.FinishUnloading(r.Context(), chi.URLParam(r, "id"), load)
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, toEntryResponse(entry, time.Now()))
	}
}
