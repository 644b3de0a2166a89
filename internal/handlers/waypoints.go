package handlers

import (
	"net/http"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/store"
	"dockqueue-backend/pkg/utils"
)

func GetWaypoints(waypoints store.WaypointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := waypoints.ListWaypoints(r.Context())
		if err != nil {
			utils.RespondError(w, r, apperrors.Internal(err, "list waypoints"))
			return
		}
		utils.RespondJSON(w, http.StatusOK, list)
	}
}
