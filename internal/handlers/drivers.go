package handlers

import (
	"net/http"

	"dockqueue-backend/internal/registry"
	"dockqueue-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterDriverRequest is the request body for POST /api/drivers
type RegisterDriverRequest struct {
	Name            string `json:"name" validate:"max=120"`
	TaxID           string `json:"tax_id" validate:"max=32"`
	Phone           string `json:"phone" validate:"max=32"`
	Email           string `json:"email" validate:"omitempty,email"`
	Origin          string `json:"origin" validate:"max=64"`
	DestinationCode string `json:"destination_code" validate:"max=32"`
}

// FCMTokenRequest is the request body for POST /api/drivers/{taxId}/fcm-token
type FCMTokenRequest struct {
	Token      string `json:"token" validate:"required"`
	DeviceType string `json:"device_type" validate:"required,oneof=ios android"`
}

func RegisterDriver(reg *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterDriverRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			utils.RespondError(w, r, err)
			return
		}

		driver, err := reg.Register(r.Context(), registry.RegisterParams{
			Name:            req.Name,
			TaxID:           req.TaxID,
			Phone:           req.Phone,
			Email:           req.Email,
			Origin:          req.Origin,
			DestinationCode: req.DestinationCode,
		})
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}

		utils.RespondJSON(w, http.StatusCreated, driver)
	}
}

func ListDrivers(reg *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drivers, err := reg.List(r.Context())
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, drivers)
	}
}

func GetDriver(reg *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driver, err := reg.Lookup(r.Context(), chi.URLParam(r, "taxId"))
		if err != nil {
			utils.RespondError(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, driver)
	}
}

// RegisterFCMToken stores a device token so dock notices reach the driver's phone
func RegisterFCMToken(reg *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taxID := chi.URLParam(r, "taxId")

		var req FCMTokenRequest
		if err := utils.DecodeJSONBody(r, &req); err != nil {
			utils.RespondError(w, r, err)
			return
		}

		if err := reg.RegisterPushToken(r.Context(), taxID, req.Token, req.DeviceType); err != nil {
			utils.RespondError(w, r, err)
			return
		}

		log.Info().Str("tax_id", taxID).Str("device_type", req.DeviceType).Msg("📱 FCM token registered")
		utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "FCM token registered successfully"})
	}
}
