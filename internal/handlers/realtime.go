package handlers

import (
	"net/http"
	"strings"
	"time"

	"dockqueue-backend/internal/apperrors"
	"dockqueue-backend/internal/notify"
	"dockqueue-backend/internal/registry"
	"dockqueue-backend/internal/websocket"
	"dockqueue-backend/pkg/utils"
)

// ChannelTokenRequest is the optional body for POST /api/realtime/token
type ChannelTokenRequest struct {
	TaxID string `json:"tax_id" validate:"max=32"`
}

type ChannelTokenResponse struct {
	Token     string    `json:"token"`
	Channels  []string  `json:"channels"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueChannelToken grants the queue channel, plus the driver's own channel
// when a known tax id is given.
func IssueChannelToken(tokens *websocket.TokenIssuer, reg *registry.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChannelTokenRequest
		if r.ContentLength != 0 {
			if err := utils.DecodeJSONBody(r, &req); err != nil {
				utils.RespondError(w, r, err)
				return
			}
		}

		channels := []string{notify.QueueChannel}
		subject := "observer"
		if taxID := strings.TrimSpace(req.TaxID); taxID != "" {
			if _, err := reg.Lookup(r.Context(), taxID); err != nil {
				utils.RespondError(w, r, err)
				return
			}
			channels = append(channels, notify.DriverChannel(taxID))
			subject = taxID
		}

		token, expiresAt, err := tokens.Issue(subject, channels)
		if err != nil {
			utils.RespondError(w, r, apperrors.Internal(err, "issue channel token"))
			return
		}
		utils.RespondJSON(w, http.StatusOK, ChannelTokenResponse{Token: token, Channels: channels, ExpiresAt: expiresAt})
	}
}
