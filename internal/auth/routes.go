package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/timelineresolver-go/internal/api"
	"github.com/strefethen/timelineresolver-go/internal/apperrors"
	"github.com/strefethen/timelineresolver-go/internal/config"
)

// RegisterRoutes mounts the token refresh endpoint. Access tokens are
// issued out of band by the operator (anyone holding the JWT secret can
// mint one); the API only refreshes them.
func RegisterRoutes(router chi.Router, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			return apperrors.NewUnauthorizedError("Invalid refresh token")
		}

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}))
}
