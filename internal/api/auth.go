package api

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/logger"
	"github.com/erazemk/zaloga/internal/store"
)

// AuthHandler pairs and unpairs devices.
type AuthHandler struct {
	DB        *sql.DB
	JWTSecret string
}

// PairRequest is the body of POST /api/pair.
type PairRequest struct {
	Key        string `json:"key" validate:"required"`
	DeviceName string `json:"deviceName" validate:"max=64"`
}

// PairResponse is returned by a successful pairing.
type PairResponse struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
}

// Pair handles POST /api/pair.
func (h *AuthHandler) Pair(w http.ResponseWriter, r *http.Request) {
	var req PairRequest
	if err := decodeValid(w, r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "pairing key required, device name at most 64 characters")
		return
	}

	if err := auth.CheckPairingKey(r.Context(), h.DB, req.Key); err != nil {
		if errors.Is(err, auth.ErrWrongPairingKey) {
			logger.FromContext(r.Context()).Warn("pairing failed", "device", req.DeviceName, "remote", r.RemoteAddr)
			jsonError(w, http.StatusUnauthorized, "wrong pairing key")
			return
		}
		logger.FromContext(r.Context()).Error("checking pairing key", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, claims, err := auth.GenerateToken(h.JWTSecret, "", req.DeviceName)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	logger.FromContext(r.Context()).Info("device paired", "device_id", claims.DeviceID, "device", req.DeviceName)
	jsonResponse(w, http.StatusOK, PairResponse{Token: token, DeviceID: claims.DeviceID})
}

// Unpair handles POST /api/unpair by revoking the caller's token.
func (h *AuthHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	log := logger.FromContext(r.Context())
	rev := store.Revocation{JTI: claims.ID, DeviceID: claims.DeviceID, ExpiresAt: claims.ExpiresAt.Time}
	if err := store.RevokeToken(r.Context(), h.DB, rev); err != nil {
		log.Error("revoking token", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to revoke token")
		return
	}
	if n, err := store.PruneRevocations(r.Context(), h.DB, time.Now()); err != nil {
		log.Warn("pruning revocations", "error", err)
	} else if n > 0 {
		log.Debug("pruned revocations", "count", n)
	}

	log.Info("device unpaired", "device_id", claims.DeviceID)
	w.WriteHeader(http.StatusNoContent)
}
