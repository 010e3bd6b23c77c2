package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/store"
)

type apiKeyRequest struct {
	APIKey string `json:"apiKey"`
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// GetAPIKey reports whether the device stored a model key, masked.
func (h *Handler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	key, err := s.Entries.Get(r.Context(), store.APIKeyEntry)
	if errors.Is(err, auth.ErrEntryNotFound) || (err == nil && key == "") {
		JSON(w, http.StatusOK, map[string]interface{}{"configured": false})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read API key", "device_id", s.DeviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read API key")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"configured": true, "masked": maskKey(key)})
}

// PutAPIKey stores the device's model key.
func (h *Handler) PutAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if err := DecodeJSON(r, &req); badRequest(w, err) {
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		badRequest(w, domain.ValidationError("apiKey is required"))
		return
	}

	s := h.session(r)
	if err := s.Entries.Put(r.Context(), store.APIKeyEntry, key); err != nil {
		h.logger.Error("Failed to store API key", "device_id", s.DeviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to store API key")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"configured": true, "masked": maskKey(key)})
}

// DeleteAPIKey removes the device's model key.
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if err := s.Entries.Delete(r.Context(), store.APIKeyEntry); err != nil {
		h.logger.Error("Failed to delete API key", "device_id", s.DeviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete API key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
