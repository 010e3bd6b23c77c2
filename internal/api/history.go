package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashureev/persona-lab/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultHistoryLimit = 50

var errUnauthenticated = errors.New("sign in required")

// ListHistory returns the signed-in user's runs, newest first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := h.session(r).UserID()
	if userID == "" {
		Error(w, http.StatusUnauthorized, errUnauthenticated.Error())
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	items, err := h.repo.ListHistory(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Failed to list history", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// GetHistory returns one run owned by the signed-in user.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := h.session(r).UserID()
	if userID == "" {
		Error(w, http.StatusUnauthorized, errUnauthenticated.Error())
		return
	}

	item, err := h.repo.GetHistory(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "history item not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load history item", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, item)
}
