package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/persona-lab/internal/auth"
	"github.com/ashureev/persona-lab/internal/backend"
	"github.com/ashureev/persona-lab/internal/domain"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c credentialsRequest) validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return domain.ValidationError("email and password are required")
	}
	return nil
}

type sessionResponse struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	Verified        bool         `json:"verified"`
}

func toSessionResponse(snap auth.Snapshot) sessionResponse {
	return sessionResponse{User: snap.User, IsAuthenticated: snap.IsAuthenticated, Verified: snap.Verified}
}

// GetSession returns the device's auth snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, toSessionResponse(h.session(r).Auth.Snapshot()))
}

// SignUp registers an account. When the backend requires email confirmation
// no session is started.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := DecodeJSON(r, &req); badRequest(w, err) {
		return
	}
	if badRequest(w, req.validate()) {
		return
	}

	s := h.session(r)
	sess, err := s.Client.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		h.authError(w, "sign up", err)
		return
	}

	resp := map[string]interface{}{
		"confirmationRequired": sess == nil || sess.AccessToken == "",
		"session":              toSessionResponse(s.Auth.Snapshot()),
	}
	JSON(w, http.StatusOK, resp)
}

// SignIn authenticates with email and password.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := DecodeJSON(r, &req); badRequest(w, err) {
		return
	}
	if badRequest(w, req.validate()) {
		return
	}

	s := h.session(r)
	if _, err := s.Client.SignIn(r.Context(), req.Email, req.Password); err != nil {
		h.authError(w, "sign in", err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s.Auth.Snapshot()))
}

// SignOut ends the session. The local state is cleared even when the
// backend call fails.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	if err := s.Client.SignOut(r.Context()); err != nil {
		h.logger.Warn("Backend sign out failed", "device_id", s.DeviceID, "error", err)
	}
	JSON(w, http.StatusOK, toSessionResponse(s.Auth.Snapshot()))
}

func (h *Handler) authError(w http.ResponseWriter, op string, err error) {
	var se *backend.StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		msg := se.Message
		if msg == "" {
			msg = op + " failed"
		}
		Error(w, http.StatusUnauthorized, msg)
		return
	}
	h.logger.Error("Auth request failed", "op", op, "error", err)
	Error(w, http.StatusBadGateway, op+" failed, please try again")
}
