// Package api provides HTTP handlers for the persona API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/gateway"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/ashureev/persona-lab/internal/session"
	"github.com/ashureev/persona-lab/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxJSONBody = 1 << 20

// Uploader stores an object and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, accessToken, bucket, objectPath, contentType string, data []byte) (string, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	sessions *session.Manager
	gateway  gateway.Gateway
	uploader Uploader
	bucket   string
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, gw gateway.Gateway, uploader Uploader, bucket string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		sessions: sessions,
		gateway:  gw,
		uploader: uploader,
		bucket:   bucket,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes registers every /api route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/session", h.GetSession)
			r.Post("/signup", h.SignUp)
			r.Post("/signin", h.SignIn)
			r.Post("/signout", h.SignOut)
		})

		r.Get("/settings/api-key", h.GetAPIKey)
		r.Put("/settings/api-key", h.PutAPIKey)
		r.Delete("/settings/api-key", h.DeleteAPIKey)

		r.Route("/wizard", func(r chi.Router) {
			r.Get("/", h.GetWizard)
			r.Post("/next", h.NextStep)
			r.Post("/steps/{step}", h.ClickStep)
			r.Post("/reset", h.ResetWizard)
		})

		r.Post("/personas/generate", h.GeneratePersonas)
		r.Post("/personas/confirm", h.ConfirmPersonas)
		r.Post("/images", h.UploadImages)
		r.Post("/feedback/generate", h.GenerateFeedback)
		r.Get("/analytics", h.GetAnalytics)
		r.Post("/analysis/generate", h.GenerateAnalysis)

		r.Get("/history", h.ListHistory)
		r.Get("/history/{id}", h.GetHistory)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON reads a JSON request body into v. An empty body leaves v unchanged.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ValidationError(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// GenerationError maps a gateway failure to a response. Remote failures are
// logged and reported with a generic message.
func GenerationError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var verr domain.ValidationError
	switch {
	case errors.As(err, &verr):
		Error(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, gateway.ErrRateLimited):
		Error(w, http.StatusTooManyRequests, "rate_limited")
	case errors.Is(err, gateway.ErrMissingAPIKey):
		Error(w, http.StatusBadRequest, "an API key is required; add one in settings")
	case errors.Is(err, context.Canceled):
		logger.Info("Generation canceled by client", "op", op)
	default:
		logger.Error("Generation failed", "op", op, "error", err)
		Error(w, http.StatusBadGateway, "generation failed, please try again")
	}
}

// session returns the caller's device session.
func (h *Handler) session(r *http.Request) *session.Session {
	return h.sessions.Get(r.Context(), identity.DeviceIDFromContext(r.Context()))
}

// credentials builds the gateway credentials of a session.
func (h *Handler) credentials(ctx context.Context, s *session.Session) gateway.Credentials {
	c := gateway.Credentials{
		UserID:      s.UserID(),
		AccessToken: s.Client.AccessToken(),
	}
	if key, err := s.Entries.Get(ctx, store.APIKeyEntry); err == nil {
		c.APIKey = key
	}
	if c.UserID == "" {
		c.UserID = s.DeviceID
	}
	return c
}

// beginGeneration takes the per-user generation guard. It writes 409 and
// returns ok=false when another generation is running.
func (h *Handler) beginGeneration(ctx context.Context, w http.ResponseWriter, s *session.Session) (context.Context, func(), bool) {
	creds := h.credentials(ctx, s)
	unlock, ok := h.sessions.TryLockGeneration(creds.UserID)
	if !ok {
		Error(w, http.StatusConflict, "generation_in_progress")
		return nil, nil, false
	}
	return gateway.WithCredentials(ctx, creds), unlock, true
}

func badRequest(w http.ResponseWriter, err error) bool {
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		Error(w, http.StatusBadRequest, verr.Error())
		return true
	}
	return false
}
