// Package functions serves the generate-* hosted function endpoints.
package functions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashureev/persona-lab/internal/api"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/gateway"
	"github.com/ashureev/persona-lab/internal/identity"
	"github.com/go-chi/chi/v5"
)

// UserResolver maps a bearer token to the backend user.
type UserResolver interface {
	GetUser(ctx context.Context, accessToken string) (*domain.User, error)
}

// Handler answers hosted function calls with a Gateway.
type Handler struct {
	gw       gateway.Gateway
	users    UserResolver
	anonKey  string
	logger   *slog.Logger
	handlers map[string]http.HandlerFunc
}

// NewHandler creates a handler. users may be nil, in which case calls are
// attributed to the device that made them.
func NewHandler(gw gateway.Gateway, users UserResolver, anonKey string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{gw: gw, users: users, anonKey: anonKey, logger: logger}
	h.handlers = map[string]http.HandlerFunc{
		gateway.FunctionGeneratePersonas: h.generatePersonas,
		gateway.FunctionGenerateFeedback: h.generateFeedback,
		gateway.FunctionGenerateAnalysis: h.generateAnalysis,
	}
	return h
}

// RegisterRoutes registers the function endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/functions/v1/{name}", h.Invoke)
}

// Invoke dispatches to the named function.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	fn, ok := h.handlers[name]
	if !ok {
		api.Error(w, http.StatusNotFound, "function not found: "+name)
		return
	}
	fn(w, r.WithContext(gateway.WithCredentials(r.Context(), h.caller(r))))
}

// caller attributes the call to the signed-in user when the bearer token
// belongs to one, and to the device otherwise.
func (h *Handler) caller(r *http.Request) gateway.Credentials {
	ctx := r.Context()
	creds := gateway.Credentials{UserID: identity.DeviceIDFromContext(ctx)}

	token := identity.BearerTokenFromContext(ctx)
	if token == "" || token == h.anonKey || h.users == nil {
		return creds
	}
	user, err := h.users.GetUser(ctx, token)
	if err != nil || user == nil {
		h.logger.Debug("Function caller token rejected", "error", err)
		return creds
	}
	creds.UserID = user.ID
	creds.AccessToken = token
	return creds
}

func (h *Handler) generatePersonas(w http.ResponseWriter, r *http.Request) {
	var form domain.PersonaForm
	if err := api.DecodeJSON(r, &form); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := form.Validate(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	personas, err := h.gw.GeneratePersonas(r.Context(), form)
	if err != nil {
		api.GenerationError(w, h.logger, gateway.FunctionGeneratePersonas, err)
		return
	}
	api.JSON(w, http.StatusOK, gateway.PersonasResponse{Personas: personas})
}

func (h *Handler) generateFeedback(w http.ResponseWriter, r *http.Request) {
	var req gateway.FeedbackRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	batch, err := h.gw.GenerateFeedback(r.Context(), req)
	if err != nil {
		api.GenerationError(w, h.logger, gateway.FunctionGenerateFeedback, err)
		return
	}
	api.JSON(w, http.StatusOK, gateway.FeedbackResponse{Feedbacks: batch.Records()})
}

func (h *Handler) generateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req gateway.AnalysisRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Feedbacks) == 0 {
		api.Error(w, http.StatusBadRequest, "feedbacks are required")
		return
	}

	analysis, err := h.gw.GenerateAnalysis(r.Context(), req.Feedbacks)
	if err != nil {
		api.GenerationError(w, h.logger, gateway.FunctionGenerateAnalysis, err)
		return
	}
	api.JSON(w, http.StatusOK, gateway.AnalysisResponse{Analysis: analysis})
}
