package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ashureev/persona-lab/internal/analytics"
	"github.com/ashureev/persona-lab/internal/backend"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/gateway"
	"github.com/ashureev/persona-lab/internal/session"
	"github.com/ashureev/persona-lab/internal/wizard"
	"github.com/google/uuid"
)

const (
	maxUploadMemory = 32 << 20
	maxImageSize    = 10 << 20
	imagesField     = "images"
)

type personasResponse struct {
	Personas    []string `json:"personas"`
	CurrentStep int      `json:"currentStep"`
}

// GeneratePersonas validates the form, asks the gateway for personas and
// moves the wizard to persona confirmation.
func (h *Handler) GeneratePersonas(w http.ResponseWriter, r *http.Request) {
	var form domain.PersonaForm
	if err := DecodeJSON(r, &form); badRequest(w, err) {
		return
	}
	if badRequest(w, form.Validate()) {
		return
	}

	s := h.session(r)
	ctx, unlock, ok := h.beginGeneration(r.Context(), w, s)
	if !ok {
		return
	}
	defer unlock()

	personas, err := h.gateway.GeneratePersonas(ctx, form)
	if err != nil {
		GenerationError(w, h.logger, gateway.FunctionGeneratePersonas, err)
		return
	}

	s.Update(func(sim *session.Simulation) {
		*sim = session.Simulation{Form: form, Personas: personas}
	})
	s.Wizard.AdvanceFrom(wizard.StepPersonaCreation)
	h.logger.Info("Personas generated", "device_id", s.DeviceID, "count", len(personas))

	JSON(w, http.StatusOK, personasResponse{Personas: personas, CurrentStep: int(s.Wizard.CurrentStep())})
}

type confirmRequest struct {
	Personas []string `json:"personas"`
}

// ConfirmPersonas accepts the generated (optionally edited) personas and
// moves on to content collection.
func (h *Handler) ConfirmPersonas(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := DecodeJSON(r, &req); badRequest(w, err) {
		return
	}

	s := h.session(r)
	personas := s.Simulation().Personas
	if req.Personas != nil {
		personas = make([]string, 0, len(req.Personas))
		for _, p := range req.Personas {
			if p = strings.TrimSpace(p); p != "" {
				personas = append(personas, p)
			}
		}
	}
	if len(personas) == 0 {
		badRequest(w, domain.ValidationError("at least one persona is required"))
		return
	}
	if s.Wizard.CurrentStep() != wizard.StepPersonaConfirmation {
		Error(w, http.StatusConflict, "personas can only be confirmed at the confirmation step")
		return
	}

	s.Update(func(sim *session.Simulation) { sim.Personas = personas })
	s.Wizard.AdvanceFrom(wizard.StepPersonaConfirmation)
	JSON(w, http.StatusOK, personasResponse{Personas: personas, CurrentStep: int(s.Wizard.CurrentStep())})
}

// UploadImages stores every file of the "images" field, in submission order,
// and returns their public URLs.
func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		Error(w, http.StatusBadRequest, "expected multipart form data")
		return
	}
	files := r.MultipartForm.File[imagesField]
	if len(files) == 0 {
		Error(w, http.StatusBadRequest, "no images provided")
		return
	}

	s := h.session(r)
	token := s.Client.AccessToken()
	urls := make([]string, 0, len(files))
	for _, fh := range files {
		data, contentType, err := readImage(fh)
		if err != nil {
			badRequest(w, err)
			return
		}
		path := backend.ObjectPath(fh.Filename, h.now())
		url, err := h.uploader.Upload(r.Context(), token, h.bucket, path, contentType, data)
		if err != nil {
			h.logger.Error("Image upload failed", "device_id", s.DeviceID, "file", fh.Filename, "error", err)
			Error(w, http.StatusBadGateway, "image upload failed, please try again")
			return
		}
		urls = append(urls, url)
	}

	s.Update(func(sim *session.Simulation) { sim.ImageURLs = append(sim.ImageURLs, urls...) })
	JSON(w, http.StatusOK, map[string]interface{}{"urls": urls, "imageUrls": s.Simulation().ImageURLs})
}

func readImage(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > maxImageSize {
		return nil, "", domain.ValidationError(fh.Filename + " is larger than 10MB")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", domain.ValidationError("cannot read " + fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
	if err != nil {
		return nil, "", domain.ValidationError("cannot read " + fh.Filename)
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", domain.ValidationError(fh.Filename + " is not an image")
	}
	return data, contentType, nil
}

type feedbackRequest struct {
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls"`
}

type feedbackResponse struct {
	Feedbacks   []domain.Feedback `json:"feedbacks"`
	ErrorCount  int               `json:"errorCount"`
	HistoryID   string            `json:"historyId,omitempty"`
	CurrentStep int               `json:"currentStep"`
}

// GenerateFeedback asks every confirmed persona for feedback, moves the
// wizard to analytics and records the run in the user's history.
func (h *Handler) GenerateFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackRequest
	if err := DecodeJSON(r, &body); badRequest(w, err) {
		return
	}

	s := h.session(r)
	sim := s.Simulation()
	req := gateway.FeedbackRequest{
		Content:   body.Content,
		ImageURLs: body.ImageURLs,
		Personas:  sim.Personas,
	}
	if req.ImageURLs == nil {
		req.ImageURLs = sim.ImageURLs
	}
	if badRequest(w, req.Validate()) {
		return
	}

	ctx, unlock, ok := h.beginGeneration(r.Context(), w, s)
	if !ok {
		return
	}
	defer unlock()

	batch, err := h.gateway.GenerateFeedback(ctx, req)
	if err != nil {
		GenerationError(w, h.logger, gateway.FunctionGenerateFeedback, err)
		return
	}
	feedbacks := batch.Feedbacks

	s.Update(func(sim *session.Simulation) {
		sim.Content = req.Content
		sim.ImageURLs = req.ImageURLs
		sim.Feedbacks = feedbacks
		sim.Malformed = batch.Malformed
		sim.Analysis = ""
	})
	s.Wizard.AdvanceFrom(wizard.StepContentFeedback)

	resp := feedbackResponse{
		Feedbacks:   feedbacks,
		ErrorCount:  len(batch.Malformed),
		CurrentStep: int(s.Wizard.CurrentStep()),
	}
	if userID := s.UserID(); userID != "" {
		item := &domain.ExecutionHistoryItem{
			ID:     uuid.NewString(),
			UserID: userID,
			Input: domain.ExecutionInput{
				PersonaForm: sim.Form,
				Content:     req.Content,
				ImageURLs:   req.ImageURLs,
			},
			Personas:  req.Personas,
			Feedbacks: feedbacks,
			CreatedAt: h.now().UTC(),
		}
		if err := h.repo.SaveHistory(r.Context(), item); err != nil {
			h.logger.Error("Failed to save execution history", "user_id", userID, "error", err)
		} else {
			resp.HistoryID = item.ID
		}
	}

	JSON(w, http.StatusOK, resp)
}

// GetAnalytics returns the chart data of the current run. Records that
// could not be used are reported in errorCount.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	sim := h.session(r).Simulation()
	summary := analytics.AggregateFeedbacks(sim.Feedbacks).Merge(analytics.Aggregate(sim.Malformed))
	JSON(w, http.StatusOK, summary)
}

// GenerateAnalysis produces a prose analysis of the current run's feedback.
func (h *Handler) GenerateAnalysis(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	feedbacks := s.Simulation().Feedbacks
	if len(feedbacks) == 0 {
		badRequest(w, domain.ValidationError("no feedback to analyze yet"))
		return
	}

	ctx, unlock, ok := h.beginGeneration(r.Context(), w, s)
	if !ok {
		return
	}
	defer unlock()

	analysis, err := h.gateway.GenerateAnalysis(ctx, feedbacks)
	if err != nil {
		GenerationError(w, h.logger, gateway.FunctionGenerateAnalysis, err)
		return
	}
	s.Update(func(sim *session.Simulation) { sim.Analysis = analysis })
	JSON(w, http.StatusOK, gateway.AnalysisResponse{Analysis: analysis})
}
