package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ashureev/persona-lab/internal/analytics"
	"github.com/ashureev/persona-lab/internal/domain"
	"github.com/ashureev/persona-lab/internal/prompt"
)

// DefaultPersonaCount is how many personas one generation asks for.
const DefaultPersonaCount = 5

// GenerateRequest is one model call.
type GenerateRequest struct {
	APIKey string
	Prompt prompt.Prompt
	JSON   bool // Ask the model for a JSON document.
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// LLMGateway renders the prompt catalog and calls the model directly.
type LLMGateway struct {
	gen          Generator
	catalog      prompt.Renderer
	defaultKey   string
	personaCount int
	logger       *slog.Logger
}

// NewLLMGateway creates a direct gateway. defaultKey is used when the caller
// has not stored an API key of its own.
func NewLLMGateway(gen Generator, catalog prompt.Renderer, defaultKey string, logger *slog.Logger) *LLMGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGateway{
		gen:          gen,
		catalog:      catalog,
		defaultKey:   defaultKey,
		personaCount: DefaultPersonaCount,
		logger:       logger,
	}
}

// GeneratePersonas renders the persona prompt and parses the model's answer.
func (g *LLMGateway) GeneratePersonas(ctx context.Context, form domain.PersonaForm) ([]string, error) {
	params := form.Params()
	params["personaCount"] = strconv.Itoa(g.personaCount)

	out, err := g.run(ctx, prompt.TaskPersona, params, true)
	if err != nil {
		return nil, err
	}
	return DecodePersonas([]byte(out))
}

// GenerateFeedback asks every persona for feedback on the content.
func (g *LLMGateway) GenerateFeedback(ctx context.Context, req FeedbackRequest) (FeedbackBatch, error) {
	params := map[string]string{
		"content":   req.Content,
		"imageUrls": bulletList(req.ImageURLs, "(no images)"),
		"personas":  numberedList(req.Personas),
	}

	out, err := g.run(ctx, prompt.TaskFeedback, params, true)
	if err != nil {
		return FeedbackBatch{}, err
	}
	batch, err := DecodeFeedback([]byte(out))
	if err != nil {
		return FeedbackBatch{}, err
	}
	if len(batch.Malformed) > 0 {
		g.logger.Warn("Model returned unusable feedback records", "malformed", len(batch.Malformed), "usable", len(batch.Feedbacks))
	}

	candidates := make(map[string]bool, len(req.ImageURLs))
	for _, u := range req.ImageURLs {
		candidates[u] = true
	}
	for i := range batch.Feedbacks {
		if u := batch.Feedbacks[i].SelectedImageURL; u != "" && !candidates[u] {
			g.logger.Warn("Model selected an image that was not submitted", "url", u, "persona_index", i)
			batch.Feedbacks[i].SelectedImageURL = ""
		}
	}
	return batch, nil
}

// GenerateAnalysis summarizes the feedback as prose.
func (g *LLMGateway) GenerateAnalysis(ctx context.Context, feedbacks []domain.Feedback) (string, error) {
	if len(feedbacks) == 0 {
		return "", domain.ValidationError("no feedback to analyze")
	}
	data, err := json.MarshalIndent(feedbacks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode feedbacks: %w", err)
	}

	summary := analytics.AggregateFeedbacks(feedbacks)
	selections := make([]string, 0, len(summary.ImageSelectionData))
	for _, c := range summary.ImageSelectionData {
		selections = append(selections, fmt.Sprintf("%s: %d", c.URL, c.Count))
	}
	if len(selections) == 0 {
		selections = append(selections, "none")
	}

	out, err := g.run(ctx, prompt.TaskAnalysis, map[string]string{
		"imageSelections": strings.Join(selections, ", "),
		"errorCount":      strconv.Itoa(summary.ErrorCount),
		"feedbackCount":   strconv.Itoa(len(feedbacks)),
		"feedbacks":       string(data),
	}, false)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrMalformedResponse)
	}
	return out, nil
}

func (g *LLMGateway) run(ctx context.Context, task prompt.Task, params map[string]string, asJSON bool) (string, error) {
	key := CredentialsFromContext(ctx).APIKey
	if key == "" {
		key = g.defaultKey
	}
	if key == "" {
		return "", ErrMissingAPIKey
	}

	p, err := g.catalog.Render(task, params)
	if err != nil {
		return "", err
	}
	out, err := g.gen.Generate(ctx, GenerateRequest{APIKey: key, Prompt: p, JSON: asJSON})
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", task, err)
	}
	return out, nil
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(it)
	}
	return b.String()
}

func numberedList(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, it)
	}
	return b.String()
}

var _ Gateway = (*LLMGateway)(nil)
