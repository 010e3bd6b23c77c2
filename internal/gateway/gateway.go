// Package gateway performs the LLM-backed generation steps of the wizard.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/persona-lab/internal/domain"
)

// Hosted function names.
const (
	FunctionGeneratePersonas = "generate-personas"
	FunctionGenerateFeedback = "generate-feedback"
	FunctionGenerateAnalysis = "generate-analysis"
)

var (
	// ErrMalformedResponse is returned when a response does not match the expected shape.
	ErrMalformedResponse = errors.New("malformed generation response")
	// ErrRateLimited is returned when a user exceeds the generation rate.
	ErrRateLimited = errors.New("generation rate limit exceeded")
	// ErrMissingAPIKey is returned when direct generation has no model key.
	ErrMissingAPIKey = errors.New("no model API key configured")
)

// Gateway generates personas, feedback and analysis.
type Gateway interface {
	GeneratePersonas(ctx context.Context, form domain.PersonaForm) ([]string, error)
	GenerateFeedback(ctx context.Context, req FeedbackRequest) (FeedbackBatch, error)
	GenerateAnalysis(ctx context.Context, feedbacks []domain.Feedback) (string, error)
}

// FeedbackRequest is the body of the generate-feedback function.
type FeedbackRequest struct {
	Content   string   `json:"content"`
	ImageURLs []string `json:"imageUrls"`
	Personas  []string `json:"personas"`
}

// Validate checks the request before any remote call.
func (r FeedbackRequest) Validate() error {
	if strings.TrimSpace(r.Content) == "" && len(r.ImageURLs) == 0 {
		return domain.ValidationError("content or at least one image is required")
	}
	if len(r.Personas) == 0 {
		return domain.ValidationError("at least one persona is required")
	}
	return nil
}

// AnalysisRequest is the body of the generate-analysis function.
type AnalysisRequest struct {
	Feedbacks []domain.Feedback `json:"feedbacks"`
}

// PersonasResponse is the body returned by generate-personas.
type PersonasResponse struct {
	Personas []string `json:"personas"`
}

// FeedbackResponse is the body returned by generate-feedback. Records are
// feedback objects, possibly mixed with records that do not fit the shape.
type FeedbackResponse struct {
	Feedbacks []any `json:"feedbacks"`
}

// FeedbackBatch is the outcome of one feedback generation.
type FeedbackBatch struct {
	Feedbacks []domain.Feedback // Usable records, in response order.
	Malformed []json.RawMessage // Records that could not be used, as received.
}

// Records returns every record of the batch, usable ones first.
func (b FeedbackBatch) Records() []any {
	out := make([]any, 0, len(b.Feedbacks)+len(b.Malformed))
	for _, f := range b.Feedbacks {
		out = append(out, f)
	}
	for _, raw := range b.Malformed {
		out = append(out, raw)
	}
	return out
}

// AnalysisResponse is the body returned by generate-analysis.
type AnalysisResponse struct {
	Analysis string `json:"analysis"`
}

// Credentials identify the caller of a generation.
type Credentials struct {
	UserID      string
	AccessToken string // Backend session token, forwarded to hosted functions.
	APIKey      string // Model key stored by the device, used by direct generation.
}

type credentialsKey struct{}

// WithCredentials attaches the caller's credentials to ctx.
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey{}, c)
}

// CredentialsFromContext returns the credentials attached by WithCredentials.
func CredentialsFromContext(ctx context.Context) Credentials {
	c, _ := ctx.Value(credentialsKey{}).(Credentials)
	return c
}

// DecodePersonas parses and validates a generate-personas response.
func DecodePersonas(data []byte) ([]string, error) {
	var resp PersonasResponse
	if err := decodeStrict(data, &resp); err != nil {
		return nil, err
	}
	personas := make([]string, 0, len(resp.Personas))
	for _, p := range resp.Personas {
		if p = strings.TrimSpace(p); p != "" {
			personas = append(personas, p)
		}
	}
	if len(personas) == 0 {
		return nil, fmt.Errorf("%w: no personas", ErrMalformedResponse)
	}
	return personas, nil
}

// DecodeFeedback parses a generate-feedback response. Records that cannot
// be used are kept aside in the batch; the response is rejected only when
// the envelope is malformed or no record is usable.
func DecodeFeedback(data []byte) (FeedbackBatch, error) {
	var resp struct {
		Feedbacks []json.RawMessage `json:"feedbacks"`
	}
	if err := decodeStrict(data, &resp); err != nil {
		return FeedbackBatch{}, err
	}
	if len(resp.Feedbacks) == 0 {
		return FeedbackBatch{}, fmt.Errorf("%w: no feedbacks", ErrMalformedResponse)
	}

	batch := FeedbackBatch{Feedbacks: make([]domain.Feedback, 0, len(resp.Feedbacks))}
	var firstErr error
	for i, raw := range resp.Feedbacks {
		f, err := domain.ParseFeedback(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("feedback %d: %w", i, err)
			}
			batch.Malformed = append(batch.Malformed, raw)
			continue
		}
		batch.Feedbacks = append(batch.Feedbacks, f)
	}
	if len(batch.Feedbacks) == 0 {
		return FeedbackBatch{}, fmt.Errorf("%w: no usable feedback: %v", ErrMalformedResponse, firstErr)
	}
	return batch, nil
}

// DecodeAnalysis parses a generate-analysis response.
func DecodeAnalysis(data []byte) (string, error) {
	var resp AnalysisResponse
	if err := decodeStrict(data, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Analysis) == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrMalformedResponse)
	}
	return resp.Analysis, nil
}

func decodeStrict(data []byte, v any) error {
	data = extractJSON(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// extractJSON strips markdown code fences models sometimes wrap JSON in.
func extractJSON(data []byte) []byte {
	data = bytes.TrimSpace(data)
	if !bytes.HasPrefix(data, []byte("```")) {
		return data
	}
	data = bytes.TrimPrefix(data, []byte("```"))
	if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
		data = data[nl+1:]
	}
	data = bytes.TrimSuffix(bytes.TrimSpace(data), []byte("```"))
	return bytes.TrimSpace(data)
}
