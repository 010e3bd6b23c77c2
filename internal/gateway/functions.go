package gateway

import (
	"context"
	"fmt"

	"github.com/ashureev/persona-lab/internal/domain"
)

// Invoker calls a hosted function and returns its JSON body.
type Invoker interface {
	Invoke(ctx context.Context, accessToken, name string, payload any) ([]byte, error)
}

// FunctionsGateway delegates generation to hosted functions.
type FunctionsGateway struct {
	invoker Invoker
}

// NewFunctionsGateway creates a gateway backed by hosted functions.
func NewFunctionsGateway(invoker Invoker) *FunctionsGateway {
	return &FunctionsGateway{invoker: invoker}
}

// GeneratePersonas invokes generate-personas.
func (g *FunctionsGateway) GeneratePersonas(ctx context.Context, form domain.PersonaForm) ([]string, error) {
	body, err := g.invoker.Invoke(ctx, CredentialsFromContext(ctx).AccessToken, FunctionGeneratePersonas, form)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", FunctionGeneratePersonas, err)
	}
	return DecodePersonas(body)
}

// GenerateFeedback invokes generate-feedback.
func (g *FunctionsGateway) GenerateFeedback(ctx context.Context, req FeedbackRequest) (FeedbackBatch, error) {
	if req.ImageURLs == nil {
		req.ImageURLs = []string{}
	}
	body, err := g.invoker.Invoke(ctx, CredentialsFromContext(ctx).AccessToken, FunctionGenerateFeedback, req)
	if err != nil {
		return FeedbackBatch{}, fmt.Errorf("invoke %s: %w", FunctionGenerateFeedback, err)
	}
	return DecodeFeedback(body)
}

// GenerateAnalysis invokes generate-analysis.
func (g *FunctionsGateway) GenerateAnalysis(ctx context.Context, feedbacks []domain.Feedback) (string, error) {
	body, err := g.invoker.Invoke(ctx, CredentialsFromContext(ctx).AccessToken, FunctionGenerateAnalysis, AnalysisRequest{Feedbacks: feedbacks})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", FunctionGenerateAnalysis, err)
	}
	return DecodeAnalysis(body)
}

var _ Gateway = (*FunctionsGateway)(nil)
