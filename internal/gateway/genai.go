package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const maxCachedClients = 64

// GenAIGenerator calls the Gemini API, keeping one client per API key.
type GenAIGenerator struct {
	model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGenAIGenerator creates a generator for model.
func NewGenAIGenerator(model string) *GenAIGenerator {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GenAIGenerator{model: model, clients: make(map[string]*genai.Client)}
}

// Generate sends one prompt and returns the concatenated text of the answer.
func (g *GenAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	client, err := g.client(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.Prompt.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Prompt.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt.User), cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("GenAI returned no text")
	}
	return text, nil
}

func (g *GenAIGenerator) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if len(g.clients) >= maxCachedClients {
		g.clients = make(map[string]*genai.Client)
	}
	g.clients[apiKey] = c
	return c, nil
}

var _ Generator = (*GenAIGenerator)(nil)
