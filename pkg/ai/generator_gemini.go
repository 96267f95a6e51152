package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based ContentGenerator. An empty model
// falls back to gemini-1.5-flash.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: normalizeModel(model)}
}

// Model returns the model identifier requests are sent to.
func (g *GeminiGenerator) Model() string {
	return g.model
}

// GenerateContent implements ContentGenerator using Gemini.
func (g *GeminiGenerator) GenerateContent(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	return g.client.GenerateContent(ctx, g.model, prompt, cfg)
}
