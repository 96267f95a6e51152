package ai

import "context"

// ContentGenerator sends one prompt with a generation config and returns the
// raw text payload. Both pipeline stages depend on this interface.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}
