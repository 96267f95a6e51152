package eda

import (
	"context"
	"errors"

	"edaagent/pkg/ai"
	"edaagent/pkg/domain"
)

// ErrNetlistRequired is returned when stage 2 is invoked without a stage-1 result.
var ErrNetlistRequired = errors.New("script generation requires a structured netlist")

// ScriptGenerator is pipeline stage 2: description + netlist -> Fusion 360 script.
type ScriptGenerator struct {
	gen ai.ContentGenerator
}

func NewScriptGenerator(gen ai.ContentGenerator) *ScriptGenerator {
	return &ScriptGenerator{gen: gen}
}

// Generate returns the trimmed script text. The output is code, so it is not
// JSON-parsed.
func (g *ScriptGenerator) Generate(ctx context.Context, description string, netlist *domain.StructuredNetlist) (string, error) {
	if netlist == nil {
		return "", ErrNetlistRequired
	}
	if g == nil || g.gen == nil {
		return "", errors.New("script generator not configured")
	}
	prompt, err := buildScriptPrompt(description, netlist)
	if err != nil {
		return "", err
	}
	text, err := g.gen.GenerateContent(ctx, prompt, ai.GenerationConfig{Temperature: scriptTemperature})
	if err != nil {
		return "", err
	}
	script := ai.ExtractText(text)
	if script == "" {
		return "", &ai.ResponseShapeError{Reason: "empty script text"}
	}
	return script, nil
}
