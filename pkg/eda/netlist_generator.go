package eda

import (
	"context"
	"errors"
	"fmt"

	"edaagent/pkg/ai"
	"edaagent/pkg/domain"
)

const (
	netlistTemperature = 0.3
	scriptTemperature  = 0.2
)

// NetlistGenerator is pipeline stage 1: description -> StructuredNetlist.
type NetlistGenerator struct {
	gen ai.ContentGenerator
}

// NewNetlistGenerator binds stage 1 to a content generator.
func NewNetlistGenerator(gen ai.ContentGenerator) *NetlistGenerator {
	return &NetlistGenerator{gen: gen}
}

// Generate asks the model for a schema-constrained netlist and decodes it.
// Every required field must be present; a response that only resembles a
// netlist is a *ai.ParseError. Internal consistency (dangling references) is
// not checked here.
func (g *NetlistGenerator) Generate(ctx context.Context, description string) (domain.StructuredNetlist, error) {
	if g == nil || g.gen == nil {
		return domain.StructuredNetlist{}, errors.New("netlist generator not configured")
	}
	text, err := g.gen.GenerateContent(ctx, buildNetlistPrompt(description), ai.GenerationConfig{
		Temperature:      netlistTemperature,
		ResponseMimeType: ai.MIMETypeJSON,
		ResponseSchema:   NetlistSchema(),
	})
	if err != nil {
		return domain.StructuredNetlist{}, err
	}
	var netlist domain.StructuredNetlist
	if err := ai.DecodeStructured(text, &netlist, checkNetlistShape); err != nil {
		return domain.StructuredNetlist{}, fmt.Errorf("decode netlist: %w", err)
	}
	netlist.Normalize()
	return netlist, nil
}
