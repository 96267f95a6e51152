package ai

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a missing or invalid client setting. It is
// returned before any network call is attempted.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured. Please set it in the environment or config.yaml.", e.Setting)
}

// TransportError is a non-success HTTP status from the generative service.
// Body is the raw response text.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Gemini API error: %d - %s", e.Status, e.Body)
}

// ResponseShapeError is a well-formed response that lacks the expected
// candidate/content structure.
type ResponseShapeError struct {
	Reason string
}

func (e *ResponseShapeError) Error() string {
	if strings.TrimSpace(e.Reason) == "" {
		return "Invalid response from Gemini API"
	}
	return "Invalid response from Gemini API: " + e.Reason
}

// ParseError reports candidate text that could not be recovered into the
// expected structured shape.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Failed to parse JSON response from Gemini API (payload snippet: %s)", e.Snippet)
	}
	return fmt.Sprintf("Failed to parse JSON response from Gemini API: %v (payload snippet: %s)", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
