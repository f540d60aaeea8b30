// Package llm provides the chat completion client used to generate responses.
package llm

import "context"

// Client generates a completion for an assembled prompt.
type Client interface {
	// Generate returns the model's response text. An error means no usable
	// response was produced; callers must not treat an error as a response.
	Generate(ctx context.Context, prompt string) (string, error)
	Close() error
}
