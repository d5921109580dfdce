package model

import (
	"context"

	ctxpkg "github.com/stupiduntilnot/tgrelay/internal/context"
)

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Params are the sampling settings sent with every completion request.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Provider is the model provider abstraction used by the conversation service.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []ctxpkg.Turn, params Params) (CompletionResponse, error)
}

// Unavailable stands in for a provider whose client could not be constructed.
// Every call fails with Err.
type Unavailable struct {
	Err error
}

func (u Unavailable) ChatCompletion(context.Context, []ctxpkg.Turn, Params) (CompletionResponse, error) {
	return CompletionResponse{}, u.Err
}
