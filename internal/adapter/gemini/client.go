package gemini

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

// NewClient opens one client shared by the embedder and the generator.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
}
