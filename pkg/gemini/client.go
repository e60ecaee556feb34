package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// NewClient creates the shared GenerateContent client used by the speech
// and profile collaborators.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create generative client: %w", err)
	}
	return client, nil
}
