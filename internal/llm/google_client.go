package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleClient implements the Client interface using the official Google
// GenAI SDK.
type GoogleClient struct {
	modelName string
	client    *genai.Client
}

// NewGoogleClient creates a Google GenAI client for the provided model
func NewGoogleClient(apiKey, modelName string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("google genai client requires an API key")
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = defaultGoogleModel
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google GenAI client: %w", err)
	}

	return &GoogleClient{
		modelName: model,
		client:    client,
	}, nil
}

func (c *GoogleClient) GetModelName() string {
	return c.modelName
}

func (c *GoogleClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("google genai completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	return collectTextFromContent(resp.Candidates[0].Content), nil
}

func collectTextFromContent(content *genai.Content) string {
	if content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
