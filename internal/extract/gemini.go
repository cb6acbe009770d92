package extract

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiGenerator is the production Generator backed by the Gemini API.
// Credentials come from the environment (GEMINI_API_KEY or ADC).
type GeminiGenerator struct {
	model string
}

var _ Generator = (*GeminiGenerator)(nil)

func NewGeminiGenerator(model string) *GeminiGenerator {
	return &GeminiGenerator{model: model}
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("extract: create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("extract: generate content: %w", err)
	}
	return resp.Text(), nil
}
