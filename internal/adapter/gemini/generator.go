package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGenerationModel = "gemini-1.5-flash"

// DynamicGenerator answers prompts with a Gemini generative model.
type DynamicGenerator struct {
	settingsSvc SettingsProvider
	fallbackKey string
	model       string
	clients     clientCache
}

func NewDynamicGenerator(svc SettingsProvider, fallbackKey, model string, opts ...option.ClientOption) *DynamicGenerator {
	if model == "" {
		model = DefaultGenerationModel
	}
	return &DynamicGenerator{
		settingsSvc: svc,
		fallbackKey: fallbackKey,
		model:       model,
		clients:     clientCache{clientOpts: opts},
	}
}

func (g *DynamicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	key, err := resolveKey(ctx, g.settingsSvc, g.fallbackKey)
	if err != nil {
		return "", err
	}

	client, err := g.clients.get(ctx, key)
	if err != nil {
		return "", err
	}

	slog.DebugContext(ctx, "generating answer", "model", g.model, "prompt_length", len(prompt))
	resp, err := client.GenerativeModel(g.model).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// first candidate with content wins
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from model %s", g.model)
	}
	return sb.String(), nil
}

func (g *DynamicGenerator) Close() error {
	return g.clients.Close()
}
