package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultEmbeddingModel = "text-embedding-004"

// DynamicEmbedder embeds text with the API key currently stored in
// settings, rebuilding the client when the key changes.
type DynamicEmbedder struct {
	settingsSvc SettingsProvider
	fallbackKey string
	model       string
	clients     clientCache
}

func NewDynamicEmbedder(svc SettingsProvider, fallbackKey, model string, opts ...option.ClientOption) *DynamicEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &DynamicEmbedder{
		settingsSvc: svc,
		fallbackKey: fallbackKey,
		model:       model,
		clients:     clientCache{clientOpts: opts},
	}
}

func (e *DynamicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key, err := resolveKey(ctx, e.settingsSvc, e.fallbackKey)
	if err != nil {
		return nil, err
	}

	client, err := e.clients.get(ctx, key)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	res, err := client.EmbeddingModel(e.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}

	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}

	return res.Embedding.Values, nil
}

func (e *DynamicEmbedder) Close() error {
	return e.clients.Close()
}
