// Package gemini adapts the Gemini API to the embedding and answer
// generation contracts.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"pdfsearch/internal/settings"
)

var ErrMissingAPIKey = errors.New("gemini api key not configured")

// SettingsProvider yields the runtime settings holding the API key.
type SettingsProvider interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// clientCache holds one genai client and replaces it when the key changes.
type clientCache struct {
	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
	clientOpts []option.ClientOption
}

func (c *clientCache) get(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, c.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *clientCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}

// resolveKey prefers the key stored in settings and falls back to the one
// from the environment.
func resolveKey(ctx context.Context, svc SettingsProvider, fallback string) (string, error) {
	if svc != nil {
		s, err := svc.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get settings: %w", err)
		}
		if s.GeminiAPIKey != "" {
			return s.GeminiAPIKey, nil
		}
	}
	if fallback == "" {
		return "", ErrMissingAPIKey
	}
	return fallback, nil
}
