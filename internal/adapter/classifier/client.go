package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pdfsearch/internal/scan"
)

// Client calls a remote malware model over HTTP. The request carries the
// features both by name and in model order:
//
//	{"features": {"pdfsize": 1024, ...}, "order": ["pdfsize", ...]}
//
// and the model answers {"malicious": true} or {"label": "malicious"}.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	Features map[string]float64 `json:"features"`
	Order    []string           `json:"order"`
}

type classifyResponse struct {
	Malicious *bool  `json:"malicious"`
	Label     string `json:"label"`
}

func (c *Client) Classify(ctx context.Context, features scan.FeatureVector) (bool, error) {
	payload, err := json.Marshal(classifyRequest{Features: features.Map(), Order: scan.FeatureNames})
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode classifier response: %w", err)
	}

	if out.Malicious != nil {
		return *out.Malicious, nil
	}
	switch strings.ToLower(out.Label) {
	case "malicious", "1", "true":
		return true, nil
	case "benign", "clean", "0", "false":
		return false, nil
	}

	slog.WarnContext(ctx, "classifier answered without a verdict", "label", out.Label)
	return false, fmt.Errorf("classifier response has no verdict")
}
