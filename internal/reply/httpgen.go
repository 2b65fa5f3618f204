package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chatdeskhq/chatdesk/internal/store"
)

// HTTPGenerator calls an external content-generation service over JSON.
// The service is a black box: POST /classify and POST /generate.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGenerator creates a generator client for the given base URL.
func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGenerator) ClassifyIntent(ctx context.Context, text string) (Intent, error) {
	var out Intent
	err := g.post(ctx, "/classify", map[string]any{"text": text}, &out)
	if err != nil {
		return Intent{}, err
	}
	return out, nil
}

func (g *HTTPGenerator) GenerateReply(ctx context.Context, history []store.Message, text string) (string, error) {
	turns := make([]map[string]string, 0, len(history))
	for _, m := range history {
		turns = append(turns, map[string]string{
			"direction": string(m.Direction),
			"content":   m.Content,
		})
	}

	var out struct {
		Reply string `json:"reply"`
	}
	err := g.post(ctx, "/generate", map[string]any{"history": turns, "text": text}, &out)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (g *HTTPGenerator) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generator returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode generator response: %w", err)
	}
	return nil
}
