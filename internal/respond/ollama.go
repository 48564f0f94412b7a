// Package respond generates spoken replies to transcribed utterances.
// Response generation is an opaque collaborator: the kiosk core hands it
// text and gets text back.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OllamaConfig configures the local LLM client.
type OllamaConfig struct {
	URL          string `json:"url"`   // Default: http://localhost:11434
	Model        string `json:"model"` // Default: qwen2.5:3b
	TimeoutSec   int    `json:"timeout_sec"`
	SystemPrompt string `json:"system_prompt"`
}

// DefaultOllamaConfig returns sensible defaults.
func DefaultOllamaConfig() *OllamaConfig {
	return &OllamaConfig{
		URL:        "http://localhost:11434",
		Model:      "qwen2.5:3b",
		TimeoutSec: 120,
		SystemPrompt: "You are a helpful voice kiosk assistant. " +
			"Answer in one or two short spoken sentences.",
	}
}

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	config     *OllamaConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewOllamaClient creates a client.
func NewOllamaClient(config *OllamaConfig, logger zerolog.Logger) *OllamaClient {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	return &OllamaClient{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSec) * time.Second,
		},
		logger: logger.With().Str("provider", "ollama").Logger(),
	}
}

type generateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	System  string `json:"system,omitempty"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict"`
	} `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Respond generates a reply for the given utterance.
func (c *OllamaClient) Respond(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty utterance")
	}

	req := generateRequest{
		Model:  c.config.Model,
		Prompt: text,
		System: c.config.SystemPrompt,
		Stream: false,
	}
	req.Options.Temperature = 0.7
	req.Options.NumPredict = 256

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama: %s", result.Error)
	}

	reply := strings.TrimSpace(result.Response)
	c.logger.Info().
		Str("model", c.config.Model).
		Dur("elapsed", time.Since(start)).
		Int("reply_len", len(reply)).
		Msg("Response generated")
	return reply, nil
}

// IsAvailable checks whether the Ollama server answers.
func (c *OllamaClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.config.URL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
