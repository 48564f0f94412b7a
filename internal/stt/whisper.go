// Package stt provides speech-to-text transcription of recording artifacts.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Common errors
var (
	ErrServiceUnavailable = errors.New("transcription service unavailable")
	ErrEmptyTranscript    = errors.New("empty transcript")
)

// WhisperConfig holds configuration for the Whisper HTTP provider.
type WhisperConfig struct {
	ServiceURL string `json:"service_url"` // e.g. "http://localhost:8899"
	Language   string `json:"language"`
	TimeoutSec int    `json:"timeout_sec"`
}

// DefaultWhisperConfig returns sensible defaults.
func DefaultWhisperConfig() *WhisperConfig {
	return &WhisperConfig{
		ServiceURL: "http://localhost:8899",
		Language:   "en",
		TimeoutSec: 30,
	}
}

// WhisperProvider transcribes persisted WAV artifacts via a local Whisper
// microservice.
type WhisperProvider struct {
	config     *WhisperConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWhisperProvider creates a new provider.
func NewWhisperProvider(config *WhisperConfig, logger zerolog.Logger) *WhisperProvider {
	if config == nil {
		config = DefaultWhisperConfig()
	}
	return &WhisperProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSec) * time.Second,
		},
		logger: logger.With().Str("provider", "whisper").Logger(),
	}
}

// Transcribe uploads the artifact at path and returns the recognized text.
func (p *WhisperProvider) Transcribe(ctx context.Context, artifactPath string) (string, error) {
	startTime := time.Now()

	audioData, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filepath.Base(artifactPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audioData); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/stt?language=%s", p.config.ServiceURL, p.config.Language)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	p.logger.Debug().Str("path", artifactPath).Int("bytes", len(audioData)).Msg("Sending STT request")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var sttResp struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sttResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if sttResp.Text == "" {
		return "", ErrEmptyTranscript
	}

	p.logger.Info().
		Str("text", sttResp.Text).
		Dur("processing_time", time.Since(startTime)).
		Msg("Transcription complete")
	return sttResp.Text, nil
}

// Health checks if the service is available.
func (p *WhisperProvider) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", p.config.ServiceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper service unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
