// Package tts turns reply text into audible speech.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/rs/zerolog"
)

// Config configures the HTTP TTS provider.
type Config struct {
	ServiceURL string  `json:"service_url"` // e.g. a local piper HTTP wrapper
	Voice      string  `json:"voice"`
	Rate       float64 `json:"rate"`
	TimeoutSec int     `json:"timeout_sec"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceURL: "http://localhost:5002",
		Rate:       1.0,
		TimeoutSec: 30,
	}
}

// HTTPSpeaker fetches synthesized WAV audio from a TTS service and plays
// it on the default output device. Playback runs entirely outside the
// capture path; it never holds the audio input callback.
type HTTPSpeaker struct {
	config     *Config
	httpClient *http.Client
	logger     zerolog.Logger

	initOnce sync.Once
	initErr  error
}

// NewHTTPSpeaker creates a speaker.
func NewHTTPSpeaker(config *Config, logger zerolog.Logger) *HTTPSpeaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &HTTPSpeaker{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSec) * time.Second,
		},
		logger: logger.With().Str("provider", "tts").Logger(),
	}
}

// Speak synthesizes and plays text, returning when playback completes or
// ctx is cancelled.
func (s *HTTPSpeaker) Speak(ctx context.Context, text string) error {
	audio, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	return s.play(ctx, audio)
}

func (s *HTTPSpeaker) synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"text":  text,
		"voice": s.config.Voice,
		"rate":  s.config.Rate,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.ServiceURL+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("tts service returned status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	s.logger.Debug().Int("bytes", len(audio)).Msg("Speech synthesized")
	return audio, nil
}

// play decodes the WAV payload and plays it through beep's speaker.
func (s *HTTPSpeaker) play(ctx context.Context, audio []byte) error {
	streamer, format, err := wav.Decode(bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	defer streamer.Close()

	s.initOnce.Do(func() {
		s.initErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if s.initErr != nil {
		return fmt.Errorf("init speaker: %w", s.initErr)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		s.logger.Debug().Msg("Playback complete")
		return nil
	case <-ctx.Done():
		speaker.Clear()
		s.logger.Info().Msg("Playback cancelled")
		return ctx.Err()
	}
}
