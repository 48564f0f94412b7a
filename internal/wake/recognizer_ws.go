package wake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSRecognizer streams audio to a vosk-server style WebSocket endpoint.
// The server answers each binary audio frame with a JSON message holding
// either a partial or a final hypothesis.
type WSRecognizer struct {
	url        string
	sampleRate int
	logger     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

type wsResult struct {
	Partial string `json:"partial"`
	Text    string `json:"text"`
}

// NewWSRecognizer creates an unconnected recognizer client.
func NewWSRecognizer(url string, sampleRate int, logger zerolog.Logger) *WSRecognizer {
	return &WSRecognizer{
		url:        url,
		sampleRate: sampleRate,
		logger:     logger.With().Str("component", "recognizer").Logger(),
	}
}

// Connect dials the recognizer and sends the stream configuration.
func (r *WSRecognizer) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("recognizer dial: %w", err)
	}

	cfg := fmt.Sprintf(`{"config": {"sample_rate": %d}}`, r.sampleRate)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cfg)); err != nil {
		conn.Close()
		return fmt.Errorf("recognizer config: %w", err)
	}

	r.conn = conn
	r.logger.Info().Str("url", r.url).Int("sample_rate", r.sampleRate).Msg("Connected to recognizer")
	return nil
}

// Feed sends one PCM block and returns the hypotheses produced for it.
func (r *WSRecognizer) Feed(pcm []byte) ([]Hypothesis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil, fmt.Errorf("recognizer not connected")
	}

	if err := r.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return nil, fmt.Errorf("recognizer write: %w", err)
	}

	_, message, err := r.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("recognizer read: %w", err)
	}

	var res wsResult
	if err := json.Unmarshal(message, &res); err != nil {
		r.logger.Warn().Err(err).Str("message", string(message)).Msg("Unparseable recognizer message")
		return nil, nil
	}

	var hyps []Hypothesis
	if res.Text != "" {
		hyps = append(hyps, Hypothesis{Text: res.Text, Final: true})
	} else if res.Partial != "" {
		hyps = append(hyps, Hypothesis{Text: res.Partial, Final: false})
	}
	return hyps, nil
}

// Reset asks the server to close out the current utterance and discards the
// final hypothesis it returns.
func (r *WSRecognizer) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	if err := r.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		return fmt.Errorf("recognizer reset: %w", err)
	}
	if _, _, err := r.conn.ReadMessage(); err != nil {
		return fmt.Errorf("recognizer reset read: %w", err)
	}
	return nil
}

// Close closes the connection.
func (r *WSRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.logger.Info().Msg("Recognizer connection closed")
	return err
}
