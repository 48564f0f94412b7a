// Package wake detects the configured wake phrase in streamed recognizer
// hypotheses and raises debounced detection events.
package wake

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/normanking/voicekiosk/internal/audio"
	"github.com/normanking/voicekiosk/internal/bus"
	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"
)

// Hypothesis is one recognizer result for the current audio window.
// Partial hypotheses arrive while the speaker is mid-word; final ones after
// an utterance boundary. Both are evaluated — the classic double-trigger
// bug comes from evaluating only one of the two streams.
type Hypothesis struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Detection is raised at most once per debounce window.
type Detection struct {
	Timestamp   time.Time `json:"timestamp"`
	MatchedText string    `json:"matched_text"`
	Score       float64   `json:"score"`
}

// Recognizer is the external streaming speech recognizer boundary.
type Recognizer interface {
	// Feed sends one block of 16-bit PCM and returns zero or more
	// hypotheses produced for it.
	Feed(pcm []byte) ([]Hypothesis, error)
	// Reset discards recognizer state between utterances.
	Reset() error
	Close() error
}

// Config tunes wake phrase matching.
type Config struct {
	Phrase              string        `json:"phrase"`
	SimilarityThreshold float64       `json:"similarity_threshold"` // Default: 0.6
	Debounce            time.Duration `json:"debounce"`             // Default: 2s
	QueueSize           int           `json:"queue_size"`           // Block backlog before dropping oldest
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Phrase:              "hal",
		SimilarityThreshold: 0.6,
		Debounce:            2 * time.Second,
		QueueSize:           20,
	}
}

// Known misrecognitions of common wake words. Short words like "hal" come
// back from small acoustic models as near-homophones far more often than as
// themselves.
var phoneticVariants = map[string][]string{
	"hal":      {"how", "hall", "hell", "hail", "haul", "owl", "al", "pal", "cal"},
	"max":      {"mack", "mac", "macs", "backs", "wax", "tax"},
	"hey":      {"hay", "high", "hi"},
	"computer": {"computers", "computed"},
	"alexa":    {"alex", "alexis"},
	"jarvis":   {"service", "services"},
}

// Matcher consumes blocks while the stream manager is listening, forwards
// them to the recognizer, and raises debounced detections.
type Matcher struct {
	cfg      Config
	rec      Recognizer
	bus      *bus.EventBus
	logger   zerolog.Logger
	variants []string

	blocks chan audio.Block

	// feedDown tracks an ongoing recognizer outage. Touched only by the Run
	// goroutine.
	feedDown bool

	mu            sync.Mutex
	lastDetection time.Time
	onDetection   func(Detection)

	now func() time.Time
}

// NewMatcher creates a matcher for the configured phrase.
func NewMatcher(cfg Config, rec Recognizer, eventBus *bus.EventBus, logger zerolog.Logger) *Matcher {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.6
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 20
	}
	phrase := normalize(cfg.Phrase)
	cfg.Phrase = phrase

	variants := []string{phrase}
	variants = append(variants, phoneticVariants[phrase]...)

	m := &Matcher{
		cfg:      cfg,
		rec:      rec,
		bus:      eventBus,
		logger:   logger.With().Str("component", "wake").Logger(),
		variants: variants,
		blocks:   make(chan audio.Block, cfg.QueueSize),
		now:      time.Now,
	}
	m.logger.Info().
		Str("phrase", phrase).
		Strs("variants", variants).
		Float64("threshold", cfg.SimilarityThreshold).
		Dur("debounce", cfg.Debounce).
		Msg("Wake matcher initialized")
	return m
}

// OnDetection registers the detection callback. Invoked from the Run
// goroutine, once per debounce window.
func (m *Matcher) OnDetection(fn func(Detection)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDetection = fn
}

// Push enqueues a block for recognition. Never blocks: when the backlog is
// full the oldest block is dropped, which only costs a little listening
// latency.
func (m *Matcher) Push(b audio.Block) {
	for {
		select {
		case m.blocks <- b:
			return
		default:
			select {
			case <-m.blocks:
			default:
			}
		}
	}
}

// Run drains queued blocks, feeds the recognizer, and evaluates every
// hypothesis until ctx is cancelled. This is the cooperative path; the
// capture callback only ever touches Push.
func (m *Matcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-m.blocks:
			hyps, err := m.rec.Feed(pcmBytes(b.Samples))
			if err != nil {
				// Warn once per outage; an unreachable recognizer would
				// otherwise emit a warning for every block.
				if !m.feedDown {
					m.feedDown = true
					m.logger.Warn().Err(err).Msg("Recognizer feed failed, suppressing further warnings")
				} else {
					m.logger.Debug().Err(err).Msg("Recognizer feed failed")
				}
				continue
			}
			if m.feedDown {
				m.feedDown = false
				m.logger.Info().Msg("Recognizer feed recovered")
			}
			for _, h := range hyps {
				m.evaluate(h, b.Timestamp)
			}
		}
	}
}

// evaluate scores one hypothesis and raises a detection unless debounced.
func (m *Matcher) evaluate(h Hypothesis, ts time.Time) {
	matched, score := m.Match(h.Text)
	if !matched {
		return
	}

	now := m.now()
	m.mu.Lock()
	if !m.lastDetection.IsZero() && now.Sub(m.lastDetection) < m.cfg.Debounce {
		m.mu.Unlock()
		m.logger.Debug().
			Str("text", h.Text).
			Bool("final", h.Final).
			Msg("Wake match within debounce window, discarded")
		return
	}
	m.lastDetection = now
	cb := m.onDetection
	m.mu.Unlock()

	d := Detection{Timestamp: ts, MatchedText: h.Text, Score: score}
	m.logger.Info().
		Str("text", h.Text).
		Float64("score", score).
		Bool("final", h.Final).
		Msg("Wake phrase detected")

	if cb != nil {
		cb(d)
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Type: bus.EventTypeWakeDetected,
			Data: map[string]any{"text": h.Text, "score": score, "timestamp": ts},
		})
	}

	// Clear recognizer state so stale hypotheses from this utterance cannot
	// resurface once the debounce window expires.
	if m.rec != nil {
		if err := m.rec.Reset(); err != nil {
			m.logger.Debug().Err(err).Msg("Recognizer reset failed")
		}
	}
}

// Match reports whether text contains the wake phrase or a close variant,
// with the score of the best match. Pure function over normalized strings;
// the only matcher state is the debounce timestamp.
func (m *Matcher) Match(text string) (bool, float64) {
	text = normalize(text)
	if text == "" {
		return false, 0
	}

	// Direct-match fast path.
	if strings.Contains(text, m.cfg.Phrase) {
		return true, 1.0
	}

	best := 0.0
	words := strings.Fields(text)
	for _, word := range words {
		for _, v := range m.variants {
			if word == v {
				return true, 1.0
			}
		}
		if r := similarityRatio(word, m.cfg.Phrase); r > best {
			best = r
		}
	}
	if best >= m.cfg.SimilarityThreshold {
		return true, best
	}

	// Subsequence fallback: the phrase embedded in a slightly longer word
	// ("hal" inside "halo") can fall just under the ratio threshold.
	if best >= m.cfg.SimilarityThreshold-0.1 {
		if matches := fuzzy.Find(m.cfg.Phrase, words); len(matches) > 0 {
			word := matches[0].Str
			if len(word) <= 2*len(m.cfg.Phrase) {
				return true, best
			}
		}
	}

	return false, best
}

// normalize lowercases and strips everything but letters, digits, and
// spaces, collapsing runs of whitespace.
func normalize(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			space = false
		case r == ' ' || r == '\t' || r == '\n':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// similarityRatio is a difflib-style ratio: twice the length of the longest
// common subsequence over the combined length. 1.0 means identical.
func similarityRatio(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	lcs := lcsLength(a, b)
	return 2.0 * float64(lcs) / float64(len(a)+len(b))
}

func lcsLength(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// pcmBytes converts samples to little-endian 16-bit PCM for the recognizer.
func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
