package wake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/normanking/voicekiosk/internal/audio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	return NewMatcher(DefaultConfig(), nil, nil, zerolog.Nop())
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		matched bool
	}{
		{name: "exact phrase", text: "hal", matched: true},
		{name: "phrase in sentence", text: "hey hal what time is it", matched: true},
		{name: "phonetic variant how", text: "how are you", matched: true},
		{name: "phonetic variant hall", text: "down the hall", matched: true},
		{name: "phonetic variant owl", text: "owl", matched: true},
		{name: "close misrecognition halo", text: "halo", matched: true},
		{name: "unrelated speech", text: "what a nice day", matched: false},
		{name: "unrelated word help", text: "help", matched: false},
		{name: "empty hypothesis", text: "", matched: false},
		{name: "punctuation and case", text: "Hey, HAL!", matched: true},
	}

	m := newTestMatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, score := m.Match(tt.text)
			assert.Equal(t, tt.matched, matched)
			if tt.matched {
				assert.Greater(t, score, 0.0)
			}
		})
	}
}

func TestMatchCustomPhrase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Phrase = "max"
	m := NewMatcher(cfg, nil, nil, zerolog.Nop())

	matched, score := m.Match("mack turn on the lights")
	assert.True(t, matched)
	assert.Equal(t, 1.0, score)

	matched, _ = m.Match("hal")
	assert.False(t, matched, "variants of other phrases must not match")
}

func TestMatchScoreOrdering(t *testing.T) {
	m := newTestMatcher(t)

	_, exact := m.Match("hal")
	_, near := m.Match("halo")
	require.Equal(t, 1.0, exact)
	assert.Less(t, near, exact)
	assert.GreaterOrEqual(t, near, 0.6)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hey, HAL!", "hey hal"},
		{"  spaced   out  ", "spaced out"},
		{"it's 9 o'clock", "its 9 oclock"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalize(tt.in))
	}
}

func TestSimilarityRatio(t *testing.T) {
	assert.Equal(t, 1.0, similarityRatio("hal", "hal"))
	assert.Equal(t, 1.0, similarityRatio("", ""))
	assert.Equal(t, 0.0, similarityRatio("hal", ""))
	assert.InDelta(t, 6.0/7.0, similarityRatio("halo", "hal"), 0.001)
	assert.InDelta(t, 0.5, similarityRatio("hello", "hal"), 0.001)
}

// fakeClock hands out a controllable time to the matcher.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestDebounceCollapsesBurst(t *testing.T) {
	m := newTestMatcher(t)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m.now = clock.now

	var mu sync.Mutex
	var detections []Detection
	m.OnDetection(func(d Detection) {
		mu.Lock()
		detections = append(detections, d)
		mu.Unlock()
	})

	// A partial and final hypothesis for the same utterance arrive within
	// half a second. Only the first raises a detection.
	m.evaluate(Hypothesis{Text: "hal", Final: false}, clock.now())
	clock.advance(400 * time.Millisecond)
	m.evaluate(Hypothesis{Text: "hal", Final: true}, clock.now())
	clock.advance(400 * time.Millisecond)
	m.evaluate(Hypothesis{Text: "hey hal", Final: true}, clock.now())

	mu.Lock()
	assert.Len(t, detections, 1)
	mu.Unlock()

	// Past the 2s debounce window a fresh utterance is detected again.
	clock.advance(1700 * time.Millisecond)
	m.evaluate(Hypothesis{Text: "hal", Final: true}, clock.now())

	mu.Lock()
	assert.Len(t, detections, 2)
	mu.Unlock()
}

func TestPushDropsOldestUnderPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	m := NewMatcher(cfg, nil, nil, zerolog.Nop())

	mk := func(v int16) audio.Block {
		return audio.Block{Samples: []int16{v}, Timestamp: time.Now()}
	}
	m.Push(mk(1))
	m.Push(mk(2))
	m.Push(mk(3)) // drops block 1

	first := <-m.blocks
	second := <-m.blocks
	assert.Equal(t, int16(2), first.Samples[0])
	assert.Equal(t, int16(3), second.Samples[0])
	assert.Empty(t, m.blocks)
}

// scriptedRecognizer returns a fixed hypothesis for every fed block and can
// fail its first failures feeds.
type scriptedRecognizer struct {
	hyp      Hypothesis
	failures int

	mu     sync.Mutex
	feeds  int
	resets int
}

func (r *scriptedRecognizer) Feed(pcm []byte) ([]Hypothesis, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds++
	if r.feeds <= r.failures {
		return nil, errors.New("connection refused")
	}
	return []Hypothesis{r.hyp}, nil
}

func (r *scriptedRecognizer) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return nil
}

func (r *scriptedRecognizer) Close() error { return nil }

func (r *scriptedRecognizer) resetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

func TestRunEvaluatesRecognizerHypotheses(t *testing.T) {
	cfg := DefaultConfig()
	m := NewMatcher(cfg, &scriptedRecognizer{hyp: Hypothesis{Text: "hal", Final: true}}, nil, zerolog.Nop())

	detected := make(chan Detection, 1)
	m.OnDetection(func(d Detection) { detected <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	ts := time.Now()
	m.Push(audio.Block{Samples: []int16{1, 2, 3}, Timestamp: ts})

	select {
	case d := <-detected:
		assert.Equal(t, "hal", d.MatchedText)
		assert.Equal(t, ts, d.Timestamp)
		assert.Equal(t, 1.0, d.Score)
	case <-time.After(time.Second):
		t.Fatal("detection never raised")
	}
}

func TestDetectionResetsRecognizer(t *testing.T) {
	rec := &scriptedRecognizer{hyp: Hypothesis{Text: "hal", Final: true}}
	m := NewMatcher(DefaultConfig(), rec, nil, zerolog.Nop())

	detected := make(chan Detection, 1)
	m.OnDetection(func(d Detection) { detected <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Push(audio.Block{Samples: []int16{1, 2, 3}, Timestamp: time.Now()})

	select {
	case <-detected:
	case <-time.After(time.Second):
		t.Fatal("detection never raised")
	}
	assert.Eventually(t, func() bool { return rec.resetCount() == 1 },
		time.Second, 5*time.Millisecond, "recognizer state not cleared after detection")
}

func TestRunRecoversAfterRecognizerOutage(t *testing.T) {
	rec := &scriptedRecognizer{hyp: Hypothesis{Text: "hal", Final: true}, failures: 3}
	m := NewMatcher(DefaultConfig(), rec, nil, zerolog.Nop())

	detected := make(chan Detection, 1)
	m.OnDetection(func(d Detection) { detected <- d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// The first blocks hit the outage; the matcher keeps consuming and the
	// detection lands once the recognizer answers again.
	for i := 0; i < 4; i++ {
		m.Push(audio.Block{Samples: []int16{int16(i)}, Timestamp: time.Now()})
	}

	select {
	case d := <-detected:
		assert.Equal(t, "hal", d.MatchedText)
	case <-time.After(time.Second):
		t.Fatal("detection never raised after recognizer recovery")
	}
}
