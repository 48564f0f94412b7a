package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/normanking/voicekiosk/internal/bus"
	"github.com/rs/zerolog"
)

// StreamManager owns the exclusive handle to the audio input device for the
// process lifetime. The device is opened once at Start and closed once at
// Stop; mode switches never touch the hardware, they only change which
// consumer receives subsequent blocks. This is what keeps the kiosk free of
// the device-busy and truncated-capture failures a close/reopen cycle causes.
type StreamManager struct {
	cfg    *Config
	dev    CaptureDevice
	bus    *bus.EventBus
	logger zerolog.Logger

	mu      sync.Mutex
	mode    Mode
	session *Session
	started bool
	closing bool

	// wakeSink receives blocks while in ModeListening. It must not block;
	// the wake matcher buffers internally.
	wakeSink func(Block)
	// onSessionEnd receives a terminated session for finalization. Invoked
	// in a fresh goroutine so Finalize's file I/O stays off the capture path.
	onSessionEnd func(*Session)

	now func() time.Time
}

// NewStreamManager creates a manager in ModeListening.
func NewStreamManager(cfg *Config, dev CaptureDevice, eventBus *bus.EventBus, logger zerolog.Logger) *StreamManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &StreamManager{
		cfg:    cfg,
		dev:    dev,
		bus:    eventBus,
		logger: logger.With().Str("component", "audio").Logger(),
		mode:   ModeListening,
		now:    time.Now,
	}
}

// SetWakeSink registers the listening-mode consumer. Must be called before
// Start.
func (m *StreamManager) SetWakeSink(sink func(Block)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wakeSink = sink
}

// OnSessionEnd registers the recording-mode completion callback. Must be
// called before Start.
func (m *StreamManager) OnSessionEnd(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionEnd = fn
}

// Start claims the capture device and begins the capture loop. It is
// idempotent: a second call while running is a no-op. A device that cannot
// be claimed surfaces ErrDeviceUnavailable; retry policy belongs to the
// caller.
func (m *StreamManager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		m.logger.Debug().Msg("Stream already started")
		return nil
	}
	if err := m.dev.Open(m.cfg); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	m.started = true
	m.closing = false
	m.mu.Unlock()

	m.logger.Info().
		Str("device", m.cfg.Device).
		Int("sample_rate", m.cfg.SampleRate).
		Int("block_size", m.cfg.BlockSize()).
		Float64("amplification", m.cfg.Amplification).
		Msg("Audio stream started")

	go m.captureLoop()
	return nil
}

// Stop releases the device. The current mode is retained.
func (m *StreamManager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.closing = true
	m.mu.Unlock()

	if err := m.dev.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Error closing capture device")
	}
	m.logger.Info().Msg("Audio stream stopped")
}

// Mode returns the currently active mode.
func (m *StreamManager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Reconfigure swaps the tuning used for subsequent blocks and sessions. The
// gain factor applies from the next block; session tuning applies to the
// next recording session — an in-flight session keeps the tuning it started
// with. The capture device is never reopened, so device, sample rate, and
// block size are pinned to their startup values.
func (m *StreamManager) Reconfigure(cfg *Config) {
	if cfg == nil {
		return
	}
	m.mu.Lock()
	cfg.Device = m.cfg.Device
	cfg.SampleRate = m.cfg.SampleRate
	cfg.BlockDurationMs = m.cfg.BlockDurationMs
	m.cfg = cfg
	m.mu.Unlock()

	m.logger.Info().
		Float64("amplification", cfg.Amplification).
		Float64("silence_threshold", cfg.SilenceThreshold).
		Dur("silence_duration", cfg.SilenceDuration).
		Msg("Audio tuning reconfigured")
}

// SetMode atomically switches the active consumer for subsequent blocks.
// Switching into ModeRecording allocates a fresh session; switching into
// ModeListening discards any unfinished session without persisting it (a
// cancelled recording is not an error). Setting the current mode again is
// a no-op with no side effects. The switch is serialized with block
// dispatch, so the block following a switch is routed under the new mode.
func (m *StreamManager) SetMode(mode Mode) {
	m.mu.Lock()
	if mode == m.mode {
		m.mu.Unlock()
		m.logger.Debug().Str("mode", string(mode)).Msg("Mode unchanged")
		return
	}
	old := m.mode
	m.mode = mode
	switch mode {
	case ModeRecording:
		m.session = newSession(m.cfg, m.logger, m.now())
	case ModeListening:
		if m.session != nil {
			m.logger.Info().Int("blocks", m.session.BlockCount()).Msg("Discarding unfinished recording")
			m.session = nil
		}
	}
	m.mu.Unlock()

	m.logger.Info().Str("old", string(old)).Str("new", string(mode)).Msg("Audio mode changed")
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Type: bus.EventTypeModeChanged,
			Data: map[string]any{"old_mode": string(old), "new_mode": string(mode)},
		})
	}
}

// captureLoop reads blocks from the device until Stop or a stream fault.
// The loop body is the bounded hot path: gain, energy, and dispatch only.
func (m *StreamManager) captureLoop() {
	for {
		samples, err := m.dev.ReadBlock()
		if err != nil {
			m.mu.Lock()
			closing := m.closing || !m.started
			m.started = false
			m.mu.Unlock()
			if closing {
				return
			}
			m.logger.Error().Err(err).Msg("Capture stream fault")
			if m.bus != nil {
				m.bus.Publish(bus.Event{
					Type: bus.EventTypeStreamFault,
					Data: map[string]any{"error": err.Error(), "mode": string(m.Mode())},
				})
			}
			if cerr := m.dev.Close(); cerr != nil {
				m.logger.Warn().Err(cerr).Msg("Error closing faulted device")
			}
			return
		}
		m.handleBlock(samples, m.now())
	}
}

// handleBlock applies the gain stage and routes the block to exactly one
// consumer under the current mode. It never blocks on I/O: the wake sink
// enqueues and drops under pressure, and session finalization is deferred
// to a goroutine via onSessionEnd.
func (m *StreamManager) handleBlock(samples []int16, ts time.Time) {
	m.mu.Lock()
	ApplyGain(samples, m.cfg.Amplification)
	block := Block{Samples: samples, Timestamp: ts}
	energy := RMS(samples)

	mode := m.mode
	sess := m.session
	sink := m.wakeSink
	onEnd := m.onSessionEnd

	switch mode {
	case ModeListening:
		m.mu.Unlock()
		if sink != nil {
			sink(block)
		}
	case ModeRecording:
		if sess == nil {
			// Session already terminated; blocks are dropped until the
			// coordinator switches back to listening.
			m.mu.Unlock()
			return
		}
		done := sess.feed(block, energy)
		if done {
			m.session = nil
		}
		m.mu.Unlock()
		if done && onEnd != nil {
			go onEnd(sess)
		}
	default:
		m.mu.Unlock()
	}
}
