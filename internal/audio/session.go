package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// OutcomeKind tags the result of a recording session.
type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeTooShort OutcomeKind = "rejected_too_short"
	OutcomeNoSpeech OutcomeKind = "rejected_no_speech"
	OutcomeTimeout  OutcomeKind = "rejected_timeout"
)

// Outcome is the result of a finished recording session. Rejections are
// normal returns, not errors: no artifact is persisted for them.
type Outcome struct {
	Kind       OutcomeKind   `json:"kind"`
	Path       string        `json:"path,omitempty"`
	Duration   time.Duration `json:"duration"`
	AvgEnergy  float64       `json:"avg_energy"`
	PeakEnergy float64       `json:"peak_energy"`
}

// Rejected reports whether the session produced no artifact.
func (o Outcome) Rejected() bool {
	return o.Kind != OutcomeSuccess
}

// Session accumulates blocks while the stream manager is in ModeRecording.
// It is owned by the manager and fed from the capture path; the only reader
// is Finalize, called after the session terminates. Durations are derived
// from sample counts, not wall clock, so the silence and timeout logic is
// deterministic for a given block sequence.
type Session struct {
	cfg    *Config
	logger zerolog.Logger

	started    time.Time
	blocks     []Block
	samples    int
	speechSeen bool
	silence    time.Duration // consecutive sub-threshold time since last speech
	energySum  float64
	peak       float64
	timedOut   bool
}

func newSession(cfg *Config, logger zerolog.Logger, now time.Time) *Session {
	return &Session{
		cfg:     cfg,
		logger:  logger.With().Str("component", "session").Logger(),
		started: now,
	}
}

// feed appends one block and reports whether the session should terminate.
// Termination checks run in priority order: max duration, then sustained
// silence after speech. It does no I/O; persistence happens in Finalize.
func (s *Session) feed(b Block, energy float64) bool {
	s.blocks = append(s.blocks, b)
	s.samples += len(b.Samples)
	s.energySum += energy
	if energy > s.peak {
		s.peak = energy
	}

	blockDur := b.Duration(s.cfg.SampleRate)
	if energy >= s.cfg.SilenceThreshold {
		s.speechSeen = true
		s.silence = 0
	} else if s.speechSeen {
		s.silence += blockDur
	}

	if s.duration() >= s.cfg.MaxDuration {
		s.timedOut = true
		return true
	}
	if s.speechSeen && s.silence >= s.cfg.SilenceDuration {
		return true
	}
	return false
}

func (s *Session) duration() time.Duration {
	if s.cfg.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.samples) * time.Second / time.Duration(s.cfg.SampleRate)
}

func (s *Session) avgEnergy() float64 {
	if len(s.blocks) == 0 {
		return 0
	}
	return s.energySum / float64(len(s.blocks))
}

// Finalize validates the accumulated buffer and, on success, concatenates
// the blocks in capture order and persists them as a WAV artifact. It must
// be called off the capture path.
func (s *Session) Finalize() (Outcome, error) {
	dur := s.duration()
	out := Outcome{
		Duration:   dur,
		AvgEnergy:  s.avgEnergy(),
		PeakEnergy: s.peak,
	}

	if s.timedOut && !s.speechSeen {
		out.Kind = OutcomeTimeout
		s.logger.Info().Dur("duration", dur).Msg("Recording timed out with no speech")
		return out, nil
	}
	if dur < s.cfg.MinDuration {
		out.Kind = OutcomeTooShort
		s.logger.Info().Dur("duration", dur).Dur("min", s.cfg.MinDuration).Msg("Recording too short")
		return out, nil
	}
	if s.peak <= s.cfg.speechThreshold() {
		out.Kind = OutcomeNoSpeech
		s.logger.Info().Float64("peak", s.peak).Float64("threshold", s.cfg.speechThreshold()).Msg("Recording contained no speech")
		return out, nil
	}

	pcm := make([]int16, 0, s.samples)
	for _, b := range s.blocks {
		pcm = append(pcm, b.Samples...)
	}

	if err := os.MkdirAll(s.cfg.RecordingsDir, 0755); err != nil {
		return out, fmt.Errorf("create recordings dir: %w", err)
	}
	path := filepath.Join(s.cfg.RecordingsDir,
		fmt.Sprintf("recording_%s.wav", s.started.Format("20060102_150405.000")))
	if err := WriteWAV(path, pcm, s.cfg.SampleRate); err != nil {
		return out, fmt.Errorf("write artifact: %w", err)
	}

	out.Kind = OutcomeSuccess
	out.Path = path
	s.logger.Info().
		Str("path", path).
		Dur("duration", dur).
		Float64("peak", s.peak).
		Bool("truncated", s.timedOut).
		Msg("Recording saved")
	return out, nil
}

// BlockCount returns how many blocks the session accumulated.
func (s *Session) BlockCount() int {
	return len(s.blocks)
}
