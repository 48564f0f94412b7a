// Package audio owns the single exclusive capture stream for the kiosk and
// multiplexes it between wake-phrase listening and utterance recording.
package audio

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrNotStarted        = errors.New("audio stream not started")
)

// Mode is the exclusive consumer assignment for captured blocks.
// Exactly one mode is active at any instant.
type Mode string

const (
	ModeListening Mode = "listening"
	ModeRecording Mode = "recording"
)

// Block is one fixed-size chunk of signed 16-bit samples plus its capture
// timestamp. A block is delivered to exactly one consumer and is not
// modified after capture.
type Block struct {
	Samples   []int16   `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Duration returns the play time of the block at the given sample rate.
func (b Block) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(sampleRate)
}

// Config holds capture and recording tuning.
type Config struct {
	Device          string  `json:"device"`
	SampleRate      int     `json:"sample_rate"`       // Default: 16000 Hz
	BlockDurationMs int     `json:"block_duration_ms"` // Default: 100ms
	Amplification   float64 `json:"amplification"`     // Software gain for low-gain USB mics

	// Recording session tuning
	SilenceThreshold      float64       `json:"silence_threshold"`       // RMS on the raw int16 scale
	SilenceDuration       time.Duration `json:"silence_duration"`        // Sustained silence that ends a recording
	MinDuration           time.Duration `json:"min_duration"`            // Shorter recordings are rejected
	MaxDuration           time.Duration `json:"max_duration"`            // Hard cap per recording
	SpeechEnergyThreshold float64       `json:"speech_energy_threshold"` // 0 means SilenceThreshold * 1.5
	RecordingsDir         string        `json:"recordings_dir"`
}

// DefaultConfig returns sensible defaults, tuned for a low-gain USB
// microphone on a kiosk.
func DefaultConfig() *Config {
	return &Config{
		Device:           "default",
		SampleRate:       16000,
		BlockDurationMs:  100,
		Amplification:    300.0,
		SilenceThreshold: 2000,
		SilenceDuration:  1500 * time.Millisecond,
		MinDuration:      500 * time.Millisecond,
		MaxDuration:      30 * time.Second,
		RecordingsDir:    "/tmp/voicekiosk_recordings",
	}
}

// BlockSize returns the number of samples per capture block.
func (c *Config) BlockSize() int {
	return c.SampleRate * c.BlockDurationMs / 1000
}

// speechThreshold returns the peak-energy floor used to reject recordings
// that never contained speech.
func (c *Config) speechThreshold() float64 {
	if c.SpeechEnergyThreshold > 0 {
		return c.SpeechEnergyThreshold
	}
	return c.SilenceThreshold * 1.5
}

// CaptureDevice is the hardware boundary. The production implementation
// wraps PortAudio; tests substitute a fake.
type CaptureDevice interface {
	// Open claims the device exclusively. Called exactly once per Start.
	Open(cfg *Config) error
	// ReadBlock blocks until one capture block is available and returns a
	// fresh slice the caller owns.
	ReadBlock() ([]int16, error)
	Close() error
}
