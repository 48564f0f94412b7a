package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 100, cfg.Audio.BlockDurationMs)
	assert.Equal(t, 300.0, cfg.Audio.Amplification)
	assert.Equal(t, 2000.0, cfg.Audio.SilenceThreshold)
	assert.Equal(t, 1500*time.Millisecond, cfg.Audio.SilenceDuration)
	assert.Equal(t, 500*time.Millisecond, cfg.Audio.MinDuration)
	assert.Equal(t, 30*time.Second, cfg.Audio.MaxDuration)

	assert.Equal(t, "hal", cfg.Wake.Phrase)
	assert.Equal(t, 0.6, cfg.Wake.SimilarityThreshold)
	assert.Equal(t, 2*time.Second, cfg.Wake.Debounce)

	assert.Equal(t, 15*time.Second, cfg.App.ScreensaverTimeout)
	assert.NotEmpty(t, cfg.App.LogDir)
}
