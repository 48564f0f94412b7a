// Package config provides configuration management for the voice kiosk.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Audio   AudioConfig   `mapstructure:"audio"`
	Wake    WakeConfig    `mapstructure:"wake"`
	STT     STTConfig     `mapstructure:"stt"`
	Respond RespondConfig `mapstructure:"respond"`
	TTS     TTSConfig     `mapstructure:"tts"`
	App     AppConfig     `mapstructure:"app"`
}

// AudioConfig configures the capture stream and recording sessions
type AudioConfig struct {
	Device                string        `mapstructure:"device"`
	SampleRate            int           `mapstructure:"sample_rate"`
	BlockDurationMs       int           `mapstructure:"block_duration_ms"`
	Amplification         float64       `mapstructure:"amplification"`
	SilenceThreshold      float64       `mapstructure:"silence_threshold"`
	SilenceDuration       time.Duration `mapstructure:"silence_duration"`
	MinDuration           time.Duration `mapstructure:"min_recording_duration"`
	MaxDuration           time.Duration `mapstructure:"max_recording_duration"`
	SpeechEnergyThreshold float64       `mapstructure:"speech_energy_threshold"`
	RecordingsDir         string        `mapstructure:"recordings_dir"`
}

// WakeConfig configures wake phrase detection
type WakeConfig struct {
	Phrase              string        `mapstructure:"phrase"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	Debounce            time.Duration `mapstructure:"debounce"`
	RecognizerURL       string        `mapstructure:"recognizer_url"`
}

// STTConfig configures the transcription collaborator
type STTConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Language   string `mapstructure:"language"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// RespondConfig configures the response-generation collaborator
type RespondConfig struct {
	URL          string `mapstructure:"url"`
	Model        string `mapstructure:"model"`
	TimeoutSec   int    `mapstructure:"timeout_sec"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// TTSConfig configures speech playback
type TTSConfig struct {
	ServiceURL string  `mapstructure:"service_url"`
	Voice      string  `mapstructure:"voice"`
	Rate       float64 `mapstructure:"rate"`
	TimeoutSec int     `mapstructure:"timeout_sec"`
}

// AppConfig configures top-level behavior
type AppConfig struct {
	ScreensaverTimeout time.Duration `mapstructure:"screensaver_timeout"`
	LogDir             string        `mapstructure:"log_dir"`
	LogLevel           string        `mapstructure:"log_level"`
}

// DefaultConfig returns sensible default configuration. The audio defaults
// are tuned for a low-gain USB microphone on a kiosk.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Audio: AudioConfig{
			Device:           "default",
			SampleRate:       16000,
			BlockDurationMs:  100,
			Amplification:    300.0,
			SilenceThreshold: 2000,
			SilenceDuration:  1500 * time.Millisecond,
			MinDuration:      500 * time.Millisecond,
			MaxDuration:      30 * time.Second,
			RecordingsDir:    "/tmp/voicekiosk_recordings",
		},
		Wake: WakeConfig{
			Phrase:              "hal",
			SimilarityThreshold: 0.6,
			Debounce:            2 * time.Second,
			RecognizerURL:       "ws://localhost:2700",
		},
		STT: STTConfig{
			ServiceURL: "http://localhost:8899",
			Language:   "en",
			TimeoutSec: 30,
		},
		Respond: RespondConfig{
			URL:        "http://localhost:11434",
			Model:      "qwen2.5:3b",
			TimeoutSec: 120,
		},
		TTS: TTSConfig{
			ServiceURL: "http://localhost:5002",
			Rate:       1.0,
			TimeoutSec: 30,
		},
		App: AppConfig{
			ScreensaverTimeout: 15 * time.Second,
			LogDir:             filepath.Join(home, ".voicekiosk", "logs"),
			LogLevel:           "info",
		},
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return cfg, err
	}

	configDir := filepath.Join(homeDir, ".voicekiosk")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("VOICEKIOSK")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch reloads the config file on change and invokes onChange with the
// fresh configuration. Tuning values picked up this way apply to the next
// recording session; the capture device itself is never reopened.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(homeDir, ".voicekiosk")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("audio", cfg.Audio)
	viper.Set("wake", cfg.Wake)
	viper.Set("stt", cfg.STT)
	viper.Set("respond", cfg.Respond)
	viper.Set("tts", cfg.TTS)
	viper.Set("app", cfg.App)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}
