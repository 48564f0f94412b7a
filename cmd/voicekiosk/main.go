// Command voicekiosk runs the voice-activated kiosk assistant: one exclusive
// audio input stream multiplexed between wake-phrase listening and utterance
// recording, driven by the interaction state machine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/normanking/voicekiosk/internal/audio"
	"github.com/normanking/voicekiosk/internal/bus"
	"github.com/normanking/voicekiosk/internal/config"
	"github.com/normanking/voicekiosk/internal/logging"
	"github.com/normanking/voicekiosk/internal/respond"
	"github.com/normanking/voicekiosk/internal/state"
	"github.com/normanking/voicekiosk/internal/stt"
	"github.com/normanking/voicekiosk/internal/tts"
	"github.com/normanking/voicekiosk/internal/wake"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Defaults still work; a broken config file should not keep the
		// kiosk from booting.
		cfg = config.DefaultConfig()
	}

	logger, err := logging.New(&logging.Config{
		LogDir:  cfg.App.LogDir,
		Level:   logging.LogLevel(cfg.App.LogLevel),
		Console: true,
	})
	if err != nil {
		os.Exit(1)
	}
	defer logger.Close()
	log := logger.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := bus.NewEventBus()

	device := audio.NewPortAudioDevice()
	manager := audio.NewStreamManager(audioConfig(cfg), device, eventBus, logger.Zerolog())

	recognizer := wake.NewWSRecognizer(cfg.Wake.RecognizerURL, cfg.Audio.SampleRate, logger.Zerolog())
	if err := recognizer.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("Recognizer unavailable, wake detection disabled")
	}
	defer recognizer.Close()

	matcher := wake.NewMatcher(wake.Config{
		Phrase:              cfg.Wake.Phrase,
		SimilarityThreshold: cfg.Wake.SimilarityThreshold,
		Debounce:            cfg.Wake.Debounce,
	}, recognizer, eventBus, logger.Zerolog())

	transcriber := stt.NewWhisperProvider(&stt.WhisperConfig{
		ServiceURL: cfg.STT.ServiceURL,
		Language:   cfg.STT.Language,
		TimeoutSec: cfg.STT.TimeoutSec,
	}, logger.Zerolog())

	responder := respond.NewOllamaClient(&respond.OllamaConfig{
		URL:          cfg.Respond.URL,
		Model:        cfg.Respond.Model,
		TimeoutSec:   cfg.Respond.TimeoutSec,
		SystemPrompt: cfg.Respond.SystemPrompt,
	}, logger.Zerolog())

	speaker := tts.NewHTTPSpeaker(&tts.Config{
		ServiceURL: cfg.TTS.ServiceURL,
		Voice:      cfg.TTS.Voice,
		Rate:       cfg.TTS.Rate,
		TimeoutSec: cfg.TTS.TimeoutSec,
	}, logger.Zerolog())

	machine := state.NewMachine(eventBus, logger.Zerolog())
	coordinator := state.NewCoordinator(state.CoordinatorConfig{
		TranscribeTimeout:  time.Duration(cfg.STT.TimeoutSec) * time.Second,
		RespondTimeout:     time.Duration(cfg.Respond.TimeoutSec) * time.Second,
		SpeakTimeout:       time.Duration(cfg.TTS.TimeoutSec) * time.Second,
		ScreensaverTimeout: cfg.App.ScreensaverTimeout,
	}, machine, manager, transcriber, responder, speaker, eventBus, logger.Zerolog())

	// Wire the pipeline: capture -> wake matcher -> coordinator -> recording.
	manager.SetWakeSink(matcher.Push)
	manager.OnSessionEnd(func(s *audio.Session) { coordinator.HandleSessionEnd(s) })
	matcher.OnDetection(coordinator.HandleDetection)

	// Reloaded tuning reaches the stream manager; it applies from the next
	// block (gain) and the next recording session (silence/duration limits).
	config.Watch(func(fresh *config.Config) {
		manager.Reconfigure(audioConfig(fresh))
		log.Info().Msg("Configuration reloaded")
	})

	telemetry := logger.Component("telemetry")
	eventBus.SubscribeMultiple([]bus.EventType{
		bus.EventTypeStateChanged,
		bus.EventTypeWakeDetected,
		bus.EventTypeRecordingOutcome,
		bus.EventTypeStreamFault,
	}, func(e bus.Event) {
		telemetry.Debug().Str("event", string(e.Type)).Fields(e.Data).Msg("Event")
	})

	if err := manager.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start audio stream")
		os.Exit(1)
	}
	defer manager.Stop()

	go matcher.Run(ctx)
	go coordinator.Run(ctx)

	log.Info().Str("phrase", cfg.Wake.Phrase).Msg("Voice kiosk ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
	cancel()
}

func audioConfig(cfg *config.Config) *audio.Config {
	return &audio.Config{
		Device:                cfg.Audio.Device,
		SampleRate:            cfg.Audio.SampleRate,
		BlockDurationMs:       cfg.Audio.BlockDurationMs,
		Amplification:         cfg.Audio.Amplification,
		SilenceThreshold:      cfg.Audio.SilenceThreshold,
		SilenceDuration:       cfg.Audio.SilenceDuration,
		MinDuration:           cfg.Audio.MinDuration,
		MaxDuration:           cfg.Audio.MaxDuration,
		SpeechEnergyThreshold: cfg.Audio.SpeechEnergyThreshold,
		RecordingsDir:         cfg.Audio.RecordingsDir,
	}
}
