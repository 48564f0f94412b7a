package state

import (
	"context"
	"time"

	"github.com/normanking/voicekiosk/internal/audio"
	"github.com/normanking/voicekiosk/internal/bus"
	"github.com/normanking/voicekiosk/internal/wake"
	"github.com/rs/zerolog"
)

// Transcriber converts a persisted recording artifact into text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifactPath string) (string, error)
}

// Responder turns a user utterance into a reply.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

// Speaker plays a reply aloud, returning when playback finishes or ctx is
// cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// AudioControl is the slice of the stream manager the coordinator drives.
// The coordinator is the only caller of SetMode.
type AudioControl interface {
	SetMode(audio.Mode)
}

// RecordingSession is a terminated recording awaiting finalization.
type RecordingSession interface {
	Finalize() (audio.Outcome, error)
}

// CoordinatorConfig tunes collaborator timeouts and the screensaver.
type CoordinatorConfig struct {
	TranscribeTimeout  time.Duration
	RespondTimeout     time.Duration
	SpeakTimeout       time.Duration
	ScreensaverTimeout time.Duration
}

// DefaultCoordinatorConfig returns sensible defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TranscribeTimeout:  30 * time.Second,
		RespondTimeout:     120 * time.Second,
		SpeakTimeout:       60 * time.Second,
		ScreensaverTimeout: 15 * time.Second,
	}
}

// Coordinator owns ApplicationState through the machine and keeps the audio
// mode in lockstep with it: entering Recording switches the stream to
// ModeRecording, and every return to Idle from an active state switches it
// back to ModeListening. All collaborator calls happen on the coordinator
// goroutine with their own timeouts, so the machine can never be left stuck
// in Processing, Thinking, or Speaking.
type Coordinator struct {
	cfg     CoordinatorConfig
	machine *Machine
	audio   AudioControl
	stt     Transcriber
	respond Responder
	speaker Speaker
	bus     *bus.EventBus
	logger  zerolog.Logger

	detections chan wake.Detection
	sessions   chan RecordingSession
	inputs     chan struct{}
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(cfg CoordinatorConfig, machine *Machine, audioCtl AudioControl,
	stt Transcriber, respond Responder, speaker Speaker,
	eventBus *bus.EventBus, logger zerolog.Logger) *Coordinator {
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if cfg.RespondTimeout <= 0 {
		cfg.RespondTimeout = 120 * time.Second
	}
	if cfg.SpeakTimeout <= 0 {
		cfg.SpeakTimeout = 60 * time.Second
	}
	if cfg.ScreensaverTimeout <= 0 {
		cfg.ScreensaverTimeout = 15 * time.Second
	}
	return &Coordinator{
		cfg:        cfg,
		machine:    machine,
		audio:      audioCtl,
		stt:        stt,
		respond:    respond,
		speaker:    speaker,
		bus:        eventBus,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		detections: make(chan wake.Detection, 4),
		sessions:   make(chan RecordingSession, 1),
		inputs:     make(chan struct{}, 4),
	}
}

// HandleDetection accepts a wake detection. Safe to call from the wake
// matcher goroutine; never blocks.
func (c *Coordinator) HandleDetection(d wake.Detection) {
	select {
	case c.detections <- d:
	default:
		c.logger.Debug().Msg("Detection queue full, dropping")
	}
}

// HandleSessionEnd accepts a terminated recording session for
// finalization. Safe to call from the stream manager; never blocks.
func (c *Coordinator) HandleSessionEnd(s RecordingSession) {
	select {
	case c.sessions <- s:
	default:
		c.logger.Warn().Msg("Session queue full, dropping terminated session")
	}
}

// NotifyUserInput records user activity: it wakes the kiosk from the
// screensaver and interrupts speech playback.
func (c *Coordinator) NotifyUserInput() {
	select {
	case c.inputs <- struct{}{}:
	default:
	}
}

// TriggerRecording starts a recording without a wake detection (manual
// trigger, e.g. a push-to-talk button).
func (c *Coordinator) TriggerRecording() {
	c.HandleDetection(wake.Detection{Timestamp: time.Now(), MatchedText: "manual"})
}

// Run transitions Boot -> Idle and processes events until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.machine.Transition(StateIdle, map[string]any{"reason": "boot complete"})
	c.audio.SetMode(audio.ModeListening)

	idleTimer := time.NewTimer(c.cfg.ScreensaverTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case d := <-c.detections:
			c.resetIdleTimer(idleTimer)
			c.onDetection(d)

		case s := <-c.sessions:
			c.resetIdleTimer(idleTimer)
			c.onSessionEnd(ctx, s)

		case <-c.inputs:
			c.resetIdleTimer(idleTimer)
			if c.machine.Current() == StateScreensaver {
				c.machine.Transition(StateIdle, map[string]any{"reason": "user input"})
			}

		case <-idleTimer.C:
			if c.machine.Current() == StateIdle {
				c.machine.Transition(StateScreensaver, map[string]any{"reason": "inactivity"})
			}
			idleTimer.Reset(c.cfg.ScreensaverTimeout)
		}
	}
}

func (c *Coordinator) resetIdleTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(c.cfg.ScreensaverTimeout)
}

func (c *Coordinator) onDetection(d wake.Detection) {
	// Wake the kiosk first if the screensaver is up.
	if c.machine.Current() == StateScreensaver {
		c.machine.Transition(StateIdle, map[string]any{"reason": "wake detection"})
	}
	if !c.machine.Transition(StateRecording, map[string]any{"matched_text": d.MatchedText, "score": d.Score}) {
		return
	}
	c.audio.SetMode(audio.ModeRecording)
}

// onSessionEnd finalizes the recording and, on success, runs the
// transcribe -> respond -> speak pipeline. Any rejection or collaborator
// failure lands back in Idle with the stream listening again.
func (c *Coordinator) onSessionEnd(ctx context.Context, s RecordingSession) {
	outcome, err := s.Finalize()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to finalize recording")
		c.toIdle("finalize error")
		return
	}

	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Type: bus.EventTypeRecordingOutcome,
			Data: map[string]any{
				"kind":     string(outcome.Kind),
				"path":     outcome.Path,
				"duration": outcome.Duration,
				"peak":     outcome.PeakEnergy,
			},
		})
	}

	if outcome.Rejected() {
		// Expected, not an error: ambient noise or an echo tripped the
		// wake word. Return to listening quietly.
		c.logger.Info().Str("kind", string(outcome.Kind)).Msg("Recording rejected")
		c.toIdle(string(outcome.Kind))
		return
	}

	if !c.machine.Transition(StateProcessing, map[string]any{"path": outcome.Path}) {
		c.toIdle("processing refused")
		return
	}

	text, err := c.callTranscribe(ctx, outcome.Path)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Transcription failed")
		c.toIdle("transcription failed")
		return
	}
	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: bus.EventTypeTranscript, Data: map[string]any{"text": text}})
	}

	if !c.machine.Transition(StateThinking, map[string]any{"text": text}) {
		c.toIdle("thinking refused")
		return
	}

	reply, err := c.callRespond(ctx, text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Response generation failed")
		c.toIdle("response failed")
		return
	}
	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: bus.EventTypeResponse, Data: map[string]any{"text": reply}})
	}

	if !c.machine.Transition(StateSpeaking, nil) {
		c.toIdle("speaking refused")
		return
	}

	if err := c.callSpeak(ctx, reply); err != nil {
		c.logger.Warn().Err(err).Msg("Playback failed or interrupted")
	}
	c.toIdle("utterance complete")
}

// toIdle transitions to Idle and, when leaving an active state, returns the
// stream to listening. The mode switch is coupled to the transition so a
// cancelled or rejected recording is discarded, never finalized.
func (c *Coordinator) toIdle(reason string) {
	from := c.machine.Current()
	if !c.machine.Transition(StateIdle, map[string]any{"reason": reason}) {
		return
	}
	switch from {
	case StateRecording, StateProcessing, StateThinking, StateSpeaking:
		c.audio.SetMode(audio.ModeListening)
	}
}

func (c *Coordinator) callTranscribe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()
	return c.stt.Transcribe(ctx, path)
}

func (c *Coordinator) callRespond(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RespondTimeout)
	defer cancel()
	return c.respond.Respond(ctx, text)
}

// callSpeak plays the reply, allowing user input to interrupt playback.
func (c *Coordinator) callSpeak(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SpeakTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.speaker.Speak(ctx, text) }()

	select {
	case err := <-done:
		return err
	case <-c.inputs:
		cancel()
		<-done
		c.logger.Info().Msg("Playback interrupted by user")
		return nil
	}
}
