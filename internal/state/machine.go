// Package state implements the voice interaction state machine and the
// coordinator that drives the audio pipeline through it.
package state

import (
	"sync"
	"time"

	"github.com/normanking/voicekiosk/internal/bus"
	"github.com/rs/zerolog"
)

// State is an application-level interaction state.
type State string

const (
	StateBoot        State = "boot"
	StateIdle        State = "idle"
	StateRecording   State = "recording"
	StateProcessing  State = "processing"
	StateThinking    State = "thinking"
	StateSpeaking    State = "speaking"
	StateScreensaver State = "screensaver"
)

// transitions is the legal adjacency table. Anything not listed here is
// rejected.
var transitions = map[State][]State{
	StateBoot:        {StateIdle},
	StateIdle:        {StateRecording, StateScreensaver},
	StateRecording:   {StateProcessing, StateIdle},
	StateProcessing:  {StateThinking, StateIdle},
	StateThinking:    {StateSpeaking, StateIdle},
	StateSpeaking:    {StateIdle},
	StateScreensaver: {StateIdle},
}

// Machine owns the current ApplicationState. Transitions outside the
// adjacency table are logged and discarded, leaving the state unchanged;
// an illegal request never panics or unwinds the coordinator.
type Machine struct {
	mu      sync.Mutex
	current State
	bus     *bus.EventBus
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMachine creates a machine in StateBoot.
func NewMachine(eventBus *bus.EventBus, logger zerolog.Logger) *Machine {
	return &Machine{
		current: StateBoot,
		bus:     eventBus,
		logger:  logger.With().Str("component", "state").Logger(),
		now:     time.Now,
	}
}

// Current returns the active state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition attempts to move to the target state. It returns false, with
// the state unchanged, when the move is not in the adjacency table.
// Successful transitions are announced on the bus with
// {from, to, timestamp, metadata}.
func (m *Machine) Transition(to State, metadata map[string]any) bool {
	m.mu.Lock()
	from := m.current
	if !legal(from, to) {
		m.mu.Unlock()
		m.logger.Warn().
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Illegal state transition rejected")
		if m.bus != nil {
			m.bus.Publish(bus.Event{
				Type: bus.EventTypeStateRejected,
				Data: map[string]any{"from": string(from), "to": string(to)},
			})
		}
		return false
	}
	m.current = to
	m.mu.Unlock()

	m.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("State transition")
	if m.bus != nil {
		data := map[string]any{
			"from":      string(from),
			"to":        string(to),
			"timestamp": m.now(),
		}
		if metadata != nil {
			data["metadata"] = metadata
		}
		m.bus.Publish(bus.Event{Type: bus.EventTypeStateChanged, Data: data})
	}
	return true
}

func legal(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
