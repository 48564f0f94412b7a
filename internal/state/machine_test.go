package state

import (
	"testing"
	"time"

	"github.com/normanking/voicekiosk/internal/bus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineStartsInBoot(t *testing.T) {
	m := NewMachine(nil, zerolog.Nop())
	assert.Equal(t, StateBoot, m.Current())
}

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine(nil, zerolog.Nop())

	path := []State{StateIdle, StateRecording, StateProcessing, StateThinking, StateSpeaking, StateIdle}
	for _, s := range path {
		require.True(t, m.Transition(s, nil), "transition to %s refused", s)
		require.Equal(t, s, m.Current())
	}
}

func TestMachineIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		to   State
	}{
		{name: "boot cannot skip to recording", path: nil, to: StateRecording},
		{name: "boot cannot skip to speaking", path: nil, to: StateSpeaking},
		{name: "recording cannot restart", path: []State{StateIdle, StateRecording}, to: StateRecording},
		{name: "recording cannot skip to thinking", path: []State{StateIdle, StateRecording}, to: StateThinking},
		{name: "speaking cannot return to processing", path: []State{StateIdle, StateRecording, StateProcessing, StateThinking, StateSpeaking}, to: StateProcessing},
		{name: "idle cannot enter processing", path: []State{StateIdle}, to: StateProcessing},
		{name: "screensaver only wakes to idle", path: []State{StateIdle, StateScreensaver}, to: StateRecording},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil, zerolog.Nop())
			for _, s := range tt.path {
				require.True(t, m.Transition(s, nil))
			}
			before := m.Current()

			assert.False(t, m.Transition(tt.to, nil))
			assert.Equal(t, before, m.Current(), "rejected transition must leave state unchanged")
		})
	}
}

func TestMachineAbortPaths(t *testing.T) {
	// Every active state can bail out to Idle.
	for _, from := range []State{StateRecording, StateProcessing, StateThinking, StateSpeaking} {
		m := NewMachine(nil, zerolog.Nop())
		require.True(t, m.Transition(StateIdle, nil))
		require.True(t, m.Transition(StateRecording, nil))
		if from != StateRecording {
			require.True(t, m.Transition(StateProcessing, nil))
		}
		if from == StateThinking || from == StateSpeaking {
			require.True(t, m.Transition(StateThinking, nil))
		}
		if from == StateSpeaking {
			require.True(t, m.Transition(StateSpeaking, nil))
		}
		require.Equal(t, from, m.Current())
		assert.True(t, m.Transition(StateIdle, nil), "abort from %s refused", from)
	}
}

func TestMachinePublishesTransitionEvents(t *testing.T) {
	eventBus := bus.NewEventBus()
	m := NewMachine(eventBus, zerolog.Nop())

	changed := make(chan bus.Event, 1)
	rejected := make(chan bus.Event, 1)
	eventBus.Subscribe(bus.EventTypeStateChanged, func(e bus.Event) { changed <- e })
	eventBus.Subscribe(bus.EventTypeStateRejected, func(e bus.Event) { rejected <- e })

	m.Transition(StateIdle, map[string]any{"reason": "boot complete"})
	select {
	case e := <-changed:
		assert.Equal(t, "boot", e.Data["from"])
		assert.Equal(t, "idle", e.Data["to"])
		assert.NotNil(t, e.Data["timestamp"])
	case <-time.After(time.Second):
		t.Fatal("state change never published")
	}

	m.Transition(StateSpeaking, nil)
	select {
	case e := <-rejected:
		assert.Equal(t, "idle", e.Data["from"])
		assert.Equal(t, "speaking", e.Data["to"])
	case <-time.After(time.Second):
		t.Fatal("rejection never published")
	}
}
