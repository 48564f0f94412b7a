package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish(t *testing.T) {
	b := NewEventBus()
	received := make(chan Event, 1)
	b.Subscribe(EventTypeWakeDetected, func(e Event) { received <- e })

	b.Publish(Event{Type: EventTypeWakeDetected, Data: map[string]any{"text": "hal"}})

	select {
	case e := <-received:
		assert.Equal(t, EventTypeWakeDetected, e.Type)
		assert.Equal(t, "hal", e.Data["text"])
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestPublishOnlyReachesMatchingType(t *testing.T) {
	b := NewEventBus()
	received := make(chan Event, 1)
	b.Subscribe(EventTypeStateChanged, func(e Event) { received <- e })

	b.Publish(Event{Type: EventTypeWakeDetected})

	select {
	case <-received:
		t.Fatal("handler received an event of another type")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishSyncWaitsForAllHandlers(t *testing.T) {
	b := NewEventBus()
	var calls int32
	for i := 0; i < 3; i++ {
		b.Subscribe(EventTypeRecordingOutcome, func(e Event) {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&calls, 1)
		})
	}

	b.PublishSync(Event{Type: EventTypeRecordingOutcome})
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "PublishSync returned before handlers finished")
}

func TestSubscribeMultiple(t *testing.T) {
	b := NewEventBus()
	var mu sync.Mutex
	seen := map[EventType]int{}
	b.SubscribeMultiple([]EventType{EventTypeStateChanged, EventTypeStreamFault}, func(e Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})

	b.PublishSync(Event{Type: EventTypeStateChanged})
	b.PublishSync(Event{Type: EventTypeStreamFault})
	b.PublishSync(Event{Type: EventTypeWakeDetected}) // not subscribed

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[EventTypeStateChanged])
	assert.Equal(t, 1, seen[EventTypeStreamFault])
}

func TestClearRemovesHandlers(t *testing.T) {
	b := NewEventBus()
	var calls int32
	b.Subscribe(EventTypeStateChanged, func(e Event) { atomic.AddInt32(&calls, 1) })

	b.PublishSync(Event{Type: EventTypeStateChanged})
	b.Clear()
	b.PublishSync(Event{Type: EventTypeStateChanged})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
