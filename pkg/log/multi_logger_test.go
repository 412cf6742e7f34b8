package log

import (
	"sync"
	"testing"
	"time"
)

// recordingLogger records events for testing.
type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestMultiLoggerCallsAll(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(a, nil, b)

	multi.Log(Event{Timestamp: time.Now(), ConnectionID: "conn-123"})

	for i, r := range []*recordingLogger{a, b} {
		if len(r.events) != 1 || r.events[0].ConnectionID != "conn-123" {
			t.Errorf("logger %d: got %+v", i, r.events)
		}
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	// Must not panic.
	NewMultiLogger().Log(Event{Timestamp: time.Now()})
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != Logger(r) {
		t.Error("OrNoop should return non-nil logger unchanged")
	}
}
