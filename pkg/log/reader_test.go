package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ipclog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test capture: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, event)
	}
}

func publishEvent(ts time.Time, conn, topic string, dir Direction) Event {
	return Event{
		Timestamp:    ts,
		ConnectionID: conn,
		Direction:    dir,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Message:      &MessageEvent{Kind: wire.KindPublish, Topic: topic},
	}
}

func TestReaderIteratesEvents(t *testing.T) {
	now := time.Now()
	path := createTestLogFile(t, []Event{
		publishEvent(now, "conn-1", "notify.a", DirectionOut),
		publishEvent(now, "conn-2", "logging.info", DirectionIn),
		{Timestamp: now, ConnectionID: "conn-3", Layer: LayerWire, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityConnection, NewState: StateConnected}},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	events := readAll(t, reader)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[2].StateChange == nil || events[2].StateChange.NewState != StateConnected {
		t.Errorf("state change not preserved: %+v", events[2].StateChange)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ipclog")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() on empty file = %v, want io.EOF", err)
	}
}

func TestReaderTruncatedFile(t *testing.T) {
	path := createTestLogFile(t, []Event{publishEvent(time.Now(), "conn-1", "notify.a", DirectionOut)})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Next() on truncated file = %v, want decode error", err)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	path := createTestLogFile(t, []Event{
		publishEvent(base, "conn-1", "notify.a", DirectionOut),
		publishEvent(base.Add(time.Second), "conn-1", "delayed_notify.a", DirectionOut),
		publishEvent(base.Add(2*time.Second), "conn-2", "logging.error", DirectionIn),
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "conn-2", Layer: LayerTransport, Category: CategoryError,
			Error: &ErrorEventData{Layer: LayerTransport, Message: "reset"}},
	})

	in := DirectionIn
	transport := LayerTransport
	errCat := CategoryError
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "conn-1"}, 2},
		{"direction", Filter{Direction: &in}, 1},
		{"layer", Filter{Layer: &transport}, 1},
		{"category", Filter{Category: &errCat}, 1},
		{"topic prefix", Filter{TopicPrefix: "delayed_notify."}, 1},
		{"topic prefix skips non-messages", Filter{TopicPrefix: ""}, 4},
		{"time range", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{ConnectionID: "conn-2", Direction: &in}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			if got := len(readAll(t, reader)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}
