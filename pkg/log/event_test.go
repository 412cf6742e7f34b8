package log

import (
	"testing"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

func TestEventEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	event := Event{
		Timestamp:    ts,
		ConnectionID: "conn-1",
		Direction:    DirectionOut,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		Role:         wire.RolePublisher,
		RemoteAddr:   "127.0.0.1:50021",
		Message: &MessageEvent{
			Kind:        wire.KindPublish,
			Topic:       "notify.calibration.started",
			PayloadSize: 42,
		},
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, ts)
	}
	if decoded.Role != wire.RolePublisher {
		t.Errorf("Role: got %v, want %v", decoded.Role, wire.RolePublisher)
	}
	if decoded.Message == nil {
		t.Fatal("Message is nil")
	}
	if decoded.Topic() != "notify.calibration.started" {
		t.Errorf("Topic(): got %q", decoded.Topic())
	}
	if decoded.Message.PayloadSize != 42 {
		t.Errorf("PayloadSize: got %d, want 42", decoded.Message.PayloadSize)
	}
}

func TestNewMessageEventDecodesPayload(t *testing.T) {
	payload, err := wire.EncodePayload(map[string]any{"subject": "a", "v": int64(2)})
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	msg := NewMessageEvent(wire.NewPublish("notify.a", payload))
	if msg.Kind != wire.KindPublish {
		t.Errorf("Kind: got %v", msg.Kind)
	}
	if msg.PayloadSize != len(payload) {
		t.Errorf("PayloadSize: got %d, want %d", msg.PayloadSize, len(payload))
	}
	fields, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload type %T, want map", msg.Payload)
	}
	if fields["v"] != int64(2) {
		t.Errorf("Payload[v]: got %v", fields["v"])
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		kind wire.Kind
		want Category
	}{
		{wire.KindPublish, CategoryMessage},
		{wire.KindRequest, CategoryMessage},
		{wire.KindReply, CategoryMessage},
		{wire.KindHello, CategoryControl},
		{wire.KindSubscribe, CategoryControl},
		{wire.KindClose, CategoryControl},
	}
	for _, tt := range tests {
		if got := CategoryOf(tt.kind); got != tt.want {
			t.Errorf("CategoryOf(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestEnumStrings(t *testing.T) {
	if LayerDispatch.String() != "DISPATCH" {
		t.Errorf("LayerDispatch = %q", LayerDispatch.String())
	}
	if StateEntityScheduler.String() != "SCHEDULER" {
		t.Errorf("StateEntityScheduler = %q", StateEntityScheduler.String())
	}
	if Direction(9).String() != "UNKNOWN" {
		t.Errorf("Direction(9) = %q", Direction(9).String())
	}
}
