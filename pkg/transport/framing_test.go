package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/ipc-backbone/ipc-go/pkg/log"
)

func TestFramerRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"small", []byte("hello")},
		{"medium", bytes.Repeat([]byte("x"), 1000)},
		{"max size", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
		{"single byte", []byte{0x42}},
		{"binary", []byte{0x00, 0xFF, 0x7F, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			f := NewFramer(buf)

			if err := f.WriteFrame(tt.payload); err != nil {
				t.Fatalf("WriteFrame failed: %v", err)
			}
			if buf.Len() != FrameSize(len(tt.payload)) {
				t.Errorf("frame size = %d, want %d", buf.Len(), FrameSize(len(tt.payload)))
			}

			got, err := f.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(tt.payload))
			}
		})
	}
}

func TestFramerWriteErrors(t *testing.T) {
	f := NewFramerWithMaxSize(new(bytes.Buffer), 8)

	if err := f.WriteFrame(nil); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("WriteFrame(nil) = %v, want ErrMessageEmpty", err)
	}
	if err := f.WriteFrame(make([]byte, 9)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("WriteFrame(9 bytes) = %v, want ErrMessageTooLarge", err)
	}
}

func TestFramerReadErrors(t *testing.T) {
	prefix := func(n uint32) []byte {
		b := make([]byte, LengthPrefixSize)
		binary.BigEndian.PutUint32(b, n)
		return b
	}

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"clean EOF", nil, io.EOF},
		{"zero length", prefix(0), ErrMessageEmpty},
		{"too large", prefix(DefaultMaxMessageSize + 1), ErrMessageTooLarge},
		{"truncated prefix", []byte{0x00, 0x00}, ErrFrameTruncated},
		{"truncated body", append(prefix(10), 1, 2, 3), ErrFrameTruncated},
		{"missing body", prefix(10), ErrFrameTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(bytes.NewBuffer(tt.input))
			if _, err := f.ReadFrame(); !errors.Is(err, tt.want) {
				t.Errorf("ReadFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFramerMultipleFrames(t *testing.T) {
	buf := new(bytes.Buffer)
	f := NewFramer(buf)

	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, fr := range frames {
		if err := f.WriteFrame(fr); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	for i, want := range frames {
		got, err := f.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %q, want %q", i, got, want)
		}
	}
}

type captureRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureRecorder) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) snapshot() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.events...)
}

func TestFramerCapture(t *testing.T) {
	rec := &captureRecorder{}
	buf := new(bytes.Buffer)
	f := NewFramer(buf)
	f.SetCapture(rec, "conn-1")

	big := bytes.Repeat([]byte("z"), MaxLogFrameDataSize+10)
	if err := f.WriteFrame(big); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	events := rec.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Direction != log.DirectionOut || events[1].Direction != log.DirectionIn {
		t.Errorf("unexpected directions %v, %v", events[0].Direction, events[1].Direction)
	}
	for _, e := range events {
		if e.ConnectionID != "conn-1" || e.Layer != log.LayerTransport {
			t.Errorf("unexpected event %+v", e)
		}
		if !e.Frame.Truncated || len(e.Frame.Data) != MaxLogFrameDataSize {
			t.Errorf("frame data not truncated: %d bytes", len(e.Frame.Data))
		}
		if e.Frame.Size != FrameSize(len(big)) {
			t.Errorf("Size = %d, want %d", e.Frame.Size, FrameSize(len(big)))
		}
	}
}
