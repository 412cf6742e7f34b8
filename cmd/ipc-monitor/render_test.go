package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipc-backbone/ipc-go/pkg/ipc"
)

func renderToString(level zerolog.Level, msg ipc.Message) string {
	var buf bytes.Buffer
	render(newConsole(&buf, level, true), msg)
	return buf.String()
}

func TestRenderLogRecord(t *testing.T) {
	out := renderToString(zerolog.DebugLevel, ipc.Message{
		Topic: "logging.warning",
		Payload: map[string]any{
			ipc.FieldName:      "eye0",
			ipc.FieldLevelName: "WARNING",
			ipc.FieldMessage:   "frame dropped",
			ipc.FieldCreated:   1700000000.25,
			"frame":            int64(42),
		},
	})

	for _, want := range []string{"WRN", "frame dropped", "name=eye0", "frame=42"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if strings.Contains(out, "levelname") {
		t.Errorf("output %q repeats the level field", out)
	}
}

func TestRenderLogRecordBelowLevel(t *testing.T) {
	out := renderToString(zerolog.WarnLevel, ipc.Message{
		Topic: "logging.debug",
		Payload: map[string]any{
			ipc.FieldLevelName: "DEBUG",
			ipc.FieldMessage:   "noise",
		},
	})
	if out != "" {
		t.Errorf("expected nothing below warn, got %q", out)
	}
}

func TestRenderLogLevelFromTopic(t *testing.T) {
	out := renderToString(zerolog.DebugLevel, ipc.Message{
		Topic:   "logging.error",
		Payload: map[string]any{ipc.FieldMessage: "disk full"},
	})
	if !strings.Contains(out, "ERR") {
		t.Errorf("output %q not rendered at error", out)
	}
}

func TestRenderNotification(t *testing.T) {
	out := renderToString(zerolog.InfoLevel, ipc.Message{
		Topic: "notify.recording.started",
		Payload: map[string]any{
			"subject": "recording.started",
			"session": "S1",
		},
	})

	for _, want := range []string{"INF", "recording.started", "topic=notify.recording.started", "session=S1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestRenderNotificationSubjectFromTopic(t *testing.T) {
	out := renderToString(zerolog.InfoLevel, ipc.Message{
		Topic:   "delayed_notify.calibration.progress",
		Payload: map[string]any{"value": 0.5},
	})
	if !strings.Contains(out, "calibration.progress") {
		t.Errorf("output %q missing subject", out)
	}
}

func TestRenderNonMapPayload(t *testing.T) {
	out := renderToString(zerolog.InfoLevel, ipc.Message{Topic: "gaze.3d.0", Payload: "raw"})
	if !strings.Contains(out, "gaze.3d.0") {
		t.Errorf("output %q missing topic", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"DEBUG":    zerolog.DebugLevel,
		"INFO":     zerolog.InfoLevel,
		"WARNING":  zerolog.WarnLevel,
		"warn":     zerolog.WarnLevel,
		"ERROR":    zerolog.ErrorLevel,
		"CRITICAL": zerolog.ErrorLevel,
		"custom":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSecondsToTime(t *testing.T) {
	got := secondsToTime(1700000000.5)
	want := time.Unix(1700000000, 500000000)
	if d := got.Sub(want); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("secondsToTime = %v, want %v", got, want)
	}
}

func TestSplitTopics(t *testing.T) {
	got := splitTopics(" notify., logging. ,")
	if len(got) != 2 || got[0] != "notify." || got[1] != "logging." {
		t.Errorf("splitTopics = %q", got)
	}
	if got := splitTopics(""); len(got) != 1 || got[0] != "" {
		t.Errorf("splitTopics(\"\") = %q, want everything", got)
	}
}
