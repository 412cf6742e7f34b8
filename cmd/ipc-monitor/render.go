package main

import (
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ipc-backbone/ipc-go/pkg/ipc"
	"github.com/ipc-backbone/ipc-go/pkg/notification"
	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// newConsole returns a zerolog logger writing human readable lines to w.
func newConsole(w io.Writer, level zerolog.Level, noColor bool) zerolog.Logger {
	zerolog.TimeFieldFormat = consoleTimeFormat
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat, NoColor: noColor}
	return zerolog.New(cw).Level(level)
}

// parseLevel maps a record level name to a zerolog level. Unknown names
// render at info.
func parseLevel(name string) zerolog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zerolog.DebugLevel
	case "warning", "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "critical", "fatal":
		// Rendered as error so a remote record never exits the monitor.
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// secondsToTime converts fractional Unix seconds.
func secondsToTime(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// render writes one received message.
func render(zl zerolog.Logger, msg ipc.Message) {
	fields, ok := msg.Fields()
	if !ok {
		zl.Info().Str("topic", msg.Topic).Interface("payload", msg.Payload).Time(zerolog.TimestampFieldName, time.Now()).Msg("message")
		return
	}
	if strings.HasPrefix(msg.Topic, topic.LoggingPrefix) {
		renderLog(zl, msg.Topic, fields)
		return
	}
	renderNotification(zl, msg.Topic, fields)
}

func renderLog(zl zerolog.Logger, t string, fields map[string]any) {
	levelName, _ := fields[ipc.FieldLevelName].(string)
	if levelName == "" {
		levelName = strings.TrimPrefix(t, topic.LoggingPrefix)
	}

	e := zl.WithLevel(parseLevel(levelName))
	if e == nil {
		return
	}
	created := time.Now()
	if secs, ok := fields[ipc.FieldCreated].(float64); ok {
		created = secondsToTime(secs)
	}
	e.Time(zerolog.TimestampFieldName, created)
	if name, ok := fields[ipc.FieldName].(string); ok && name != "" {
		e.Str("name", name)
	}
	addExtra(e, fields, ipc.FieldName, ipc.FieldLevelName, ipc.FieldMessage, ipc.FieldCreated)

	m, _ := fields[ipc.FieldMessage].(string)
	e.Msg(m)
}

func renderNotification(zl zerolog.Logger, t string, fields map[string]any) {
	e := zl.Info()
	if e == nil {
		return
	}
	e.Time(zerolog.TimestampFieldName, time.Now())
	e.Str("topic", t)
	addExtra(e, fields, notification.KeySubject)

	subject, _ := fields[notification.KeySubject].(string)
	if subject == "" {
		subject, _ = topic.SubjectOf(t)
	}
	e.Msg(subject)
}

// addExtra adds every field not in skip, in key order.
func addExtra(e *zerolog.Event, fields map[string]any, skip ...string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if contains(skip, k) {
			continue
		}
		e.Interface(k, fields[k])
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
