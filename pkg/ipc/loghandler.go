package ipc

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ipc-backbone/ipc-go/pkg/topic"
)

// Emitter publishes log records. Implemented by Dispatcher.
type Emitter interface {
	Emit(level string, fields map[string]any) error
}

// Log record fields published by LogHandler.
const (
	FieldName      = "name"
	FieldLevelName = "levelname"
	FieldMessage   = "msg"
	FieldCreated   = "created"
)

// DefaultLogRate is the default number of records forwarded per second.
const DefaultLogRate = 100

// LogHandlerConfig configures a LogHandler.
type LogHandlerConfig struct {
	// Name identifies the process in forwarded records.
	Name string

	// Level is the minimum level forwarded. Default: slog.LevelInfo.
	Level slog.Leveler

	// Rate is the maximum number of records forwarded per second, with an
	// equal burst. Records over the limit are dropped and counted.
	// Default: DefaultLogRate. Negative disables the limit.
	Rate int

	// Next receives every record as well. Optional.
	Next slog.Handler
}

// LogHandler is a slog.Handler that forwards records to logging.<level>.
type LogHandler struct {
	emitter Emitter
	name    string
	level   slog.Leveler
	limiter *rate.Limiter
	next    slog.Handler

	attrs  []slog.Attr
	groups []string

	dropped *atomic.Uint64
	failed  *atomic.Uint64
}

// NewLogHandler creates a handler that forwards through emitter.
func NewLogHandler(emitter Emitter, config LogHandlerConfig) *LogHandler {
	if config.Level == nil {
		config.Level = slog.LevelInfo
	}
	if config.Rate == 0 {
		config.Rate = DefaultLogRate
	}
	h := &LogHandler{
		emitter: emitter,
		name:    config.Name,
		level:   config.Level,
		next:    config.Next,
		dropped: new(atomic.Uint64),
		failed:  new(atomic.Uint64),
	}
	if config.Rate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(config.Rate), config.Rate)
	}
	return h
}

// LevelName maps a slog level to the level used in logging topics.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return topic.LevelError
	case l >= slog.LevelWarn:
		return topic.LevelWarning
	case l >= slog.LevelInfo:
		return topic.LevelInfo
	default:
		return topic.LevelDebug
	}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= h.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, l)
}

// Handle implements slog.Handler. Forwarding failures are counted, not
// returned, so a broken backbone connection does not break local logging.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		h.forward(r)
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *LogHandler) forward(r slog.Record) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.dropped.Add(1)
		return
	}

	level := LevelName(r.Level)
	fields := map[string]any{
		FieldName:      h.name,
		FieldLevelName: strings.ToUpper(level),
		FieldMessage:   r.Message,
	}
	if !r.Time.IsZero() {
		fields[FieldCreated] = float64(r.Time.UnixNano()) / 1e9
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		addAttr(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, prefix, a)
		return true
	})

	if err := h.emitter.Emit(level, fields); err != nil {
		h.failed.Add(1)
	}
}

func addAttr(fields map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			addAttr(fields, key, ga)
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindString:
		fields[key] = a.Value.String()
	case slog.KindInt64:
		fields[key] = a.Value.Int64()
	case slog.KindUint64:
		fields[key] = a.Value.Uint64()
	case slog.KindFloat64:
		fields[key] = a.Value.Float64()
	case slog.KindBool:
		fields[key] = a.Value.Bool()
	default:
		fields[key] = a.Value.String()
	}
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	prefix := strings.Join(h.groups, ".")
	cp.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		cp.attrs = append(cp.attrs, a)
	}
	if h.next != nil {
		cp.next = h.next.WithAttrs(attrs)
	}
	return &cp
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string(nil), h.groups...), name)
	if h.next != nil {
		cp.next = h.next.WithGroup(name)
	}
	return &cp
}

// Dropped returns the number of records dropped by the rate limit.
func (h *LogHandler) Dropped() uint64 {
	return h.dropped.Load()
}

// Failed returns the number of records the emitter failed to publish.
func (h *LogHandler) Failed() uint64 {
	return h.failed.Load()
}
