// Package notification defines the notification entity routed through the
// backbone: a subject, a payload map that repeats the subject, and an
// optional coalescing delay.
package notification

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"time"
)

// ErrInvalidNotification is returned for notifications that violate the
// subject or delay rules. Returned errors wrap it with the reason.
var ErrInvalidNotification = errors.New("invalid notification")

// Payload keys with special meaning.
const (
	// KeySubject carries the subject inside the payload.
	KeySubject = "subject"

	// KeyDelay carries the delay in seconds in the map form.
	KeyDelay = "delay"
)

// Notification is a single notification.
type Notification struct {
	// Subject identifies the notification type. It is both the routing key
	// (notify.<subject>) and the coalescing key.
	Subject string

	// Payload is the message body. Payload[KeySubject] equals Subject.
	Payload map[string]any

	// Delay is the coalescing window. Zero means send immediately.
	Delay time.Duration
}

// New builds a validated notification. The payload is copied; if it lacks a
// subject field, one is added. A KeyDelay entry in payload is carried as
// data and does not affect Delay.
func New(subject string, payload map[string]any, delay time.Duration) (*Notification, error) {
	p := make(map[string]any, len(payload)+1)
	maps.Copy(p, payload)
	if _, ok := p[KeySubject]; !ok {
		p[KeySubject] = subject
	}

	n := &Notification{Subject: subject, Payload: p, Delay: delay}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// FromPayload builds a notification from its map form, reading the subject
// from KeySubject and an optional delay in seconds from KeyDelay.
func FromPayload(payload map[string]any) (*Notification, error) {
	raw, ok := payload[KeySubject]
	if !ok {
		return nil, fmt.Errorf("%w: missing %q", ErrInvalidNotification, KeySubject)
	}
	subject, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q is %T, not a string", ErrInvalidNotification, KeySubject, raw)
	}

	var delay time.Duration
	if v, ok := payload[KeyDelay]; ok && v != nil {
		d, err := secondsToDuration(v)
		if err != nil {
			return nil, err
		}
		delay = d
	}

	return New(subject, payload, delay)
}

// Validate checks the subject and delay rules.
func (n *Notification) Validate() error {
	if n.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidNotification)
	}
	if n.Delay < 0 {
		return fmt.Errorf("%w: negative delay %v", ErrInvalidNotification, n.Delay)
	}
	if n.Payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidNotification)
	}
	raw, ok := n.Payload[KeySubject]
	if !ok {
		return fmt.Errorf("%w: payload missing %q", ErrInvalidNotification, KeySubject)
	}
	if s, isString := raw.(string); !isString || s != n.Subject {
		return fmt.Errorf("%w: payload subject %v does not match %q", ErrInvalidNotification, raw, n.Subject)
	}
	return nil
}

// IsDelayed reports whether the notification goes through coalescing.
func (n *Notification) IsDelayed() bool {
	return n.Delay > 0
}

func secondsToDuration(v any) (time.Duration, error) {
	var secs float64
	switch x := v.(type) {
	case float64:
		secs = x
	case float32:
		secs = float64(x)
	case int:
		secs = float64(x)
	case int64:
		secs = float64(x)
	case uint64:
		secs = float64(x)
	case time.Duration:
		if x < 0 {
			return 0, fmt.Errorf("%w: negative delay %v", ErrInvalidNotification, x)
		}
		return x, nil
	default:
		return 0, fmt.Errorf("%w: %q is %T, not a number", ErrInvalidNotification, KeyDelay, v)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("%w: delay %v is not finite", ErrInvalidNotification, secs)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%w: negative delay %v", ErrInvalidNotification, secs)
	}
	if secs > float64(math.MaxInt64)/float64(time.Second) {
		return 0, fmt.Errorf("%w: delay %v out of range", ErrInvalidNotification, secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
