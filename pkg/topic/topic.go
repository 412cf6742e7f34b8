// Package topic defines the dot-delimited topic conventions used on the
// backbone and a reference-counted set of subscription prefixes.
package topic

import (
	"sort"
	"strings"
	"sync"
)

// Topic prefixes shared by every participant on the backbone.
const (
	// NotifyPrefix carries notifications sent immediately.
	NotifyPrefix = "notify."

	// DelayedNotifyPrefix carries coalesced notifications flushed after
	// their delay window.
	DelayedNotifyPrefix = "delayed_notify."

	// LoggingPrefix carries forwarded log records.
	LoggingPrefix = "logging."
)

// Log levels used in logging.<level> topics.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notify returns the immediate notification topic for subject.
func Notify(subject string) string {
	return NotifyPrefix + subject
}

// DelayedNotify returns the coalesced notification topic for subject.
func DelayedNotify(subject string) string {
	return DelayedNotifyPrefix + subject
}

// Logging returns the log record topic for level.
func Logging(level string) string {
	return LoggingPrefix + level
}

// Matches reports whether topic falls under prefix. The empty prefix
// matches every topic.
func Matches(prefix, topic string) bool {
	return strings.HasPrefix(topic, prefix)
}

// SubjectOf returns the notification subject carried in a notify or
// delayed_notify topic.
func SubjectOf(topic string) (string, bool) {
	if s, ok := strings.CutPrefix(topic, DelayedNotifyPrefix); ok {
		return s, true
	}
	if s, ok := strings.CutPrefix(topic, NotifyPrefix); ok {
		return s, true
	}
	return "", false
}

// Set is a reference-counted set of subscription prefixes.
// It is safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewSet creates an empty prefix set.
func NewSet() *Set {
	return &Set{counts: make(map[string]int)}
}

// Add increments the count for prefix. It returns true when the prefix
// was not present before.
func (s *Set) Add(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[prefix]++
	return s.counts[prefix] == 1
}

// Remove decrements the count for prefix. It returns true when the prefix
// is no longer present. Removing an absent prefix is a no-op returning false.
func (s *Set) Remove(prefix string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.counts[prefix]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.counts, prefix)
		return true
	}
	s.counts[prefix] = n - 1
	return false
}

// Match reports whether any prefix in the set matches topic.
func (s *Set) Match(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for prefix := range s.counts {
		if Matches(prefix, topic) {
			return true
		}
	}
	return false
}

// Contains reports whether prefix is present.
func (s *Set) Contains(prefix string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.counts[prefix]
	return ok
}

// Prefixes returns the present prefixes in sorted order.
func (s *Set) Prefixes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.counts))
	for prefix := range s.counts {
		out = append(out, prefix)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct prefixes.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counts)
}
