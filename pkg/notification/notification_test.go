package notification

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInsertsSubject(t *testing.T) {
	payload := map[string]any{"v": 1}
	n, err := New("calibration.started", payload, 0)
	require.NoError(t, err)

	assert.Equal(t, "calibration.started", n.Payload[KeySubject])
	assert.Equal(t, 1, n.Payload["v"])
	assert.False(t, n.IsDelayed())

	// The caller's map is not modified.
	_, touched := payload[KeySubject]
	assert.False(t, touched)
}

func TestNewRejects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		payload map[string]any
		delay   time.Duration
	}{
		{"empty subject", "", nil, 0},
		{"negative delay", "a", nil, -time.Millisecond},
		{"mismatched subject", "a", map[string]any{"subject": "b"}, 0},
		{"non-string subject", "a", map[string]any{"subject": 7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.subject, tt.payload, tt.delay)
			assert.ErrorIs(t, err, ErrInvalidNotification)
		})
	}
}

func TestNewKeepsDelayKeyAsData(t *testing.T) {
	n, err := New("a", map[string]any{"delay": 5.0}, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), n.Delay)
	assert.Equal(t, 5.0, n.Payload[KeyDelay])
}

func TestFromPayload(t *testing.T) {
	n, err := FromPayload(map[string]any{"subject": "recording.started", "delay": 0.1, "x": "y"})
	require.NoError(t, err)
	assert.Equal(t, "recording.started", n.Subject)
	assert.Equal(t, 100*time.Millisecond, n.Delay)
	assert.True(t, n.IsDelayed())
	assert.Equal(t, "y", n.Payload["x"])

	n, err = FromPayload(map[string]any{"subject": "a", "delay": int64(2)})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, n.Delay)

	n, err = FromPayload(map[string]any{"subject": "a", "delay": nil})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), n.Delay)
}

func TestFromPayloadRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"missing subject", map[string]any{"x": 1}},
		{"non-string subject", map[string]any{"subject": 3}},
		{"empty subject", map[string]any{"subject": ""}},
		{"negative delay", map[string]any{"subject": "a", "delay": -1.0}},
		{"NaN delay", map[string]any{"subject": "a", "delay": math.NaN()}},
		{"infinite delay", map[string]any{"subject": "a", "delay": math.Inf(1)}},
		{"huge delay", map[string]any{"subject": "a", "delay": 1e300}},
		{"huge integer delay", map[string]any{"subject": "a", "delay": uint64(math.MaxUint64)}},
		{"string delay", map[string]any{"subject": "a", "delay": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromPayload(tt.payload)
			assert.ErrorIs(t, err, ErrInvalidNotification)
		})
	}
}

func TestValidateDetectsLaterMutation(t *testing.T) {
	n, err := New("a", nil, 0)
	require.NoError(t, err)

	n.Payload[KeySubject] = "b"
	assert.ErrorIs(t, n.Validate(), ErrInvalidNotification)

	n.Payload = nil
	assert.ErrorIs(t, n.Validate(), ErrInvalidNotification)
}
