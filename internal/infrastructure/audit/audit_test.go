package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a logger writing JSON lines into buf.
func captureLogger(buf *bytes.Buffer) *Logger {
	return NewLoggerWithSink(zerolog.New(buf))
}

// decodeLines parses every emitted event.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestAuditEvents(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	l.AuthFailure("anonymous", "203.0.113.9", "token expired")
	l.PreferenceChanged("user-1", "marketing", map[string]interface{}{"email_enabled": false}, true)
	l.RateLimitViolation("user-1", "write", 3)
	l.BreakerTransition("smtp", "closed", "open")

	events := decodeLines(t, &buf)
	require.Len(t, events, 4)

	assert.Equal(t, EventAuthFailure, events[0]["event"])
	assert.Equal(t, "audit", events[0]["stream"])
	assert.Equal(t, "token expired", events[0]["reason"])

	// A first-time mutation is reported as a create, with the diff.
	assert.Equal(t, EventPreferenceCreated, events[1]["event"])
	diff, ok := events[1]["diff"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, diff["email_enabled"])

	assert.Equal(t, EventRateLimitViolation, events[2]["event"])
	assert.Equal(t, float64(3), events[2]["violations"])

	assert.Equal(t, EventBreakerTransition, events[3]["event"])
	assert.Equal(t, "open", events[3]["to"])
}

func TestAuditPreferenceUpdateEvent(t *testing.T) {
	var buf bytes.Buffer
	l := captureLogger(&buf)

	l.PreferenceChanged("user-1", "marketing", map[string]interface{}{"frequency": "off"}, false)

	events := decodeLines(t, &buf)
	require.Len(t, events, 1)
	assert.Equal(t, EventPreferenceUpdated, events[0]["event"])
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "abcd****ijkl", MaskToken("abcdefghijkl"))
	assert.Equal(t, "********", MaskToken("12345678"))
	assert.Equal(t, "***", MaskToken("abc"))
	assert.Equal(t, "", MaskToken(""))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***********@e******.com", MaskEmail("ada.lovelace@example.com"))
	assert.Equal(t, "a**@b**.co", MaskEmail("a@b.co"))

	t.Run("degenerate inputs never leak", func(t *testing.T) {
		assert.Equal(t, "***", MaskEmail("nodomain"))
		assert.Equal(t, "***", MaskEmail("@example.com"))
		assert.Equal(t, "x**@***", MaskEmail("x@nodot"))
	})
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "**********67", MaskPhone("+15551234567"))
	assert.Equal(t, "**", MaskPhone("12"))
	assert.Equal(t, "", MaskPhone(""))
}
