package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (*GatedLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, _ := NewGatedLogger(&Config{Level: level, Format: JSONFormat, Outputs: []io.Writer{&buf}},
		GatedWriterConfig{InitialState: GateOpen})
	return log, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"trace", TraceLevel},
		{"DEBUG", DebugLevel},
		{"warning", WarnLevel},
		{"err", ErrorLevel},
		{"fatal", FatalLevel},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	assert.Equal(t, JSONFormat, ParseOutputFormat("json"))
	assert.Equal(t, JSONFormat, ParseOutputFormat(" JSON "))
	assert.Equal(t, DefaultFormat, ParseOutputFormat("text"))
	assert.Equal(t, "json", JSONFormat.String())
}

func TestTypedFields(t *testing.T) {
	log, buf := newBufferLogger(t, DebugLevel)

	log.Info("request",
		String("path", "/profiles"),
		Strings("names", []string{"a", "b"}),
		Int("status", 200),
		Bool("cached", true),
		Duration("took", 2*time.Second),
		Err(errors.New("boom")),
	)

	line := decodeLine(t, buf)
	assert.Equal(t, "request", line["message"])
	assert.Equal(t, "/profiles", line["path"])
	assert.Equal(t, []any{"a", "b"}, line["names"])
	assert.EqualValues(t, 200, line["status"])
	assert.Equal(t, true, line["cached"])
	assert.Equal(t, "boom", line["error"])
}

func TestLevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Info("hidden")
	log.Debugf("hidden %d", 1)
	assert.Zero(t, buf.Len())
	assert.False(t, log.IsLevelEnabled(InfoLevel))
	assert.True(t, log.IsLevelEnabled(ErrorLevel))

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithFieldsIsSticky(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.WithFields(String("request_id", "01HX")).Info("handled")
	line := decodeLine(t, buf)
	assert.Equal(t, "01HX", line["request_id"])
}

func TestFingerprint(t *testing.T) {
	f, ok := Fingerprint("token_hash", "awspc_secret").(StringField)
	require.True(t, ok)
	assert.Len(t, f.Value, 8)
	assert.NotContains(t, f.Value, "secret")

	again := Fingerprint("token_hash", "awspc_secret").(StringField)
	assert.Equal(t, f.Value, again.Value)

	empty := Fingerprint("token_hash", "").(StringField)
	assert.Empty(t, empty.Value)
}

func TestHCLogAdapter(t *testing.T) {
	log, buf := newBufferLogger(t, DebugLevel)
	adapter := NewHCLogAdapter(log).Named("client").With("attempt", 1)

	adapter.Warn("retrying request", "url", "http://127.0.0.1:10999/health", "err", errors.New("refused"))

	line := decodeLine(t, buf)
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "client", line["module"])
	assert.EqualValues(t, 1, line["attempt"])
	assert.Equal(t, "refused", line["err"])
	assert.Equal(t, "client", adapter.Name())
	assert.True(t, adapter.IsDebug())
	assert.False(t, adapter.IsTrace())

	buf.Reset()
	adapter.StandardLogger(nil).Print("from std")
	assert.Contains(t, buf.String(), "from std")
}

func TestNopLoggerDiscards(t *testing.T) {
	log := NewNopLogger()
	log.Error("nothing to see")
	assert.True(t, log.IsGateOpen())
	assert.Zero(t, log.BufferedSize())
}
