package logger

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatedWriter_BuffersWhileClosed(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{Underlying: &buf, InitialState: GateClosed})

	_, err := gw.Write([]byte("line 1\n"))
	require.NoError(t, err)
	_, err = gw.Write([]byte("line 2\n"))
	require.NoError(t, err)

	assert.Zero(t, buf.Len())
	assert.Equal(t, len("line 1\nline 2\n"), gw.BufferedSize())
	assert.False(t, gw.IsOpen())
}

func TestGatedWriter_OpenGateFlushes(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{Underlying: &buf, InitialState: GateClosed})

	gw.Write([]byte("early\n"))
	require.NoError(t, gw.OpenGate())
	gw.Write([]byte("late\n"))

	assert.Equal(t, "early\nlate\n", buf.String())
	assert.Zero(t, gw.BufferedSize())
	assert.True(t, gw.IsOpen())

	// Opening twice is a no-op
	require.NoError(t, gw.OpenGate())
}

func TestGatedWriter_DropsOldestWholeLines(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{
		Underlying:    &buf,
		InitialState:  GateClosed,
		MaxBufferSize: 16,
	})

	gw.Write([]byte("aaaaaa\n"))
	gw.Write([]byte("bbbbbb\n"))
	gw.Write([]byte("cccccc\n"))
	require.NoError(t, gw.OpenGate())

	out := buf.String()
	assert.NotContains(t, out, "a")
	assert.True(t, strings.HasSuffix(out, "cccccc\n"))
	for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
		assert.Len(t, line, 6, "partial line flushed: %q", line)
	}
}

func TestGatedWriter_CloseGateBuffersAgain(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGatedWriter(GatedWriterConfig{Underlying: &buf, InitialState: GateOpen})

	gw.Write([]byte("one\n"))
	gw.CloseGate()
	gw.Write([]byte("two\n"))
	assert.Equal(t, "one\n", buf.String())

	require.NoError(t, gw.Flush())
	assert.Equal(t, "one\ntwo\n", buf.String())
	assert.False(t, gw.IsOpen())
}

func TestGatedLogger_DerivedLoggersShareGate(t *testing.T) {
	var buf bytes.Buffer
	log, _ := NewGatedLogger(&Config{Level: InfoLevel, Format: JSONFormat, Outputs: []io.Writer{&buf}},
		GatedWriterConfig{InitialState: GateClosed})

	child := log.WithSystem("http").WithSubsystem("profiles")
	child.Info("listed", Int("count", 3))
	assert.Zero(t, buf.Len())
	assert.Positive(t, log.BufferedSize())

	require.NoError(t, log.OpenGate())
	assert.True(t, child.IsGateOpen())
	assert.Contains(t, buf.String(), `"module":"http.profiles"`)
	assert.Contains(t, buf.String(), `"count":3`)
}
