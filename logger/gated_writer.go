package logger

import (
	"bytes"
	"io"
	"sync"
)

// GateState represents the state of the log gate
type GateState int

const (
	// GateClosed means logs are buffered but not written
	GateClosed GateState = iota
	// GateOpen means logs flow through immediately
	GateOpen
)

// GatedWriter holds log lines back until the gate opens. The server keeps the
// gate closed while it prints its startup banner so the two do not interleave.
type GatedWriter struct {
	mu         sync.Mutex
	underlying io.Writer
	buffer     bytes.Buffer
	state      GateState
	maxBuffer  int
}

// GatedWriterConfig configures a GatedWriter
type GatedWriterConfig struct {
	// Underlying receives the logs once the gate opens.
	Underlying io.Writer

	InitialState GateState

	// MaxBufferSize caps buffered bytes (0 = unlimited). When exceeded the
	// oldest complete lines are dropped.
	MaxBufferSize int
}

// NewGatedWriter creates a new gated writer
func NewGatedWriter(config GatedWriterConfig) *GatedWriter {
	if config.Underlying == nil {
		config.Underlying = io.Discard
	}
	return &GatedWriter{
		underlying: config.Underlying,
		state:      config.InitialState,
		maxBuffer:  config.MaxBufferSize,
	}
}

// Write implements io.Writer
func (gw *GatedWriter) Write(p []byte) (int, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return gw.underlying.Write(p)
	}

	if gw.maxBuffer > 0 && gw.buffer.Len()+len(p) > gw.maxBuffer {
		gw.dropOldest(gw.buffer.Len() + len(p) - gw.maxBuffer)
	}
	return gw.buffer.Write(p)
}

// dropOldest discards at least n bytes from the head of the buffer, extending
// to the next newline so a partial line is never flushed.
func (gw *GatedWriter) dropOldest(n int) {
	if n >= gw.buffer.Len() {
		gw.buffer.Reset()
		return
	}
	gw.buffer.Next(n)
	if i := bytes.IndexByte(gw.buffer.Bytes(), '\n'); i >= 0 {
		gw.buffer.Next(i + 1)
	} else {
		gw.buffer.Reset()
	}
}

// OpenGate opens the gate and flushes all buffered logs
func (gw *GatedWriter) OpenGate() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.state == GateOpen {
		return nil
	}
	gw.state = GateOpen
	return gw.flushLocked()
}

// CloseGate closes the gate, causing subsequent logs to be buffered
func (gw *GatedWriter) CloseGate() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.state = GateClosed
}

// Flush writes buffered logs without opening the gate
func (gw *GatedWriter) Flush() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.flushLocked()
}

func (gw *GatedWriter) flushLocked() error {
	if gw.buffer.Len() == 0 {
		return nil
	}
	_, err := gw.underlying.Write(gw.buffer.Bytes())
	gw.buffer.Reset()
	return err
}

// IsOpen returns true if the gate is open
func (gw *GatedWriter) IsOpen() bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.state == GateOpen
}

// BufferedSize returns the current size of buffered logs in bytes
func (gw *GatedWriter) BufferedSize() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.buffer.Len()
}

// GatedLogger wraps a logger with gate control
type GatedLogger struct {
	Logger
	gate *GatedWriter
}

// NewGatedLogger creates a logger whose console outputs pass through a gate.
// The rotated file, when configured, is written directly.
func NewGatedLogger(config *Config, gateConfig GatedWriterConfig) (*GatedLogger, *GatedWriter) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if gateConfig.Underlying == nil && len(cfg.Outputs) > 0 {
		gateConfig.Underlying = cfg.Outputs[0]
	}
	gate := NewGatedWriter(gateConfig)
	cfg.Outputs = []io.Writer{gate}

	return &GatedLogger{
		Logger: newZerologLogger(&cfg),
		gate:   gate,
	}, gate
}

// NewNopLogger returns an open-gated logger that discards everything. Tests
// and library callers without a configured sink use it.
func NewNopLogger() *GatedLogger {
	l, _ := NewGatedLogger(&Config{Level: ErrorLevel, Format: JSONFormat}, GatedWriterConfig{
		Underlying:   io.Discard,
		InitialState: GateOpen,
	})
	return l
}

// WithSystem creates a new logger with a system name, preserving gate access
func (gl *GatedLogger) WithSystem(name string) *GatedLogger {
	return &GatedLogger{Logger: gl.Logger.WithSystem(name), gate: gl.gate}
}

// WithSubsystem creates a new logger with a subsystem, preserving gate access
func (gl *GatedLogger) WithSubsystem(name string) *GatedLogger {
	return &GatedLogger{Logger: gl.Logger.WithSubsystem(name), gate: gl.gate}
}

// WithFields creates a new logger with additional fields, preserving gate access
func (gl *GatedLogger) WithFields(fields ...TypedField) *GatedLogger {
	return &GatedLogger{Logger: gl.Logger.WithFields(fields...), gate: gl.gate}
}

// OpenGate opens the gate and flushes buffered logs
func (gl *GatedLogger) OpenGate() error {
	return gl.gate.OpenGate()
}

// IsGateOpen returns true if the gate is open
func (gl *GatedLogger) IsGateOpen() bool {
	return gl.gate.IsOpen()
}

// BufferedSize returns the size of buffered logs
func (gl *GatedLogger) BufferedSize() int {
	return gl.gate.BufferedSize()
}
