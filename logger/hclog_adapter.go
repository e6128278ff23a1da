package logger

import (
	"bytes"
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
)

// HCLogAdapter exposes a GatedLogger as an hclog.Logger. The api client hands
// it to retryablehttp, which accepts any leveled logger of that shape.
type HCLogAdapter struct {
	logger *GatedLogger
	name   string
	args   []interface{}
}

var _ hclog.Logger = (*HCLogAdapter)(nil)

// NewHCLogAdapter creates a new adapter for the given GatedLogger
func NewHCLogAdapter(logger *GatedLogger) hclog.Logger {
	return &HCLogAdapter{logger: logger}
}

func (a *HCLogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	fields := a.fields(args)
	switch level {
	case hclog.Trace:
		a.logger.Trace(msg, fields...)
	case hclog.Debug:
		a.logger.Debug(msg, fields...)
	case hclog.Warn:
		a.logger.Warn(msg, fields...)
	case hclog.Error:
		a.logger.Error(msg, fields...)
	case hclog.Off:
	default:
		a.logger.Info(msg, fields...)
	}
}

func (a *HCLogAdapter) Trace(msg string, args ...interface{}) { a.Log(hclog.Trace, msg, args...) }
func (a *HCLogAdapter) Debug(msg string, args ...interface{}) { a.Log(hclog.Debug, msg, args...) }
func (a *HCLogAdapter) Info(msg string, args ...interface{})  { a.Log(hclog.Info, msg, args...) }
func (a *HCLogAdapter) Warn(msg string, args ...interface{})  { a.Log(hclog.Warn, msg, args...) }
func (a *HCLogAdapter) Error(msg string, args ...interface{}) { a.Log(hclog.Error, msg, args...) }

// fields turns hclog's alternating key/value pairs into typed fields. Pairs
// with a non-string key and a trailing odd value are dropped.
func (a *HCLogAdapter) fields(args []interface{}) []TypedField {
	all := make([]interface{}, 0, len(a.args)+len(args))
	all = append(all, a.args...)
	all = append(all, args...)

	fields := make([]TypedField, 0, len(all)/2)
	for i := 0; i+1 < len(all); i += 2 {
		key, ok := all[i].(string)
		if !ok {
			continue
		}
		switch v := all[i+1].(type) {
		case error:
			fields = append(fields, ErrorField{Key: key, Value: v})
		case string:
			fields = append(fields, String(key, v))
		default:
			fields = append(fields, Any(key, v))
		}
	}
	return fields
}

func (a *HCLogAdapter) ImpliedArgs() []interface{} { return a.args }

func (a *HCLogAdapter) With(args ...interface{}) hclog.Logger {
	merged := make([]interface{}, 0, len(a.args)+len(args))
	merged = append(merged, a.args...)
	merged = append(merged, args...)
	return &HCLogAdapter{logger: a.logger, name: a.name, args: merged}
}

func (a *HCLogAdapter) Name() string { return a.name }

func (a *HCLogAdapter) Named(name string) hclog.Logger {
	full := name
	if a.name != "" {
		full = a.name + "." + name
	}
	return &HCLogAdapter{logger: a.logger.WithSubsystem(name), name: full, args: a.args}
}

func (a *HCLogAdapter) ResetNamed(name string) hclog.Logger {
	return &HCLogAdapter{logger: a.logger.WithSystem(name), name: name, args: a.args}
}

// SetLevel is a no-op; the level is fixed by the logger Config.
func (a *HCLogAdapter) SetLevel(hclog.Level) {}

func (a *HCLogAdapter) GetLevel() hclog.Level {
	for _, l := range []struct {
		ours   LogLevel
		theirs hclog.Level
	}{
		{TraceLevel, hclog.Trace},
		{DebugLevel, hclog.Debug},
		{InfoLevel, hclog.Info},
		{WarnLevel, hclog.Warn},
		{ErrorLevel, hclog.Error},
	} {
		if a.logger.IsLevelEnabled(l.ours) {
			return l.theirs
		}
	}
	return hclog.Off
}

func (a *HCLogAdapter) IsTrace() bool { return a.logger.IsLevelEnabled(TraceLevel) }
func (a *HCLogAdapter) IsDebug() bool { return a.logger.IsLevelEnabled(DebugLevel) }
func (a *HCLogAdapter) IsInfo() bool  { return a.logger.IsLevelEnabled(InfoLevel) }
func (a *HCLogAdapter) IsWarn() bool  { return a.logger.IsLevelEnabled(WarnLevel) }
func (a *HCLogAdapter) IsError() bool { return a.logger.IsLevelEnabled(ErrorLevel) }

func (a *HCLogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(a.StandardWriter(opts), "", 0)
}

func (a *HCLogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	level := hclog.Info
	if opts != nil && opts.ForceLevel != hclog.NoLevel {
		level = opts.ForceLevel
	}
	return &lineWriter{adapter: a, level: level}
}

type lineWriter struct {
	adapter *HCLogAdapter
	level   hclog.Level
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.adapter.Log(w.level, string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
