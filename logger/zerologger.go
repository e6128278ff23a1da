package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

func (f StringField) apply(e *zerolog.Event) *zerolog.Event       { return e.Str(f.Key, f.Value) }
func (f StringsField) apply(e *zerolog.Event) *zerolog.Event      { return e.Strs(f.Key, f.Value) }
func (f IntField) apply(e *zerolog.Event) *zerolog.Event          { return e.Int(f.Key, f.Value) }
func (f Int64Field) apply(e *zerolog.Event) *zerolog.Event        { return e.Int64(f.Key, f.Value) }
func (f BoolField) apply(e *zerolog.Event) *zerolog.Event         { return e.Bool(f.Key, f.Value) }
func (f DurationField) apply(e *zerolog.Event) *zerolog.Event     { return e.Dur(f.Key, f.Value) }
func (f TimeField) apply(e *zerolog.Event) *zerolog.Event         { return e.Time(f.Key, f.Value) }
func (f AnyField) apply(e *zerolog.Event) *zerolog.Event          { return e.Interface(f.Key, f.Value) }
func (f ErrorField) apply(e *zerolog.Event) *zerolog.Event        { return e.AnErr(f.Key, f.Value) }
func (f StringField) context(c zerolog.Context) zerolog.Context   { return c.Str(f.Key, f.Value) }
func (f StringsField) context(c zerolog.Context) zerolog.Context  { return c.Strs(f.Key, f.Value) }
func (f IntField) context(c zerolog.Context) zerolog.Context      { return c.Int(f.Key, f.Value) }
func (f Int64Field) context(c zerolog.Context) zerolog.Context    { return c.Int64(f.Key, f.Value) }
func (f BoolField) context(c zerolog.Context) zerolog.Context     { return c.Bool(f.Key, f.Value) }
func (f DurationField) context(c zerolog.Context) zerolog.Context { return c.Dur(f.Key, f.Value) }
func (f TimeField) context(c zerolog.Context) zerolog.Context     { return c.Time(f.Key, f.Value) }
func (f AnyField) context(c zerolog.Context) zerolog.Context      { return c.Interface(f.Key, f.Value) }
func (f ErrorField) context(c zerolog.Context) zerolog.Context    { return c.AnErr(f.Key, f.Value) }

// ZerologLogger implements Logger using zerolog. Derived loggers share the
// underlying writers, so the rotated log file is opened exactly once.
type ZerologLogger struct {
	logger zerolog.Logger
	module string
	file   *lumberjack.Logger
}

// NewZerologLogger creates a new ZerologLogger
func NewZerologLogger(config *Config) Logger {
	return newZerologLogger(config)
}

func newZerologLogger(config *Config) *ZerologLogger {
	if config == nil {
		config = DefaultConfig()
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	writer, file := buildWriter(config)

	zl := zerolog.New(writer).Level(config.Level.zerolog()).With().Timestamp().Logger()
	if config.EnableCaller {
		zl = zl.With().CallerWithSkipFrameCount(4).Logger()
	}
	if config.Subsystem != "" {
		zl = zl.With().Str("module", config.Subsystem).Logger()
	}

	return &ZerologLogger{
		logger: zl,
		module: config.Subsystem,
		file:   file,
	}
}

func buildWriter(config *Config) (io.Writer, *lumberjack.Logger) {
	var writers []io.Writer
	var file *lumberjack.Logger

	if fc := config.FileConfig; fc != nil && fc.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(fc.Filename), 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create log directory: %v\n", err)
		} else {
			file = &lumberjack.Logger{
				Filename:   fc.Filename,
				MaxSize:    fc.MaxSize,
				MaxAge:     fc.MaxAge,
				MaxBackups: fc.MaxBackups,
				Compress:   fc.Compress,
				LocalTime:  true,
			}
			// The file always gets JSON lines, whatever the console format.
			writers = append(writers, file)
		}
	}

	for _, out := range config.Outputs {
		if config.Format == DefaultFormat {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: "15:04:05",
				PartsOrder: []string{
					zerolog.TimestampFieldName,
					zerolog.LevelFieldName,
					"module",
					zerolog.MessageFieldName,
				},
				FieldsExclude: []string{"module"},
			})
			continue
		}
		writers = append(writers, out)
	}

	switch len(writers) {
	case 0:
		return io.Discard, file
	case 1:
		return writers[0], file
	default:
		return zerolog.MultiLevelWriter(writers...), file
	}
}

func (zl *ZerologLogger) log(e *zerolog.Event, msg string, fields []TypedField) {
	if e == nil {
		return
	}
	for _, f := range fields {
		e = f.apply(e)
	}
	e.Msg(msg)
}

func (zl *ZerologLogger) Trace(msg string, fields ...TypedField) {
	zl.log(zl.logger.Trace(), msg, fields)
}

func (zl *ZerologLogger) Debug(msg string, fields ...TypedField) {
	zl.log(zl.logger.Debug(), msg, fields)
}

func (zl *ZerologLogger) Info(msg string, fields ...TypedField) {
	zl.log(zl.logger.Info(), msg, fields)
}

func (zl *ZerologLogger) Warn(msg string, fields ...TypedField) {
	zl.log(zl.logger.Warn(), msg, fields)
}

func (zl *ZerologLogger) Error(msg string, fields ...TypedField) {
	zl.log(zl.logger.Error(), msg, fields)
}

// Fatal logs at fatal level and exits the process
func (zl *ZerologLogger) Fatal(msg string, fields ...TypedField) {
	zl.log(zl.logger.Fatal(), msg, fields)
}

func (zl *ZerologLogger) Debugf(format string, args ...interface{}) {
	zl.logger.Debug().Msgf(format, args...)
}

func (zl *ZerologLogger) Infof(format string, args ...interface{}) {
	zl.logger.Info().Msgf(format, args...)
}

func (zl *ZerologLogger) Warnf(format string, args ...interface{}) {
	zl.logger.Warn().Msgf(format, args...)
}

func (zl *ZerologLogger) Errorf(format string, args ...interface{}) {
	zl.logger.Error().Msgf(format, args...)
}

func (zl *ZerologLogger) WithSubsystem(name string) Logger {
	module := name
	if zl.module != "" {
		module = zl.module + "." + name
	}
	return zl.withModule(module)
}

func (zl *ZerologLogger) WithSystem(name string) Logger {
	return zl.withModule(name)
}

func (zl *ZerologLogger) withModule(module string) *ZerologLogger {
	return &ZerologLogger{
		logger: zl.logger.With().Str("module", module).Logger(),
		module: module,
		file:   zl.file,
	}
}

func (zl *ZerologLogger) WithFields(fields ...TypedField) Logger {
	if len(fields) == 0 {
		return zl
	}
	ctx := zl.logger.With()
	for _, f := range fields {
		ctx = f.context(ctx)
	}
	return &ZerologLogger{
		logger: ctx.Logger(),
		module: zl.module,
		file:   zl.file,
	}
}

func (zl *ZerologLogger) IsLevelEnabled(level LogLevel) bool {
	return zl.logger.GetLevel() <= level.zerolog()
}

// Close closes the rotated log file, if any. Derived loggers share the
// file, so only the root logger should be closed.
func (zl *ZerologLogger) Close() error {
	if zl.file != nil {
		return zl.file.Close()
	}
	return nil
}
