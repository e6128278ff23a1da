package logger

import (
	"io"
	"os"
)

// Config holds the configuration for the logger
type Config struct {
	Level        LogLevel
	Format       OutputFormat
	Outputs      []io.Writer
	Subsystem    string
	FileConfig   *FileConfig
	EnableCaller bool
}

// DefaultConfig returns a console configuration writing to stderr at info
// level. CLI commands use it; the server builds its own from the HCL file.
func DefaultConfig() *Config {
	return &Config{
		Level:   InfoLevel,
		Format:  DefaultFormat,
		Outputs: []io.Writer{os.Stderr},
	}
}

// ServerConfig returns the configuration used by the long-running broker:
// JSON lines to stdout and to a rotated file.
func ServerConfig(level LogLevel, file *FileConfig) *Config {
	return &Config{
		Level:        level,
		Format:       JSONFormat,
		Outputs:      []io.Writer{os.Stdout},
		FileConfig:   file,
		EnableCaller: level <= DebugLevel,
	}
}
