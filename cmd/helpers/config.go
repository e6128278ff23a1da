package helpers

import (
	"fmt"
	"os"
	"sync"

	"github.com/stephnangue/profilebridge/broker"
	"github.com/stephnangue/profilebridge/config"
	"github.com/stephnangue/profilebridge/logger"
)

var (
	// ConfigPath is bound to the root --config flag.
	ConfigPath string

	loadOnce  sync.Once
	loaded    *config.Config
	loadErr   error
	cliLogger *logger.GatedLogger
)

// LoadConfig reads the configuration once per process.
func LoadConfig() (*config.Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = config.LoadConfig(ConfigPath)
		if loadErr != nil {
			loadErr = fmt.Errorf("failed to load config: %w", loadErr)
		}
	})
	return loaded, loadErr
}

// Logger is the console logger of CLI commands. It only shows warnings
// unless PROFILE_BRIDGE_LOG_LEVEL says otherwise.
func Logger() *logger.GatedLogger {
	if cliLogger != nil {
		return cliLogger
	}
	level := logger.WarnLevel
	if v := os.Getenv(config.EnvLogLevel); v != "" {
		level = logger.ParseLogLevel(v)
	}
	conf := logger.DefaultConfig()
	conf.Level = level
	cliLogger, _ = logger.NewGatedLogger(conf, logger.GatedWriterConfig{InitialState: logger.GateOpen})
	return cliLogger
}

// Broker builds an in-process broker, for commands that do not need a
// running server.
func Broker() (*broker.Broker, error) {
	conf, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return broker.NewBroker(&broker.BrokerConfig{
		RawConfig: conf,
		Logger:    Logger(),
	})
}
