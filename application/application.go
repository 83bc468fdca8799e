package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/fwjieok/libevlite/internal/network/engine"
	zlog "github.com/fwjieok/libevlite/pkg/log"
	zviper "github.com/fwjieok/libevlite/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	envPrefix         = "EVLITE"
)

// Application is the runtime container shared by evlite programs.
// It owns configuration, loggers and the engine settings read from them.
type Application struct {
	cfg       *zviper.Config
	loggers   map[string]*zlog.MLogger
	engineCfg engine.Config
}

// New creates a new Application instance.
func New() *Application {
	return &Application{
		engineCfg: engine.DefaultConfig(),
	}
}

// Run loads configuration and initializes logging.
// The config file is resolved with the following priority:
//  1. Default: ./config.yaml (optional, skipped when absent)
//  2. Env: EVLITE_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
//
// Every key can be overridden by EVLITE_<KEY> env vars, e.g.
// EVLITE_ENGINE_WORKERS overrides engine.workers.
func (a *Application) Run() error {
	return a.RunWithArgs(os.Args[1:])
}

// RunWithArgs is Run with explicit command-line arguments.
func (a *Application) RunWithArgs(args []string) error {
	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}
	return a.loadEngineConfig()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Engine returns the engine settings under the "engine" key, merged over defaults.
func (a *Application) Engine() engine.Config {
	return a.engineCfg
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return zlog.With()
}

// loadConfig resolves config file path and loads it via viper wrapper.
func (a *Application) loadConfig(args []string) (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv("EVLITE_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
		explicit = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, errors.New("missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			configPath = val
			explicit = true
		}
	}

	cfg := zviper.New()
	cfg.AutomaticEnv(envPrefix)
	a.setEngineDefaults(cfg)

	if _, err := os.Stat(configPath); err != nil && !explicit && os.IsNotExist(err) {
		return cfg, nil
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// setEngineDefaults registers the engine keys so env overrides apply
// even when the config file omits them.
func (a *Application) setEngineDefaults(cfg *zviper.Config) {
	def := engine.DefaultConfig()
	cfg.SetDefault("engine.workers", def.Workers)
	cfg.SetDefault("engine.session-capacity", def.SessionCapacity)
	cfg.SetDefault("engine.max-events", def.MaxEvents)
	cfg.SetDefault("engine.backlog", def.Backlog)
	cfg.SetDefault("engine.metrics-addr", def.MetricsAddr)
	cfg.SetDefault("engine.session.timeout", def.Session.Timeout)
	cfg.SetDefault("engine.session.keepalive", def.Session.Keepalive)
	cfg.SetDefault("engine.session.max-inbuffer-len", def.Session.MaxInbufferLen)
	cfg.SetDefault("engine.reconnect.initial-interval", def.Reconnect.InitialInterval)
	cfg.SetDefault("engine.reconnect.max-interval", def.Reconnect.MaxInterval)
	cfg.SetDefault("engine.reconnect.multiplier", def.Reconnect.Multiplier)
	cfg.SetDefault("engine.reconnect.max-attempts", def.Reconnect.MaxAttempts)
}

func (a *Application) loadEngineConfig() error {
	cfg := engine.DefaultConfig()
	if err := a.cfg.UnmarshalKey("engine", &cfg); err != nil {
		return errors.Wrap(err, "decode engine config")
	}
	a.engineCfg = cfg
	return nil
}
