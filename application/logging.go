package application

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	zlog "github.com/fwjieok/libevlite/pkg/log"
)

// initLogging 先按 EVLITE_LOG_* 环境变量初始化全局 Logger，
// 再按配置中的 logging 段创建模块 Logger。
func (a *Application) initLogging() error {
	if err := initGlobalLogger(globalLogConfigFromEnv()); err != nil {
		return err
	}
	return a.initModuleLoggers()
}

// globalLogConfigFromEnv 读取全局日志配置：
//
//   - EVLITE_LOG_ENABLE：是否输出日志，默认 true。
//   - EVLITE_LOG_LEVEL：日志级别，默认 info。
//   - EVLITE_LOG_FORMAT：text 或 json，默认 text。
//   - EVLITE_LOG_STDOUT：是否输出到标准输出，默认 true。
//   - EVLITE_LOG_FILE_DIR 与 EVLITE_LOG_FILE：日志文件目录和文件名，文件名为空时不写文件。
func globalLogConfigFromEnv() *zlog.Config {
	cfg := &zlog.Config{
		Level:               envOr("EVLITE_LOG_LEVEL", "info"),
		Format:              envOr("EVLITE_LOG_FORMAT", "text"),
		Stdout:              envBool("EVLITE_LOG_STDOUT", true),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: envOr("EVLITE_LOG_FILE_DIR", ""),
			Filename: envOr("EVLITE_LOG_FILE", ""),
		},
	}
	if !envBool("EVLITE_LOG_ENABLE", true) {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}
	return cfg
}

func initGlobalLogger(cfg *zlog.Config) error {
	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggers 按 logging 段为每个模块创建独立的 Logger，例如：
//
//	logging:
//	  engine:
//	    level: debug
//	    file:
//	      rootpath: ./logs
//	      filename: engine.log
func (a *Application) initModuleLoggers() error {
	var raw map[string]zlog.Config
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return errors.Wrap(err, "decode logging config")
	}
	loggers := make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		logger, _, err := zlog.InitLogger(&lc)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		// InitLogger 为包级函数多跳过了一层调用栈，这里直接使用需要还原。
		loggers[name] = zlog.NewMLogger(logger.WithOptions(zap.AddCallerSkip(-1)))
	}
	a.loggers = loggers
	return nil
}

func envOr(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
