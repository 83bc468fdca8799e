// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// global 为进程级 Logger 及其属性，ReplaceGlobals 时整体替换。
type global struct {
	logger *zap.Logger
	props  *ZapProperties
}

var _global atomic.Pointer[global]

func init() {
	conf := &Config{Level: "debug", Stdout: true, DisableErrorVerbose: true}
	lg, props, err := InitLogger(conf, zap.OnFatal(zapcore.WriteThenPanic))
	if err != nil {
		panic(err)
	}
	ReplaceGlobals(lg, props)
	configureRateLimiterFromEnv()
}

// InitLogger 按配置创建 zap Logger，输出到标准输出和/或滚动日志文件。
// 两者都未开启时日志被丢弃。
func InitLogger(cfg *Config, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	outputs := make([]zapcore.WriteSyncer, 0, 2)
	if cfg.File.Filename != "" {
		fl, err := newFileWriter(&cfg.File)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, zapcore.AddSync(fl))
	}
	if cfg.Stdout {
		outputs = append(outputs, zapcore.Lock(os.Stdout))
	}
	lg, props, err := InitLoggerWithWriteSyncer(cfg, zap.CombineWriteSyncers(outputs...), opts...)
	if err != nil {
		return nil, nil, err
	}
	return lg.WithOptions(zap.AddCallerSkip(1)), props, nil
}

// InitLoggerWithWriteSyncer 使用指定的 WriteSyncer 创建 Logger。
func InitLoggerWithWriteSyncer(cfg *Config, output zapcore.WriteSyncer, opts ...zap.Option) (*zap.Logger, *ZapProperties, error) {
	level, err := zap.ParseAtomicLevel(cfg.normalizedLevel())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	var core zapcore.Core = zapcore.NewCore(newZapEncoder(cfg), output, level)
	if cfg.DisableErrorVerbose {
		core = &plainErrorCore{Core: core}
	}
	lg := zap.New(core, append(cfg.buildOptions(output), opts...)...)
	return lg, &ZapProperties{Core: core, Syncer: output, Level: level}, nil
}

func newFileWriter(cfg *FileLogConfig) (*lumberjack.Logger, error) {
	path := filepath.Join(cfg.RootPath, cfg.Filename)
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return nil, errors.Newf("log file %q is a directory", path)
	}
	maxSize := cfg.MaxSize
	if maxSize == 0 {
		maxSize = defaultLogMaxSize
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxDays,
		LocalTime:  true,
	}, nil
}

// plainErrorCore 将 error 字段降级为字符串，避免 cockroachdb/errors 输出冗长的 errorVerbose。
type plainErrorCore struct {
	zapcore.Core
}

func (c *plainErrorCore) With(fields []zapcore.Field) zapcore.Core {
	return &plainErrorCore{Core: c.Core.With(plainErrorFields(fields))}
}

func (c *plainErrorCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *plainErrorCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, plainErrorFields(fields))
}

func plainErrorFields(fields []zapcore.Field) []zapcore.Field {
	out := fields
	copied := false
	for i := range fields {
		if fields[i].Type != zapcore.ErrorType {
			continue
		}
		if !copied {
			out = append([]zapcore.Field(nil), fields...)
			copied = true
		}
		err, _ := fields[i].Interface.(error)
		if err == nil {
			out[i] = zap.Skip()
			continue
		}
		out[i] = zap.String(fields[i].Key, err.Error())
	}
	return out
}

// L 返回全局 Logger，可并发使用。
func L() *zap.Logger {
	return _global.Load().logger
}

// ReplaceGlobals 替换全局 Logger 及其属性。
func ReplaceGlobals(logger *zap.Logger, props *ZapProperties) {
	_global.Store(&global{logger: logger, props: props})
}

// Sync 刷新全局 Logger 中缓冲的日志，进程退出前调用。
func Sync() error {
	return L().Sync()
}
