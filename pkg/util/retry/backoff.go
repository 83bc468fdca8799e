package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// BackOffConfig 为持久会话重连的指数退避配置。
type BackOffConfig struct {
	InitialInterval time.Duration `mapstructure:"initial-interval" json:"initial-interval"`
	MaxInterval     time.Duration `mapstructure:"max-interval" json:"max-interval"`
	Multiplier      float64       `mapstructure:"multiplier" json:"multiplier"`
	// MaxAttempts 为连续失败的最大重连次数，0 表示不限。
	MaxAttempts uint64 `mapstructure:"max-attempts" json:"max-attempts"`
}

func DefaultBackOffConfig() BackOffConfig {
	return BackOffConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

func (c BackOffConfig) Validate() error {
	if c.InitialInterval <= 0 {
		return merr.WrapErrParameterInvalidMsg("reconnect initial interval %s must be positive", c.InitialInterval)
	}
	if c.MaxInterval < c.InitialInterval {
		return merr.WrapErrParameterInvalidMsg("reconnect max interval %s is less than initial interval %s",
			c.MaxInterval, c.InitialInterval)
	}
	if c.Multiplier < 1 {
		return merr.WrapErrParameterInvalidMsg("reconnect multiplier %v must not be less than 1", c.Multiplier)
	}
	return nil
}

// NewBackOff 创建一个新的退避策略，每个会话应持有独立的实例。
func NewBackOff(cfg BackOffConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = cfg.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	if cfg.MaxAttempts > 0 {
		return backoff.WithMaxRetries(b, cfg.MaxAttempts)
	}
	return b
}
