package engine

import (
	"runtime"

	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/session"
	"github.com/fwjieok/libevlite/internal/network/sid"
	"github.com/fwjieok/libevlite/pkg/util/merr"
	"github.com/fwjieok/libevlite/pkg/util/retry"
)

const (
	defaultSessionCapacity = 1 << 16
	defaultMaxEvents       = 256
)

// Config 为网络引擎配置，对应配置文件中的 engine 节点。
type Config struct {
	// Workers 为事件循环数量，0 表示与 GOMAXPROCS 相同。
	Workers int `mapstructure:"workers" json:"workers"`
	// SessionCapacity 为每个事件循环可容纳的会话数。
	SessionCapacity uint32 `mapstructure:"session-capacity" json:"session-capacity"`
	// MaxEvents 为单次 epoll_wait 返回的最大事件数。
	MaxEvents int `mapstructure:"max-events" json:"max-events"`
	Backlog   int `mapstructure:"backlog" json:"backlog"`

	Session   session.Setting     `mapstructure:"session" json:"session"`
	Reconnect retry.BackOffConfig `mapstructure:"reconnect" json:"reconnect"`

	// MetricsAddr 为 Prometheus 指标与调试接口的监听地址，空表示不开启。
	MetricsAddr string `mapstructure:"metrics-addr" json:"metrics-addr"`
}

func DefaultConfig() Config {
	return Config{
		SessionCapacity: defaultSessionCapacity,
		MaxEvents:       defaultMaxEvents,
		Backlog:         netfd.DefaultBacklog,
		Session:         session.DefaultSetting,
		Reconnect:       retry.DefaultBackOffConfig(),
	}
}

// normalize 将零值字段替换为默认值。
func (c *Config) normalize() {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.SessionCapacity == 0 {
		c.SessionCapacity = defaultSessionCapacity
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.Backlog <= 0 {
		c.Backlog = netfd.DefaultBacklog
	}
	if c.Reconnect == (retry.BackOffConfig{}) {
		c.Reconnect = retry.DefaultBackOffConfig()
	}
}

func (c Config) Validate() error {
	if c.Workers < 1 || c.Workers > sid.MaxIndex+1 {
		return merr.WrapErrParameterInvalidRange(1, sid.MaxIndex+1, c.Workers, "engine workers")
	}
	if c.SessionCapacity > session.MaxManagerSize {
		return merr.WrapErrParameterInvalidRange(1, uint32(session.MaxManagerSize), c.SessionCapacity, "session capacity")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Reconnect.Validate()
}
