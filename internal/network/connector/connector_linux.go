//go:build linux

// Package connector 提供持久会话使用的非阻塞拨号器。
package connector

import (
	"go.uber.org/zap"

	"github.com/fwjieok/libevlite/internal/network"
	"github.com/fwjieok/libevlite/internal/network/netfd"
	"github.com/fwjieok/libevlite/internal/network/session"
	"github.com/fwjieok/libevlite/pkg/log"
)

var _ session.Dialer = (*Connector)(nil)

// Connector 实现 session.Dialer，Dial 只发起连接，连接结果在描述符可写后
// 由 Established 读取。
type Connector struct {
	log.Binder

	noDelay   bool
	keepAlive bool
}

type Option func(*Connector)

// WithNoDelay 在连接建立后设置 TCP_NODELAY。
func WithNoDelay(on bool) Option {
	return func(c *Connector) {
		c.noDelay = on
	}
}

// WithKeepAlive 在连接建立后开启 SO_KEEPALIVE。
func WithKeepAlive(on bool) Option {
	return func(c *Connector) {
		c.keepAlive = on
	}
}

func New(opts ...Option) *Connector {
	c := &Connector{noDelay: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial 向 host:port 发起非阻塞连接，host 必须是 IP 字面量。
func (c *Connector) Dial(host string, port uint16) (session.Conn, error) {
	fd, err := netfd.Connect(host, port)
	if err != nil {
		return nil, network.WithStage(err, network.StageDial)
	}
	return netfd.New(fd), nil
}

// Established 返回连接结果，成功时按配置设置套接字选项。
func (c *Connector) Established(conn session.Conn) error {
	fd := conn.Fd()
	if err := netfd.SocketError(fd); err != nil {
		return network.WithStage(err, network.StageDial)
	}
	if c.noDelay {
		if err := netfd.SetNoDelay(fd, true); err != nil {
			c.Logger().Debug("set nodelay failed", log.FieldFd(fd), zap.Error(err))
		}
	}
	if c.keepAlive {
		if err := netfd.SetKeepAlive(fd, true); err != nil {
			c.Logger().Debug("set keepalive failed", log.FieldFd(fd), zap.Error(err))
		}
	}
	return nil
}
