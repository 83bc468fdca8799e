package session

import (
	"io"
	"strings"
	"time"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

// Type 为会话类型。
type Type int8

const (
	// Once 为临时会话，断开后槽位立即回收。
	Once Type = 1
	// Persist 为永久会话，断开后按重连策略重新连接，句柄保持不变。
	Persist Type = 2
)

func (t Type) String() string {
	switch t {
	case Once:
		return "once"
	case Persist:
		return "persist"
	}
	return "unknown"
}

// EventKind 为会话在事件集上注册的事件。
type EventKind uint8

const (
	EvRead EventKind = iota + 1
	EvWrite
	EvKeepalive
)

func (k EventKind) String() string {
	switch k {
	case EvRead:
		return "read"
	case EvWrite:
		return "write"
	case EvKeepalive:
		return "keepalive"
	}
	return "unknown"
}

// Setting 为会话级配置，在 Start 时生效。
type Setting struct {
	// Timeout 为读空闲超时，0 表示不检测。
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	// Keepalive 为保活回调周期，0 表示不开启。
	Keepalive time.Duration `mapstructure:"keepalive" json:"keepalive"`
	// MaxInbufferLen 为入站缓冲区的最大字节数，0 表示不限制。
	MaxInbufferLen int `mapstructure:"max-inbuffer-len" json:"max-inbuffer-len"`
}

// DefaultSetting 为默认会话配置。
var DefaultSetting = Setting{
	MaxInbufferLen: 8 << 20,
}

func (s Setting) Validate() error {
	if s.Timeout < 0 {
		return merr.WrapErrParameterInvalidMsg("session timeout %s must not be negative", s.Timeout)
	}
	if s.Keepalive < 0 {
		return merr.WrapErrParameterInvalidMsg("session keepalive %s must not be negative", s.Keepalive)
	}
	if s.MaxInbufferLen < 0 {
		return merr.WrapErrParameterInvalidMsg("max inbuffer length %d must not be negative", s.MaxInbufferLen)
	}
	return nil
}

// Status 为会话的状态位，各位相互独立。
type Status struct {
	Reading     bool `json:"reading"`
	Writing     bool `json:"writing"`
	Keepaliving bool `json:"keepaliving"`
	Exiting     bool `json:"exiting"`
}

func (st Status) String() string {
	var parts []string
	if st.Reading {
		parts = append(parts, "reading")
	}
	if st.Writing {
		parts = append(parts, "writing")
	}
	if st.Keepaliving {
		parts = append(parts, "keepaliving")
	}
	if st.Exiting {
		parts = append(parts, "exiting")
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "|")
}

// Service 为应用层实现的会话回调，所有回调都在会话所属的事件循环上执行。
//
// 回调中可以直接调用会话的 Send、Append、Shutdown 等方法。
type Service interface {
	// OnConnected 在连接建立（包括重连成功）后调用，返回错误会立即结束会话。
	OnConnected(s *Session) error
	// OnData 在收到数据后调用，返回已消费的字节数，未消费部分保留到下次。
	// 返回错误会立即结束会话。
	OnData(s *Session, data []byte) (int, error)
	// OnTimeout 在读空闲超时后调用，返回错误会以 ErrIoTimeout 结束会话。
	OnTimeout(s *Session) error
	// OnKeepalive 在保活定时器到期时调用。
	OnKeepalive(s *Session)
	// OnClosed 在连接断开后调用，reason 为 nil 表示正常关闭。
	OnClosed(s *Session, reason error)
}

// BaseService 为 Service 的空实现，应用层可以嵌入它只实现关心的回调。
type BaseService struct{}

var _ Service = BaseService{}

func (BaseService) OnConnected(*Session) error { return nil }

// OnData 丢弃收到的全部数据。
func (BaseService) OnData(_ *Session, data []byte) (int, error) { return len(data), nil }

func (BaseService) OnTimeout(*Session) error { return nil }

func (BaseService) OnKeepalive(*Session) {}

func (BaseService) OnClosed(*Session, error) {}

// Conn 为会话持有的非阻塞连接。
//
// Read 和 Write 在需要等待时返回 netfd.ErrWouldBlock，对端关闭时 Read 返回 io.EOF。
type Conn interface {
	io.ReadWriteCloser
	Fd() int
}

// Dialer 为持久会话的重连拨号器。
type Dialer interface {
	// Dial 发起非阻塞连接，返回的连接可能尚未建立完成。
	Dial(host string, port uint16) (Conn, error)
	// Established 在连接可写后调用，返回连接结果。
	Established(conn Conn) error
}
