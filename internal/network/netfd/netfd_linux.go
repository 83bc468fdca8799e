//go:build linux

// Package netfd 封装非阻塞 TCP 套接字的系统调用。
//
// 事件循环直接持有描述符，不经过 Go runtime 的 netpoller；
// 所有函数都不会阻塞，EAGAIN 统一转换为 ErrWouldBlock。
package netfd

import (
	"io"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"

	"github.com/fwjieok/libevlite/pkg/util/merr"
)

const DefaultBacklog = 1024

// FD 为一个已连接的非阻塞描述符，实现 io.ReadWriteCloser。
type FD struct {
	fd     int
	closed bool
}

// New 接管描述符 fd。
func New(fd int) *FD {
	return &FD{fd: fd}
}

func (c *FD) Fd() int { return c.fd }

// Read 读取一次，对端关闭时返回 io.EOF。
func (c *FD) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write 写入一次，可能只写出部分数据。
func (c *FD) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

// Close 关闭描述符，重复调用无副作用。
func (c *FD) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.fd)
}

// Listen 创建非阻塞监听套接字，host 为空表示监听所有地址。
func Listen(host string, port uint16, backlog int) (int, error) {
	sa, family, err := sockaddr(host, port)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, merr.WrapErrIoFailed("socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, merr.WrapErrIoFailed("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, merr.WrapErrIoFailed("bind", err)
	}
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, merr.WrapErrIoFailed("listen", err)
	}
	return fd, nil
}

// Accept 接受一个连接，没有待处理连接时返回 ErrWouldBlock。
func Accept(lfd int) (fd int, host string, port uint16, err error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case err == unix.EAGAIN:
			return -1, "", 0, ErrWouldBlock
		case err != nil:
			return -1, "", 0, merr.WrapErrIoFailed("accept", err)
		}
		host, port = endpoint(sa)
		return fd, host, port, nil
	}
}

// Connect 发起非阻塞连接，host 必须是 IP 字面量。
// 返回后描述符可写时通过 SocketError 获取连接结果。
func Connect(host string, port uint16) (int, error) {
	if net.ParseIP(host) == nil {
		return -1, merr.WrapErrParameterInvalidMsg("connect host %q is not an IP address", host)
	}
	sa, family, err := sockaddr(host, port)
	if err != nil {
		return -1, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, merr.WrapErrIoFailed("socket", err)
	}
	for {
		err = unix.Connect(fd, sa)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return -1, merr.WrapErrIoFailed("connect", err)
	}
	return fd, nil
}

// SocketError 返回描述符上挂起的错误（SO_ERROR）。
func SocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return merr.WrapErrIoFailed("getsockopt", err)
	}
	if errno != 0 {
		return merr.WrapErrIoFailed("connect", unix.Errno(errno))
	}
	return nil
}

func SetNoDelay(fd int, on bool) error {
	return setBool(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, on)
}

func SetKeepAlive(fd int, on bool) error {
	return setBool(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, on)
}

func setBool(fd, level, opt int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, level, opt, v); err != nil {
		return merr.WrapErrIoFailed("setsockopt", err)
	}
	return nil
}

// LocalAddr 返回描述符绑定的本地地址。
func LocalAddr(fd int) (string, uint16, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "", 0, merr.WrapErrIoFailed("getsockname", err)
	}
	host, port := endpoint(sa)
	return host, port, nil
}

// PeerAddr 返回对端地址。
func PeerAddr(fd int) (string, uint16, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", 0, merr.WrapErrIoFailed("getpeername", err)
	}
	host, port := endpoint(sa)
	return host, port, nil
}

// Resolve 将主机名解析为 IP 字面量，会阻塞，不能在事件循环中调用。
//
// 主机名不合法或不存在时返回 ErrParameterInvalid，其余解析失败为 ErrIoFailed。
func Resolve(host string) (string, error) {
	if host == "" || net.ParseIP(host) != nil {
		return host, nil
	}
	if !validHostname(host) {
		return "", merr.WrapErrParameterInvalidMsg("invalid host name %q", host)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return "", merr.WrapErrParameterInvalidMsg("host %q not found", host)
		}
		return "", merr.WrapErrIoFailed("resolve", err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	if len(ips) == 0 {
		return "", merr.WrapErrIoFailedReason("no address for " + host)
	}
	return ips[0].String(), nil
}

func validHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
	}
	return true
}

func sockaddr(host string, port uint16) (unix.Sockaddr, int, error) {
	if host == "" {
		return &unix.SockaddrInet4{Port: int(port)}, unix.AF_INET, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, merr.WrapErrParameterInvalidMsg("invalid IP address %q", host)
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: int(port)}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: int(port)}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func endpoint(sa unix.Sockaddr) (string, uint16) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(addr.Addr[:]).String(), uint16(addr.Port)
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String(), uint16(addr.Port)
	}
	return "", 0
}
