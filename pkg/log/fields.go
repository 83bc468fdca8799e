package log

import (
	"net"
	"strconv"

	"go.uber.org/zap"
)

const (
	FieldNameComponent = "component"
	FieldNameWorker    = "worker"
	FieldNameFd        = "fd"
	FieldNameEndpoint  = "endpoint"
)

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldWorker 返回一个包含事件循环编号的 zap 字段。
func FieldWorker(index int) zap.Field {
	return zap.Int(FieldNameWorker, index)
}

// FieldFd 返回一个包含连接描述符的 zap 字段。
func FieldFd(fd int) zap.Field {
	return zap.Int(FieldNameFd, fd)
}

// FieldEndpoint 返回一个 "host:port" 形式的对端地址字段。
func FieldEndpoint(host string, port uint16) zap.Field {
	return zap.String(FieldNameEndpoint, net.JoinHostPort(host, strconv.Itoa(int(port))))
}
