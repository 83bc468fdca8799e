package netfd

import "github.com/cockroachdb/errors"

// ErrWouldBlock 表示操作需要等待描述符就绪。
var ErrWouldBlock = errors.New("netfd: operation would block")
