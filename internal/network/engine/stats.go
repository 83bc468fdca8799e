package engine

import "time"

// Stats 为引擎的运行快照。
type Stats struct {
	Workers []WorkerStats `json:"workers"`
	// Sessions 为所有事件循环上占用的会话槽位数。
	Sessions uint32 `json:"sessions"`
	// Persistent 为主动连接（包括重连中）的会话数。
	Persistent int `json:"persistent"`
}

type WorkerStats struct {
	Index    int    `json:"index"`
	Sessions uint32 `json:"sessions"`
	Capacity uint32 `json:"capacity"`
	Fds      int    `json:"fds"`
	Timers   int    `json:"timers"`
	Accepted uint64 `json:"accepted"`

	SessionList []SessionInfo `json:"session-list,omitempty"`
}

type SessionInfo struct {
	ID         string    `json:"id"`
	Fd         int       `json:"fd"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
	Host       string    `json:"host"`
	Port       uint16    `json:"port"`
	Inbuffered int       `json:"inbuffered"`
	Queued     int       `json:"queued"`
	LastActive time.Time `json:"last-active"`
}
