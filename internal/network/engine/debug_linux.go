//go:build linux

package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const debugTimeout = time.Second

// DebugHandler 以 JSON 输出引擎快照，查询参数 sessions=1 时附带每个会话的状态。
func (e *Engine) DebugHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), debugTimeout)
		defer cancel()

		withSessions := r.URL.Query().Get("sessions") != ""
		st, err := e.collect(ctx, withSessions)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		body, err := sonic.Marshal(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(body); err != nil {
			e.Logger().Debug("write debug response failed", zap.Error(err))
		}
	})
}
