package log

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/uber/jaeger-client-go/utils"
)

// RateLimiter 为限流日志使用的最小接口。
type RateLimiter interface {
	CheckCredit(delta float64) bool
}

type unlimited struct{}

func (unlimited) CheckCredit(float64) bool { return true }

var (
	_globalR    atomic.Pointer[RateLimiter]
	_rateGroups sync.Map // string -> *utils.ReconfigurableRateLimiter
)

// R 返回全局 RateLimiter，未开启限流时不丢弃任何日志。
func R() RateLimiter {
	if rl := _globalR.Load(); rl != nil {
		return *rl
	}
	return unlimited{}
}

func setGlobalRateLimiter(rl RateLimiter) {
	_globalR.Store(&rl)
}

// rateGroup 返回指定分组的共享限流器，已存在时更新其参数。
func rateGroup(name string, creditPerSecond, maxBalance float64) RateLimiter {
	fresh := utils.NewRateLimiter(creditPerSecond, maxBalance)
	actual, loaded := _rateGroups.LoadOrStore(name, fresh)
	rl := actual.(*utils.ReconfigurableRateLimiter)
	if loaded {
		rl.Update(creditPerSecond, maxBalance)
	}
	return rl
}

// configureRateLimiterFromEnv 读取 EVLITE_LOG_RATE_* 环境变量：
//
//   - EVLITE_LOG_RATE_ENABLE：是否开启全局限流，默认关闭。
//   - EVLITE_LOG_RATE_CREDIT_PER_SECOND：每秒补充的额度，默认 1。
//   - EVLITE_LOG_RATE_MAX_BALANCE：额度上限，默认 60。
func configureRateLimiterFromEnv() {
	if !envBool("EVLITE_LOG_RATE_ENABLE") {
		setGlobalRateLimiter(unlimited{})
		return
	}
	credit := envFloat("EVLITE_LOG_RATE_CREDIT_PER_SECOND", 1)
	balance := envFloat("EVLITE_LOG_RATE_MAX_BALANCE", 60)
	setGlobalRateLimiter(utils.NewRateLimiter(credit, balance))
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return f
}
