// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	// #nosec
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// evliteNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	evliteNamespace = "evlite"

	// 以下为当前使用的通用标签名。
	managerLabelName   = "manager"
	reasonLabelName    = "reason"
	directionLabelName = "direction"
	resultLabelName    = "result"
	workerLabelName    = "worker"
)

// 标签取值。
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	ReconnectSucceeded = "succeeded"
	ReconnectFailed    = "failed"
	ReconnectGaveUp    = "gave_up"

	CloseReasonShutdown = "shutdown"
	CloseReasonPeer     = "peer"
	CloseReasonError    = "error"
	CloseReasonTimeout  = "timeout"
	CloseReasonOverflow = "overflow"
)

var (
	// queueLengthBuckets 为发送队列长度的桶划分。
	// 实际桶分布为：[1 2 4 8 16 32 64 128 256 512 1024 2048]
	queueLengthBuckets = prometheus.ExponentialBuckets(1, 2, 12)

	// NumWorkers 为当前运行中的事件循环数量。
	NumWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: evliteNamespace,
			Name:      "num_workers",
			Help:      "number of running event loops",
		})

	LoopPostedTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: evliteNamespace,
			Name:      "loop_posted_tasks_total",
			Help:      "tasks posted into event loops from other goroutines",
		}, []string{workerLabelName})

	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，只应调用一次。
func Register(r prometheus.Registerer) {
	r.MustRegister(NumWorkers)
	r.MustRegister(LoopPostedTasks)
	RegisterSessionMetrics(r)
	metricRegisterer = r
}
