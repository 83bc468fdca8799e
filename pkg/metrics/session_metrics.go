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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	sessionMetricSubsystem = "session"
)

var (
	SessionMetricsRegisterOnce sync.Once

	SessionActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: evliteNamespace,
		Subsystem: sessionMetricSubsystem,
		Name:      "active",
		Help:      "当前占用槽位的会话数量",
	}, []string{managerLabelName})

	SessionAllocTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: evliteNamespace,
		Subsystem: sessionMetricSubsystem,
		Name:      "alloc_total",
		Help:      "会话槽位分配次数",
	}, []string{managerLabelName})

	SessionClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: evliteNamespace,
		Subsystem: sessionMetricSubsystem,
		Name:      "closed_total",
		Help:      "按原因统计的会话关闭次数",
	}, []string{reasonLabelName})

	SessionBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: evliteNamespace,
		Subsystem: sessionMetricSubsystem,
		Name:      "bytes_total",
		Help:      "会话收发的字节数",
	}, []string{directionLabelName})

	SessionReconnectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: evliteNamespace,
		Subsystem: sessionMetricSubsystem,
		Name:      "reconnect_total",
		Help:      "持久会话的重连结果",
	}, []string{resultLabelName})

	SessionOutboundQueueLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: evliteNamespace,
		Subsystem: sessionMetricSubsystem,
		Name:      "outbound_queue_length",
		Help:      "消息入队时发送队列的长度",
		Buckets:   queueLengthBuckets,
	})
)

// RegisterSessionMetrics 将会话相关的指标注册到 Prometheus Registry 中。
func RegisterSessionMetrics(registry prometheus.Registerer) {
	SessionMetricsRegisterOnce.Do(func() {
		registry.MustRegister(SessionActive)
		registry.MustRegister(SessionAllocTotal)
		registry.MustRegister(SessionClosedTotal)
		registry.MustRegister(SessionBytesTotal)
		registry.MustRegister(SessionReconnectTotal)
		registry.MustRegister(SessionOutboundQueueLength)
	})
}
