package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 进程注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TaskDuration, TaskTotal, QueuePending,
		EmbedCallTotal, EmbedCallDuration,
		RateLimitCeiling, RateLimitUsed,
		SearchDuration,
	)
}

// TaskDuration 任务执行耗时（秒）
var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "media_task_duration_seconds",
		Help:    "任务执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// TaskTotal 任务总数（按终态）
var TaskTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "media_task_total",
		Help: "任务总数（按终态）",
	},
	[]string{"status"}, // completed | failed | cancelled | retried
)

// QueuePending 待处理任务数（按优先级）
var QueuePending = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "media_queue_pending",
		Help: "待处理任务数",
	},
	[]string{"priority"},
)

// EmbedCallTotal Embedding Provider 调用数（按类型与结果）
var EmbedCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "media_embed_call_total",
		Help: "Embedding Provider 调用总数",
	},
	[]string{"kind", "outcome"}, // kind: text|image; outcome: ok|error|throttled|placeholder|cached
)

// EmbedCallDuration Embedding 调用耗时（秒）
var EmbedCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "media_embed_call_duration_seconds",
		Help:    "Embedding Provider 调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// RateLimitCeiling 限流器当前上限
var RateLimitCeiling = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "media_ratelimit_ceiling",
		Help: "限流器当前窗口上限",
	},
)

// RateLimitUsed 限流器窗口内已用配额
var RateLimitUsed = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "media_ratelimit_used",
		Help: "限流器窗口内已用调用数",
	},
)

// SearchDuration 搜索端到端耗时（秒）
var SearchDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "media_search_duration_seconds",
		Help:    "文本搜索端到端耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
