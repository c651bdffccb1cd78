// Package metrics 提供监控服务的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// 扫描
	scanCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xqnotify_scan_cycles_total",
			Help: "Total number of completed scan cycles",
		},
	)

	scanCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "xqnotify_scan_cycle_duration_seconds",
			Help:    "Scan cycle duration in seconds, settle delays included",
			Buckets: prometheus.DefBuckets,
		},
	)

	trackedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xqnotify_tracked_files",
			Help: "Number of files with a record in the monitor state",
		},
	)

	readFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xqnotify_read_failures_total",
			Help: "Total number of file reads that failed or could not be decoded",
		},
	)

	// 通知
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xqnotify_notifications_total",
			Help: "Total notification attempts",
		},
		[]string{"kind", "status"},
	)

	notifyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xqnotify_notify_duration_seconds",
			Help:    "Notifier call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"notifier"},
	)

	skippedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "xqnotify_skipped_lines_total",
			Help: "Appended lines not forwarded because a later line arrived in the same poll",
		},
	)

	// 状态持久化
	stateSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xqnotify_state_saves_total",
			Help: "Total state file saves",
		},
		[]string{"status"},
	)
)

// Handler 返回 Prometheus 指标的 HTTP 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordScanCycle 记录一次扫描周期
func RecordScanCycle(duration time.Duration, tracked int) {
	scanCyclesTotal.Inc()
	scanCycleDuration.Observe(duration.Seconds())
	trackedFiles.Set(float64(tracked))
}

// RecordReadFailure 记录一次读取失败
func RecordReadFailure() {
	readFailuresTotal.Inc()
}

// RecordNotification 记录一次通知发送
func RecordNotification(notifier, kind string, duration time.Duration, success bool) {
	notifyDuration.WithLabelValues(notifier).Observe(duration.Seconds())
	notificationsTotal.WithLabelValues(kind, status(success)).Inc()
}

// RecordSkippedLines 记录未转发的中间行
func RecordSkippedLines(n int) {
	skippedLinesTotal.Add(float64(n))
}

// RecordStateSave 记录一次状态保存
func RecordStateSave(success bool) {
	stateSavesTotal.WithLabelValues(status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
