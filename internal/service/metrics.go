package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal 按操作、后端和结果（错误码）统计调用次数
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstore_operations_total",
			Help: "Total number of storage backend calls",
		},
		[]string{"operation", "backend", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "objectstore_operation_duration_seconds",
			Help:    "Storage backend call duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "backend"},
	)

	// putTimeoutRetries 记录 PutObject 因超时触发的重试
	putTimeoutRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "objectstore_put_timeout_retries_total",
			Help: "Total number of PutObject attempts that timed out",
		},
		[]string{"backend"},
	)
)
