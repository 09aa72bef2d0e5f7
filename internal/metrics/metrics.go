package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service 聚合模块的 Prometheus 指标
type Service struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	OperationsTotal     *prometheus.CounterVec
	AuditEventsDropped  prometheus.Counter
}

// New 创建指标服务并注册采集器
func New() *Service {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Service{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hsm",
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hsm",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hsm",
			Name:      "operations_total",
			Help:      "Number of module operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		AuditEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hsm",
			Name:      "audit_events_dropped_total",
			Help:      "Number of audit events dropped because the queue was full.",
		}),
	}

	registry.MustRegister(s.HTTPRequestsTotal, s.HTTPRequestDuration, s.OperationsTotal, s.AuditEventsDropped)

	return s
}

// Handler 暴露 /metrics 端点
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Middleware 记录每个 HTTP 请求的计数与耗时
func (s *Service) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok { //nolint:errorlint // echo 错误不包装
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			s.HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			s.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// ObserveOperation 记录一次模块操作
func (s *Service) ObserveOperation(operation string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	s.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveAuditDrop 审计队列溢出计数加一
func (s *Service) ObserveAuditDrop() {
	s.AuditEventsDropped.Inc()
}
