// metrics.go — Prometheus HTTP метрики File Module.
// Регистрирует метрики: fm_http_requests_total, fm_http_request_duration_seconds.
// Бизнес-метрики (fm_operations_total, fm_ingest_bytes_total и др.)
// обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fm_http_requests_total",
			Help: "Общее количество HTTP-запросов к File Module",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к File Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// OperationsTotal — общее количество операций приёма файлов.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fm_operations_total",
			Help: "Общее количество операций приёма файлов",
		},
		[]string{"operation", "result"},
	)

	// IngestBytesTotal — объём принятых данных (без дубликатов).
	IngestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fm_ingest_bytes_total",
			Help: "Суммарный объём принятых данных в байтах",
		},
	)

	// ValidationRejectionsTotal — количество отклонённых файлов по кодам.
	ValidationRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fm_validation_rejections_total",
			Help: "Общее количество файлов, отклонённых валидацией",
		},
		[]string{"code"},
	)

	// DerivationStepsTotal — количество шагов конвейера обработки
	// изображений по статусам.
	DerivationStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fm_derivation_steps_total",
			Help: "Общее количество шагов конвейера обработки изображений",
		},
		[]string{"step", "status"},
	)

	// ActiveSessions — количество незавершённых сессий чанковой
	// загрузки. После рестарта отражает только сессии текущего
	// процесса.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fm_upload_sessions_active",
			Help: "Количество незавершённых сессий чанковой загрузки",
		},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем UUID на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет UUID-сегменты пути на {id} для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890 → /api/v1/files/{id}
func normalizePath(path string) string {
	switch {
	case path == "/health/live":
		return "/health/live"
	case path == "/health/ready":
		return "/health/ready"
	case path == "/metrics":
		return "/metrics"
	case path == "/api/v1/files/upload":
		return "/api/v1/files/upload"
	case path == "/api/v1/uploads":
		return "/api/v1/uploads"
	case strings.HasPrefix(path, "/api/v1/files/") && isUUIDSegment(path, "/api/v1/files/"):
		if path[len("/api/v1/files/")+36:] == "" {
			return "/api/v1/files/{id}"
		}
	case strings.HasPrefix(path, "/api/v1/uploads/") && isUUIDSegment(path, "/api/v1/uploads/"):
		suffix := path[len("/api/v1/uploads/")+36:]
		if suffix == "" {
			return "/api/v1/uploads/{id}"
		}
		if strings.HasPrefix(suffix, "/chunks/") {
			return "/api/v1/uploads/{id}/chunks/{index}"
		}
	}
	return path
}

// isUUIDSegment проверяет, начинается ли сегмент пути после prefix с UUID.
func isUUIDSegment(path, prefix string) bool {
	if len(path) < len(prefix)+36 {
		return false
	}
	segment := path[len(prefix) : len(prefix)+36]
	// Проверяем формат UUID: 8-4-4-4-12
	for i, c := range segment {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
		} else {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}
