// cleanup.go — фоновая очистка устаревших сессий чанковой загрузки.
//
// Незавершённая сессия, не обновлявшаяся дольше FM_SESSION_TTL,
// удаляется вместе со своим part-файлом. Запускается как горутина
// с периодическим тикером (FM_SESSION_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики очистки сессий
var (
	// cleanupRunsTotal — количество запусков очистки.
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_session_cleanup_runs_total",
		Help: "Общее количество запусков очистки сессий",
	})

	// cleanupSessionsRemovedTotal — количество удалённых сессий.
	cleanupSessionsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fm_session_cleanup_removed_total",
		Help: "Общее количество удалённых устаревших сессий",
	})

	// cleanupDurationSeconds — длительность выполнения очистки.
	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fm_session_cleanup_duration_seconds",
		Help:    "Длительность выполнения очистки сессий в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// RemovedCount — количество удалённых сессий
	RemovedCount int
	// Duration — длительность выполнения
	Duration time.Duration
}

// CleanupService — фоновая очистка устаревших сессий.
type CleanupService struct {
	sessions *SessionService
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewCleanupService создаёт сервис очистки сессий.
func NewCleanupService(
	sessions *SessionService,
	ttl time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		sessions: sessions,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With(slog.String("component", "session_cleanup")),
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (c *CleanupService) Start(ctx context.Context) {
	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(cleanupCtx)

	c.logger.Info("Очистка сессий запущена",
		slog.String("ttl", c.ttl.String()),
		slog.String("interval", c.interval.String()),
	)
}

// Stop останавливает фоновый процесс очистки.
func (c *CleanupService) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Очистка сессий остановлена")
}

// run — основной цикл фоновой горутины.
func (c *CleanupService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (c *CleanupService) RunOnce(ctx context.Context) *CleanupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	result := &CleanupResult{}

	c.logger.Debug("Очистка сессий начата")

	removed, err := c.sessions.CleanupStale(ctx, c.ttl)
	if err != nil {
		c.logger.Error("Ошибка очистки сессий", slog.String("error", err.Error()))
	}
	result.RemovedCount = removed
	result.Duration = time.Since(start)

	cleanupRunsTotal.Inc()
	cleanupSessionsRemovedTotal.Add(float64(removed))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	c.logger.Info("Очистка сессий завершена",
		slog.Int("removed", result.RemovedCount),
		slog.Duration("duration", result.Duration),
	)

	return result
}
