// Пакет server — HTTP-сервер File Module с graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/gomarket/file-module/internal/api/handlers"
	"github.com/arturkryukov/gomarket/file-module/internal/api/middleware"
	"github.com/arturkryukov/gomarket/file-module/internal/config"
)

// Server — HTTP-сервер File Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// Публичные endpoints (health, metrics) — без аутентификации,
// бизнес-endpoints закрыты JWT и scope-проверками.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.Handler,
	health *handlers.HealthHandler,
	auth *middleware.JWTAuth,
) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Публичные endpoints
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)

	// Бизнес-endpoints под JWT
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("files:write"))
			r.Post("/files/upload", handler.UploadFiles)
			r.Post("/uploads", handler.BeginUpload)
			r.Put("/uploads/{upload_id}/chunks/{index}", handler.UploadChunk)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("files:read"))
			r.Get("/files/{file_id}", handler.GetFile)
			r.Get("/uploads/{upload_id}", handler.GetUploadStatus)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// FM_SHUTDOWN_TIMEOUT.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
