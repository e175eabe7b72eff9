// Точка входа File Module — сервис приёма файлов GoMarket.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт файловое хранилище, сервисный слой и API handlers,
// запускает фоновую очистку сессий и topologymetrics,
// HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/arturkryukov/gomarket/file-module/internal/api/handlers"
	"github.com/arturkryukov/gomarket/file-module/internal/api/middleware"
	"github.com/arturkryukov/gomarket/file-module/internal/config"
	"github.com/arturkryukov/gomarket/file-module/internal/database"
	"github.com/arturkryukov/gomarket/file-module/internal/repository"
	"github.com/arturkryukov/gomarket/file-module/internal/server"
	"github.com/arturkryukov/gomarket/file-module/internal/service"
	"github.com/arturkryukov/gomarket/file-module/internal/storage/filestore"
	"github.com/arturkryukov/gomarket/file-module/internal/validation"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("File Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("root_path", cfg.RootPath),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("FM_DEPHEALTH_GROUP") == "" {
		logger.Warn("FM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 5. Файловое хранилище
	store, err := filestore.New(cfg.RootPath)
	if err != nil {
		logger.Error("Ошибка инициализации файлового хранилища",
			slog.String("root_path", cfg.RootPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// 6. Repositories
	txRunner := repository.NewTxRunner(pool)
	fileRepo := repository.NewFileRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool, txRunner)

	// 7. Валидатор входящих файлов
	validator := validation.New(validation.Limits{
		MaxFileSize:        cfg.MaxFileSize,
		MaxFilesPerUpload:  cfg.MaxFilesPerUpload,
		MaxTotalUploadSize: cfg.MaxTotalUploadSize,
	})

	// 8. Services
	enrichSvc := service.NewEnrichService(store, logger)
	ingestSvc := service.NewIngestService(cfg, store, fileRepo, enrichSvc, logger)
	sessionSvc := service.NewSessionService(cfg, store, sessionRepo, validator, ingestSvc, logger)
	cleanupSvc := service.NewCleanupService(sessionSvc, cfg.SessionTTL, cfg.SessionGCInterval, logger)

	// 9. Readiness checkers (PostgreSQL + файловое хранилище)
	pgChecker := database.NewReadinessChecker(pool)
	fsChecker := handlers.NewStorageChecker(cfg.RootPath)
	healthHandler := handlers.NewHealthHandler(pgChecker, fsChecker)

	// 10. API handler
	apiHandler := handlers.New(cfg, validator, ingestSvc, sessionSvc, logger)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		JWKSURL:         cfg.JWKSUrl,
		CACertPath:      cfg.JWKSCACert,
		ClientTimeout:   10 * time.Second,
		RefreshInterval: time.Hour,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWKSUrl),
	)

	// 12. Фоновая очистка устаревших сессий
	cleanupSvc.Start(ctx)

	// 12.1 topologymetrics — мониторинг JWKS endpoint
	dephealthName := cfg.DephealthName
	if dephealthName == "" {
		dephealthName = "file-module"
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		dephealthName,
		cfg.DephealthGroup,
		cfg.DephealthDepName,
		cfg.JWKSUrl,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, healthHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cleanupSvc.Stop()

	logger.Info("File Module остановлен")
}
