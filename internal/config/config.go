// Пакет config — загрузка и валидация конфигурации File Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации File Module.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория хранилища файлов
	RootPath string
	// Максимальный размер одного файла в байтах
	MaxFileSize int64
	// Максимальное количество файлов в одном батче
	MaxFilesPerUpload int
	// Максимальный суммарный размер батча в байтах
	MaxTotalUploadSize int64
	// Порог, выше которого multipart-части уходят на диск, а не в память
	StreamingThreshold int64
	// Время жизни незавершённой чанковой сессии
	SessionTTL time.Duration
	// Интервал фоновой очистки устаревших сессий
	SessionGCInterval time.Duration

	// Параметры PostgreSQL
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// URL JWKS endpoint для проверки JWT
	JWKSUrl string
	// Путь к CA-сертификату для TLS JWKS endpoint (опционально)
	JWKSCACert string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics (FM_DEPHEALTH_GROUP)
	DephealthGroup string
	// Имя зависимости в метриках topologymetrics (FM_DEPHEALTH_DEP_NAME)
	DephealthDepName string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FM_PORT — порт HTTP-сервера (по умолчанию 8030)
	cfg.Port, err = getEnvInt("FM_PORT", 8030)
	if err != nil {
		return nil, fmt.Errorf("FM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FM_PORT: значение %d вне допустимого диапазона", cfg.Port)
	}

	// FM_ROOT_PATH — обязательный
	cfg.RootPath, err = getEnvRequired("FM_ROOT_PATH")
	if err != nil {
		return nil, err
	}

	// FM_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	cfg.MaxFileSize, err = getEnvInt64("FM_MAX_FILE_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("FM_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FM_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// FM_MAX_FILES_PER_UPLOAD — лимит файлов в батче (по умолчанию 10)
	cfg.MaxFilesPerUpload, err = getEnvInt("FM_MAX_FILES_PER_UPLOAD", 10)
	if err != nil {
		return nil, fmt.Errorf("FM_MAX_FILES_PER_UPLOAD: %w", err)
	}
	if cfg.MaxFilesPerUpload <= 0 {
		return nil, fmt.Errorf("FM_MAX_FILES_PER_UPLOAD: значение должно быть положительным")
	}

	// FM_MAX_TOTAL_UPLOAD_SIZE — суммарный лимит батча (по умолчанию 500 MiB)
	cfg.MaxTotalUploadSize, err = getEnvInt64("FM_MAX_TOTAL_UPLOAD_SIZE", 500<<20)
	if err != nil {
		return nil, fmt.Errorf("FM_MAX_TOTAL_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxTotalUploadSize < cfg.MaxFileSize {
		return nil, fmt.Errorf("FM_MAX_TOTAL_UPLOAD_SIZE: значение %d должно быть >= FM_MAX_FILE_SIZE (%d)",
			cfg.MaxTotalUploadSize, cfg.MaxFileSize)
	}

	// FM_STREAMING_THRESHOLD — порог буферизации multipart (по умолчанию 10 MiB)
	cfg.StreamingThreshold, err = getEnvInt64("FM_STREAMING_THRESHOLD", 10<<20)
	if err != nil {
		return nil, fmt.Errorf("FM_STREAMING_THRESHOLD: %w", err)
	}

	// FM_SESSION_TTL — время жизни незавершённой сессии (по умолчанию 24h)
	cfg.SessionTTL, err = getEnvDuration("FM_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FM_SESSION_TTL: %w", err)
	}

	// FM_SESSION_GC_INTERVAL — интервал очистки сессий (по умолчанию 1h)
	cfg.SessionGCInterval, err = getEnvDuration("FM_SESSION_GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FM_SESSION_GC_INTERVAL: %w", err)
	}

	// Параметры PostgreSQL
	cfg.DBHost, err = getEnvRequired("FM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("FM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("FM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("FM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("FM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("FM_DB_SSL_MODE", "disable")

	// FM_JWKS_URL — обязательный
	cfg.JWKSUrl, err = getEnvRequired("FM_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// FM_JWKS_CA_CERT — путь к CA-сертификату (опционально)
	cfg.JWKSCACert = getEnvDefault("FM_JWKS_CA_CERT", "")

	// FM_JWT_LEEWAY — допуск времени при проверке JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("FM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_JWT_LEEWAY: %w", err)
	}

	// FM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FM_LOG_LEVEL: %w", err)
	}

	// FM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// FM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// FM_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("FM_DEPHEALTH_GROUP", "file-module")

	// FM_DEPHEALTH_DEP_NAME — имя зависимости в метриках topologymetrics
	cfg.DephealthDepName = getEnvDefault("FM_DEPHEALTH_DEP_NAME", "auth-jwks")

	// DEPHEALTH_NAME — имя владельца пода для метки name (без префикса модуля)
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
