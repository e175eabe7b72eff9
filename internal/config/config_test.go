package config

import (
	"log/slog"
	"testing"
	"time"
)

// setRequiredEnv устанавливает минимальный набор обязательных переменных.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FM_ROOT_PATH", "/data/files")
	t.Setenv("FM_DB_HOST", "localhost")
	t.Setenv("FM_DB_NAME", "files")
	t.Setenv("FM_DB_USER", "files")
	t.Setenv("FM_DB_PASSWORD", "secret")
	t.Setenv("FM_JWKS_URL", "https://auth.example.com/jwks")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load вернул ошибку: %v", err)
	}

	if cfg.Port != 8030 {
		t.Errorf("Port = %d, ожидалось 8030", cfg.Port)
	}
	if cfg.MaxFileSize != 100<<20 {
		t.Errorf("MaxFileSize = %d, ожидалось %d", cfg.MaxFileSize, 100<<20)
	}
	if cfg.MaxFilesPerUpload != 10 {
		t.Errorf("MaxFilesPerUpload = %d, ожидалось 10", cfg.MaxFilesPerUpload)
	}
	if cfg.MaxTotalUploadSize != 500<<20 {
		t.Errorf("MaxTotalUploadSize = %d, ожидалось %d", cfg.MaxTotalUploadSize, 500<<20)
	}
	if cfg.StreamingThreshold != 10<<20 {
		t.Errorf("StreamingThreshold = %d, ожидалось %d", cfg.StreamingThreshold, 10<<20)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, ожидалось 24h", cfg.SessionTTL)
	}
	if cfg.SessionGCInterval != time.Hour {
		t.Errorf("SessionGCInterval = %v, ожидалось 1h", cfg.SessionGCInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидалось info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидалось json", cfg.LogFormat)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, ожидалось disable", cfg.DBSSLMode)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	cases := []string{
		"FM_ROOT_PATH",
		"FM_DB_HOST",
		"FM_DB_NAME",
		"FM_DB_USER",
		"FM_DB_PASSWORD",
		"FM_JWKS_URL",
	}

	for _, missing := range cases {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")

			if _, err := Load(); err == nil {
				t.Errorf("Load не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoadInvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FM_PORT", "99999")

	if _, err := Load(); err == nil {
		t.Error("Load не вернул ошибку для порта вне диапазона")
	}

	t.Setenv("FM_PORT", "abc")
	if _, err := Load(); err == nil {
		t.Error("Load не вернул ошибку для нечислового порта")
	}
}

func TestLoadTotalSizeLessThanFileSize(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FM_MAX_FILE_SIZE", "1000")
	t.Setenv("FM_MAX_TOTAL_UPLOAD_SIZE", "500")

	if _, err := Load(); err == nil {
		t.Error("Load не вернул ошибку при MAX_TOTAL_UPLOAD_SIZE < MAX_FILE_SIZE")
	}
}

func TestLoadInvalidLogFormat(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FM_LOG_FORMAT", "yaml")

	if _, err := Load(); err == nil {
		t.Error("Load не вернул ошибку для недопустимого формата логов")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FM_SESSION_TTL", "сутки")

	if _, err := Load(); err == nil {
		t.Error("Load не вернул ошибку для некорректной длительности")
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.local",
		DBPort:     5433,
		DBName:     "files",
		DBUser:     "fm",
		DBPassword: "pw",
		DBSSLMode:  "require",
	}

	want := "host=db.local port=5433 dbname=files user=fm password=pw sslmode=require"
	if got := cfg.DatabaseDSN(); got != want {
		t.Errorf("DatabaseDSN = %q, ожидалось %q", got, want)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}

	for _, c := range cases {
		got, err := parseLogLevel(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseLogLevel(%q): ожидалась ошибка", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидалось %v", c.in, got, c.want)
		}
	}
}
