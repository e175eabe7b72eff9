// logging.go — access-лог HTTP-запросов File Module через slog.
// Дополняет метрики из metrics.go: метрики считают по нормализованным
// путям, лог хранит фактический путь каждого запроса.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingResponseWriter перехватывает статус-код и объём ответа.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	responseBytes int64
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	return &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lw.ResponseWriter.Write(b)
	lw.responseBytes += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// RequestLogger возвращает middleware access-лога. Каждый запрос
// логируется одной записью после обработки; уровень растёт вместе
// со статусом: INFO до 400, WARN для клиентских ошибок, ERROR для
// серверных. Ошибки валидации загрузок — ожидаемый трафик, поэтому
// на 4xx уровень не выше WARN.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	accessLog := logger.With(slog.String("component", "http_access"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newLoggingResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			}

			accessLog.LogAttrs(r.Context(), level, "HTTP запрос обработан",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("response_bytes", wrapped.responseBytes),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("user_agent", r.UserAgent()),
			)
		})
	}
}
