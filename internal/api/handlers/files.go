// files.go — обработчики загрузки файлов и выдачи метаданных.
// POST /api/v1/files/upload — multipart батч (поле files, до лимита)
// GET  /api/v1/files/{file_id} — метаданные файла
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/gomarket/file-module/internal/api/errors"
	"github.com/arturkryukov/gomarket/file-module/internal/api/middleware"
	"github.com/arturkryukov/gomarket/file-module/internal/service"
	"github.com/arturkryukov/gomarket/file-module/internal/validation"
)

// multipartOverhead — запас к Content-Length на заголовки и границы
// multipart-формы.
const multipartOverhead = 1 << 20

// uploadResponse — ответ на загрузку батча.
type uploadResponse struct {
	Files []uploadedFile `json:"files"`
}

// uploadedFile — итог приёма одного файла из батча.
type uploadedFile struct {
	fileResponse
	Deduplicated bool                 `json:"deduplicated"`
	Derivation   []service.StepResult `json:"derivation,omitempty"`
}

// UploadFiles — приём multipart-батча файлов.
// Батч валидируется атомарно: один непрошедший файл отклоняет весь
// запрос до записи чего-либо на диск. Приём после валидации —
// пофайловый.
func (h *Handler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Отсутствует субъект в контексте запроса")
		return
	}

	// Жёсткий лимит на тело запроса
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxTotalUploadSize+multipartOverhead)

	// Части крупнее StreamingThreshold уходят во временные файлы,
	// память ограничена порогом
	if err := r.ParseMultipartForm(h.cfg.StreamingThreshold); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart-формы: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		apierrors.ValidationError(w, "Форма не содержит файлов в поле files")
		return
	}

	// Общие атрибуты батча: видимость и срок жизни
	isPublic := r.FormValue("is_public") == "true"
	var expiresAt *time.Time
	if raw := r.FormValue("expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный формат expires_at, ожидается RFC3339")
			return
		}
		if !t.After(time.Now().UTC()) {
			apierrors.ValidationError(w, "expires_at должен быть в будущем")
			return
		}
		expiresAt = &t
	}

	// Открываем все части и собираем батч для валидации
	files := make([]validation.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			apierrors.InternalError(w, fmt.Sprintf("Ошибка открытия части %s", fh.Filename))
			return
		}
		defer f.Close()
		files = append(files, validation.File{
			Name:   fh.Filename,
			Size:   fh.Size,
			Reader: f,
		})
	}

	results, rej := h.validator.ValidateBatch(files)
	if rej != nil {
		middleware.ValidationRejectionsTotal.WithLabelValues(rej.Code).Inc()
		h.logger.Info("Батч отклонён валидацией",
			slog.String("code", rej.Code),
			slog.String("filename", rej.Filename),
			slog.String("uploaded_by", subject),
		)
		apierrors.WriteFileError(w, rejectionStatus(rej.Code), rej.Code, rej.Message, rej.Filename)
		return
	}

	resp := uploadResponse{Files: make([]uploadedFile, 0, len(files))}
	for i, f := range files {
		stored, serr := h.ingest.Store(r.Context(), service.StoreParams{
			Reader:           f.Reader,
			OriginalFilename: f.Name,
			ContentType:      results[i].ContentType,
			Extension:        results[i].Extension,
			Size:             f.Size,
			UploadedBy:       subject,
			IsPublic:         isPublic,
			ExpiresAt:        expiresAt,
		})
		if serr != nil {
			apierrors.WriteFileError(w, serr.StatusCode, serr.Code, serr.Message, f.Name)
			return
		}
		resp.Files = append(resp.Files, uploadedFile{
			fileResponse: toFileResponse(stored.Record),
			Deduplicated: stored.Deduplicated,
			Derivation:   stored.Derivation,
		})
	}

	writeJSON(w, http.StatusCreated, resp)
}

// GetFile — выдача метаданных файла.
// Приватный файл виден только владельцу; для остальных — 404,
// существование чужих файлов не раскрывается.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "file_id")
	if _, err := uuid.Parse(fileID); err != nil {
		apierrors.ValidationError(w, "Некорректный формат file_id")
		return
	}

	record, serr := h.ingest.GetFile(r.Context(), fileID)
	if serr != nil {
		apierrors.WriteError(w, serr.StatusCode, serr.Code, serr.Message)
		return
	}

	subject := middleware.SubjectFromContext(r.Context())
	if !record.IsPublic && record.UploadedBy != subject {
		apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", fileID))
		return
	}

	writeJSON(w, http.StatusOK, toFileResponse(record))
}

// rejectionStatus сопоставляет код отказа валидации с HTTP-статусом.
func rejectionStatus(code string) int {
	switch code {
	case validation.CodeFileTooLarge, validation.CodeBatchTooLarge:
		return http.StatusRequestEntityTooLarge
	case validation.CodeSignatureMismatch, validation.CodeUnsupportedType:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
