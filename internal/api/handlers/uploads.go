// uploads.go — обработчики чанковой загрузки.
// POST /api/v1/uploads — создание сессии
// PUT  /api/v1/uploads/{upload_id}/chunks/{index} — приём чанка
// GET  /api/v1/uploads/{upload_id} — статус сессии
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/gomarket/file-module/internal/api/errors"
	"github.com/arturkryukov/gomarket/file-module/internal/api/middleware"
	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
	"github.com/arturkryukov/gomarket/file-module/internal/service"
)

// beginUploadRequest — тело запроса создания сессии.
type beginUploadRequest struct {
	FileName  string `json:"file_name"`
	TotalSize int64  `json:"total_size"`
	ChunkSize int64  `json:"chunk_size"`
	// TotalChunks — необязательная сверка: сервер считает число
	// чанков сам и отклоняет расхождение
	TotalChunks int `json:"total_chunks,omitempty"`
}

// sessionResponse — представление сессии в API.
type sessionResponse struct {
	UploadID       string `json:"upload_id"`
	FileName       string `json:"file_name"`
	TotalSize      int64  `json:"total_size"`
	ChunkSize      int64  `json:"chunk_size"`
	TotalChunks    int    `json:"total_chunks"`
	UploadedChunks int    `json:"uploaded_chunks"`
	IsCompleted    bool   `json:"is_completed"`
}

// chunkResponse — ответ на приём чанка.
type chunkResponse struct {
	sessionResponse
	// File заполнен, когда чанк оказался последним и файл принят
	File *uploadedFile `json:"file,omitempty"`
}

func toSessionResponse(s *model.UploadSession) sessionResponse {
	return sessionResponse{
		UploadID:       s.UploadID,
		FileName:       s.FileName,
		TotalSize:      s.TotalSize,
		ChunkSize:      s.ChunkSize,
		TotalChunks:    s.TotalChunks,
		UploadedChunks: s.UploadedChunks,
		IsCompleted:    s.IsCompleted,
	}
}

// BeginUpload — создание сессии чанковой загрузки.
func (h *Handler) BeginUpload(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Отсутствует субъект в контексте запроса")
		return
	}

	var req beginUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return
	}

	session, serr := h.sessions.Begin(r.Context(), service.BeginParams{
		FileName:    req.FileName,
		TotalSize:   req.TotalSize,
		ChunkSize:   req.ChunkSize,
		TotalChunks: req.TotalChunks,
		UploadedBy:  subject,
	})
	if serr != nil {
		apierrors.WriteError(w, serr.StatusCode, serr.Code, serr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(session))
}

// UploadChunk — приём одного чанка. Тело запроса — сырые байты чанка.
// Повторная отправка того же индекса безопасна.
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Отсутствует субъект в контексте запроса")
		return
	}

	uploadID := chi.URLParam(r, "upload_id")
	if _, err := uuid.Parse(uploadID); err != nil {
		apierrors.ValidationError(w, "Некорректный формат upload_id")
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный индекс чанка")
		return
	}

	result, serr := h.sessions.RecordChunk(r.Context(), uploadID, index, subject, r.Body)
	if serr != nil {
		apierrors.WriteError(w, serr.StatusCode, serr.Code, serr.Message)
		return
	}

	resp := chunkResponse{sessionResponse: toSessionResponse(result.Session)}
	if result.Store != nil {
		resp.File = &uploadedFile{
			fileResponse: toFileResponse(result.Store.Record),
			Deduplicated: result.Store.Deduplicated,
			Derivation:   result.Store.Derivation,
		}
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUploadStatus — статус сессии чанковой загрузки.
func (h *Handler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		apierrors.Unauthorized(w, "Отсутствует субъект в контексте запроса")
		return
	}

	uploadID := chi.URLParam(r, "upload_id")
	if _, err := uuid.Parse(uploadID); err != nil {
		apierrors.ValidationError(w, "Некорректный формат upload_id")
		return
	}

	session, serr := h.sessions.Status(r.Context(), uploadID, subject)
	if serr != nil {
		apierrors.WriteError(w, serr.StatusCode, serr.Code, serr.Message)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}
