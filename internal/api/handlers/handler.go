// handler.go — общая часть обработчиков API File Module:
// структура Handler, JSON-ответы и представление записи файла.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/arturkryukov/gomarket/file-module/internal/config"
	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
	"github.com/arturkryukov/gomarket/file-module/internal/service"
	"github.com/arturkryukov/gomarket/file-module/internal/storage/filestore"
	"github.com/arturkryukov/gomarket/file-module/internal/validation"
)

// Handler — обработчики бизнес-endpoints File Module.
type Handler struct {
	cfg       *config.Config
	validator *validation.Validator
	ingest    *service.IngestService
	sessions  *service.SessionService
	logger    *slog.Logger
}

// New создаёт обработчик API.
func New(
	cfg *config.Config,
	validator *validation.Validator,
	ingest *service.IngestService,
	sessions *service.SessionService,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:       cfg,
		validator: validator,
		ingest:    ingest,
		sessions:  sessions,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// fileResponse — представление записи файла в API.
type fileResponse struct {
	FileID           string     `json:"file_id"`
	FileName         string     `json:"file_name"`
	OriginalFilename string     `json:"original_filename"`
	ContentType      string     `json:"content_type"`
	Size             int64      `json:"size"`
	Checksum         string     `json:"checksum"`
	UploadedBy       string     `json:"uploaded_by"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	IsPublic         bool       `json:"is_public"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	DownloadCount    int64      `json:"download_count"`

	// URL — путь скачивания файла. Само скачивание обслуживает
	// внешний модуль выдачи, здесь путь только формируется.
	URL string `json:"url"`

	Width       *int       `json:"width,omitempty"`
	Height      *int       `json:"height,omitempty"`
	DateTaken   *time.Time `json:"date_taken,omitempty"`
	CameraModel *string    `json:"camera_model,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Orientation *int       `json:"orientation,omitempty"`

	// Derivatives — относительные пути превью (только для изображений)
	Derivatives *derivativesResponse `json:"derivatives,omitempty"`
}

// derivativesResponse — пути превью изображения.
type derivativesResponse struct {
	Small  string `json:"small"`
	Medium string `json:"medium"`
}

// toFileResponse преобразует запись в представление API.
func toFileResponse(f *model.FileRecord) fileResponse {
	resp := fileResponse{
		FileID:           f.FileID,
		FileName:         f.FileName,
		OriginalFilename: f.OriginalFilename,
		ContentType:      f.ContentType,
		Size:             f.Size,
		Checksum:         f.Checksum,
		UploadedBy:       f.UploadedBy,
		UploadedAt:       f.UploadedAt,
		IsPublic:         f.IsPublic,
		ExpiresAt:        f.ExpiresAt,
		DownloadCount:    f.DownloadCount,
		Width:            f.Width,
		Height:           f.Height,
		DateTaken:        f.DateTaken,
		CameraModel:      f.CameraModel,
		Location:         f.Location,
		Orientation:      f.Orientation,
		URL:              "/api/v1/files/" + f.FileID + "/download",
	}

	// Для webp превью не строятся (нет кодировщика)
	if f.IsImage() && f.ContentType != "image/webp" {
		paths := filestore.DerivativePaths(f.StoragePath)
		resp.Derivatives = &derivativesResponse{
			Small:  paths[0],
			Medium: paths[1],
		}
	}

	return resp
}
