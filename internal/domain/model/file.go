// Пакет model — доменные модели File Module.
// FileRecord — запись о загруженном файле, единая структура
// для сервисного слоя, репозитория и API-ответов.
package model

import (
	"strings"
	"time"
)

// FileRecord — метаданные загруженного файла.
//
// Идентичность содержимого: Checksum — SHA-256 (base64) байтов файла
// на диске, вычисляется после записи. Дедупликация ведётся по паре
// (Checksum, UploadedBy): один владелец не может иметь две активные
// записи с одинаковым содержимым.
type FileRecord struct {
	// FileID — уникальный идентификатор записи (UUID v4)
	FileID string `json:"file_id"`

	// FileName — сгенерированное имя файла на диске ({uuid}.{ext}).
	// Никогда не строится из пользовательского ввода.
	FileName string `json:"file_name"`

	// OriginalFilename — имя файла при загрузке. Недоверенное,
	// используется только для отображения.
	OriginalFilename string `json:"original_filename"`

	// ContentType — MIME-тип, определённый по magic bytes
	// (не из заголовка клиента)
	ContentType string `json:"content_type"`

	// Size — размер файла в байтах
	Size int64 `json:"size"`

	// UploadedBy — идентификатор владельца (sub из JWT)
	UploadedBy string `json:"uploaded_by"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// StoragePath — путь файла относительно FM_ROOT_PATH.
	// Формат: users/{owner}/{yyyy}/{MM}/{dd}/{uuid}.{ext}
	StoragePath string `json:"storage_path"`

	// Checksum — SHA-256 содержимого файла на диске, base64
	Checksum string `json:"checksum"`

	// IsPublic — файл доступен без аутентификации
	IsPublic bool `json:"is_public"`

	// ExpiresAt — срок действия файла (опционально)
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// DownloadCount — счётчик скачиваний. Обновляется только
	// модулем выдачи файлов, здесь читается как есть.
	DownloadCount int64 `json:"download_count"`

	// --- Атрибуты изображений. Заполняются пайплайном обогащения,
	// для не-изображений остаются nil. ---

	// Width, Height — размеры изображения в пикселях
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`

	// DateTaken — дата съёмки из EXIF
	DateTaken *time.Time `json:"date_taken,omitempty"`

	// CameraModel — модель камеры из EXIF
	CameraModel *string `json:"camera_model,omitempty"`

	// Location — координаты GPS из EXIF, строка "lat,long"
	Location *string `json:"location,omitempty"`

	// Orientation — код ориентации из EXIF (1-8)
	Orientation *int `json:"orientation,omitempty"`

	// --- Soft delete. Флаг выставляется внешним модулем,
	// File Module записи не удаляет. ---

	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// CreatedAt, UpdatedAt — служебные поля БД
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsImage проверяет, является ли файл изображением.
func (f *FileRecord) IsImage() bool {
	return strings.HasPrefix(f.ContentType, "image/")
}

// IsExpired проверяет, истёк ли срок действия файла.
func (f *FileRecord) IsExpired(now time.Time) bool {
	if f.ExpiresAt == nil {
		return false
	}
	return now.After(*f.ExpiresAt)
}
