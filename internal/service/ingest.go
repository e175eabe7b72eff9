// Пакет service — бизнес-логика File Module.
// ingest.go — сервис приёма файлов с дедупликацией по содержимому.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/gomarket/file-module/internal/api/errors"
	"github.com/arturkryukov/gomarket/file-module/internal/api/middleware"
	"github.com/arturkryukov/gomarket/file-module/internal/config"
	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
	"github.com/arturkryukov/gomarket/file-module/internal/repository"
	"github.com/arturkryukov/gomarket/file-module/internal/storage/filestore"
)

// StoreParams — параметры приёма одного файла.
// Поток должен быть уже провалидирован (сигнатура, размер, имя).
type StoreParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalFilename — оригинальное имя файла (только для метаданных)
	OriginalFilename string
	// ContentType — MIME-тип, определённый по сигнатуре
	ContentType string
	// Extension — расширение файла; принимается как с точкой (".jpg"),
	// так и без (validation.Result.Extension), хранилище нормализует
	Extension string
	// Size — заявленный размер файла
	Size int64
	// UploadedBy — идентификатор пользователя (sub из JWT)
	UploadedBy string
	// IsPublic — доступен ли файл без авторизации
	IsPublic bool
	// ExpiresAt — момент истечения срока хранения (опционально)
	ExpiresAt *time.Time
}

// StoreResult — результат приёма файла.
type StoreResult struct {
	// Record — запись файла: новая либо существующий дубликат
	Record *model.FileRecord
	// Deduplicated — true, если содержимое уже было у владельца
	// и физическая копия не создавалась
	Deduplicated bool
	// Derivation — отчёт конвейера обработки изображения (nil для не-изображений)
	Derivation []StepResult
}

// StoreError — ошибка приёма с HTTP-кодом.
type StoreError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IngestService — сервис приёма файлов: сохранение на диск,
// дедупликация по checksum и обработка изображений.
type IngestService struct {
	cfg    *config.Config
	store  *filestore.FileStore
	files  repository.FileRepository
	enrich *EnrichService
	logger *slog.Logger
}

// NewIngestService создаёт сервис приёма файлов.
func NewIngestService(
	cfg *config.Config,
	store *filestore.FileStore,
	files repository.FileRepository,
	enrich *EnrichService,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		cfg:    cfg,
		store:  store,
		files:  files,
		enrich: enrich,
		logger: logger.With(slog.String("component", "ingest_service")),
	}
}

// Store принимает файл в хранилище.
//
// Поток:
//  1. SaveFile (streaming, temp + fsync + rename)
//  2. ComputeChecksum (повторное чтение записанного файла)
//  3. Поиск дубликата по (checksum, владелец) — при совпадении новая
//     копия удаляется, возвращается существующая запись
//  4. Для изображений — конвейер обработки (EXIF, превью)
//  5. INSERT записи; конфликт уникального индекса означает, что
//     дубликат появился между поиском и вставкой — повторный поиск,
//     удаление своей копии
func (s *IngestService) Store(ctx context.Context, params StoreParams) (*StoreResult, *StoreError) {
	// 1. Сохраняем поток на диск
	saved, err := s.store.SaveFile(ctx, params.Reader, params.UploadedBy, params.Extension)
	if err != nil {
		s.logger.Error("Ошибка сохранения файла",
			slog.String("filename", params.OriginalFilename),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	// 2. Checksum считается по фактически записанным байтам
	checksum, err := s.store.ComputeChecksum(saved.StoragePath)
	if err != nil {
		_ = s.store.DeleteFile(saved.StoragePath)
		s.logger.Error("Ошибка вычисления checksum",
			slog.String("storage_path", saved.StoragePath),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка вычисления контрольной суммы",
		}
	}

	// 3. Быстрый путь дедупликации
	if existing, err := s.files.FindByChecksumAndOwner(ctx, checksum, params.UploadedBy); err == nil {
		_ = s.store.DeleteFile(saved.StoragePath)
		middleware.OperationsTotal.WithLabelValues("ingest", "deduplicated").Inc()
		s.logger.Info("Дубликат по содержимому, физическая копия не создана",
			slog.String("file_id", existing.FileID),
			slog.String("checksum", checksum),
			slog.String("uploaded_by", params.UploadedBy),
		)
		return &StoreResult{Record: existing, Deduplicated: true}, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		_ = s.store.DeleteFile(saved.StoragePath)
		return nil, s.internalDBError("поиска дубликата", err)
	}

	now := time.Now().UTC()
	record := &model.FileRecord{
		FileID:           uuid.New().String(),
		FileName:         saved.FileName,
		OriginalFilename: params.OriginalFilename,
		ContentType:      params.ContentType,
		Size:             saved.Size,
		UploadedBy:       params.UploadedBy,
		UploadedAt:       now,
		StoragePath:      saved.StoragePath,
		Checksum:         checksum,
		IsPublic:         params.IsPublic,
		ExpiresAt:        params.ExpiresAt,
	}

	// 4. Конвейер обработки изображений. Ошибки шагов не прерывают
	// приём: файл сохраняется как есть, отчёт уходит в ответ.
	var derivation []StepResult
	if record.IsImage() {
		derivation = s.enrich.Process(ctx, record)
	}

	// 5. Сохраняем запись
	if err := s.files.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Гонка двух одинаковых загрузок: наша копия лишняя
			_ = s.store.DeleteWithDerivatives(saved.StoragePath)
			existing, lookupErr := s.files.FindByChecksumAndOwner(ctx, checksum, params.UploadedBy)
			if lookupErr != nil {
				return nil, s.internalDBError("повторного поиска дубликата", lookupErr)
			}
			middleware.OperationsTotal.WithLabelValues("ingest", "deduplicated").Inc()
			s.logger.Info("Дубликат по содержимому (гонка вставки)",
				slog.String("file_id", existing.FileID),
				slog.String("checksum", checksum),
			)
			return &StoreResult{Record: existing, Deduplicated: true}, nil
		}
		_ = s.store.DeleteWithDerivatives(saved.StoragePath)
		return nil, s.internalDBError("сохранения записи", err)
	}

	middleware.OperationsTotal.WithLabelValues("ingest", "stored").Inc()
	middleware.IngestBytesTotal.Add(float64(saved.Size))

	s.logger.Info("Файл принят",
		slog.String("file_id", record.FileID),
		slog.String("filename", params.OriginalFilename),
		slog.String("content_type", record.ContentType),
		slog.Int64("size", saved.Size),
		slog.String("checksum", checksum),
		slog.String("uploaded_by", params.UploadedBy),
	)

	return &StoreResult{Record: record, Derivation: derivation}, nil
}

// GetFile возвращает запись файла по идентификатору.
// Удалённые и истёкшие записи не выдаются.
func (s *IngestService) GetFile(ctx context.Context, fileID string) (*model.FileRecord, *StoreError) {
	record, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &StoreError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Файл %s не найден", fileID),
			}
		}
		return nil, s.internalDBError("получения записи", err)
	}

	if record.IsDeleted || record.IsExpired(time.Now().UTC()) {
		return nil, &StoreError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден", fileID),
		}
	}

	return record, nil
}

func (s *IngestService) internalDBError(action string, err error) *StoreError {
	s.logger.Error("Ошибка "+action,
		slog.String("error", err.Error()),
	)
	return &StoreError{
		StatusCode: 500,
		Code:       apierrors.CodeInternalError,
		Message:    "Внутренняя ошибка базы данных",
	}
}
