// session.go — сервис чанковой загрузки: сессии, приём чанков
// вразнобой и финальная сборка файла.
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
	"github.com/arturkryukov/gomarket/file-module/internal/validation"
)

// Число чанков ограничено, чтобы сессия с крошечным chunk_size
// не раздувала таблицу чанков.
const maxChunksPerSession = 10000

// BeginParams — параметры создания сессии чанковой загрузки.
type BeginParams struct {
	FileName  string
	TotalSize int64
	ChunkSize int64
	// TotalChunks — заявленное клиентом число чанков, 0 если не
	// передано. Сервер считает сам; расхождение — ошибка клиента.
	TotalChunks int
	UploadedBy  string
}

// ChunkResult — итог приёма одного чанка.
type ChunkResult struct {
	Session *model.UploadSession
	// Store заполнен, когда чанк оказался последним и файл собран
	Store *StoreResult
}

// SessionService — сервис чанковой загрузки. Чанки пишутся сразу
// в part-файл по смещению index*chunk_size, порядок прихода не важен.
type SessionService struct {
	cfg       *config.Config
	store     *filestore.FileStore
	sessions  repository.SessionRepository
	validator *validation.Validator
	ingest    *IngestService
	logger    *slog.Logger
}

// NewSessionService создаёт сервис чанковой загрузки.
func NewSessionService(
	cfg *config.Config,
	store *filestore.FileStore,
	sessions repository.SessionRepository,
	validator *validation.Validator,
	ingest *IngestService,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		validator: validator,
		ingest:    ingest,
		logger:    logger.With(slog.String("component", "session_service")),
	}
}

// Begin создаёт сессию чанковой загрузки.
// Имя и заявленный размер проверяются сразу; сигнатура — только
// при финальной сборке, когда есть первые байты файла.
func (s *SessionService) Begin(ctx context.Context, params BeginParams) (*model.UploadSession, *StoreError) {
	if rej := s.validator.ValidateName(params.FileName); rej != nil {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    rej.Message,
		}
	}

	if params.TotalSize <= 0 {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "total_size должен быть положительным",
		}
	}
	if params.TotalSize > s.cfg.MaxFileSize {
		return nil, &StoreError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message: fmt.Sprintf("Размер файла %d байт превышает максимум %d байт",
				params.TotalSize, s.cfg.MaxFileSize),
		}
	}
	if params.ChunkSize <= 0 {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "chunk_size должен быть положительным",
		}
	}

	totalChunks := int((params.TotalSize + params.ChunkSize - 1) / params.ChunkSize)
	if params.TotalChunks != 0 && params.TotalChunks != totalChunks {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message: fmt.Sprintf("total_chunks %d не согласуется с total_size и chunk_size (ожидается %d)",
				params.TotalChunks, totalChunks),
		}
	}
	if totalChunks > maxChunksPerSession {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message: fmt.Sprintf("Слишком много чанков (%d), максимум %d — увеличьте chunk_size",
				totalChunks, maxChunksPerSession),
		}
	}

	session := &model.UploadSession{
		UploadID:    uuid.New().String(),
		UploadedBy:  params.UploadedBy,
		FileName:    params.FileName,
		TotalSize:   params.TotalSize,
		ChunkSize:   params.ChunkSize,
		TotalChunks: totalChunks,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		s.logger.Error("Ошибка создания сессии", slog.String("error", err.Error()))
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка базы данных",
		}
	}

	middleware.OperationsTotal.WithLabelValues("session_begin", "success").Inc()
	middleware.ActiveSessions.Inc()
	s.logger.Info("Сессия чанковой загрузки создана",
		slog.String("upload_id", session.UploadID),
		slog.String("file_name", session.FileName),
		slog.Int64("total_size", session.TotalSize),
		slog.Int("total_chunks", session.TotalChunks),
		slog.String("uploaded_by", params.UploadedBy),
	)

	return session, nil
}

// RecordChunk принимает один чанк сессии. Повторный приём того же
// индекса безопасен: байты перезаписываются по тому же смещению,
// счётчик не растёт. Когда принят последний уникальный чанк,
// файл собирается и проходит обычный путь приёма.
func (s *SessionService) RecordChunk(ctx context.Context, uploadID string, index int, owner string, data io.Reader) (*ChunkResult, *StoreError) {
	session, serr := s.getOwned(ctx, uploadID, owner)
	if serr != nil {
		return nil, serr
	}

	if session.IsCompleted {
		return nil, &StoreError{
			StatusCode: 409,
			Code:       apierrors.CodeConflict,
			Message:    fmt.Sprintf("Сессия %s уже завершена", uploadID),
		}
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message: fmt.Sprintf("Индекс чанка %d вне диапазона [0, %d)",
				index, session.TotalChunks),
		}
	}

	expected := session.ExpectedChunkSize(index)

	// Читаем на один байт больше ожидаемого, чтобы отличить
	// точное совпадение от избыточного тела
	buf, err := io.ReadAll(io.LimitReader(data, expected+1))
	if err != nil {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Ошибка чтения тела чанка: %v", err),
		}
	}
	if int64(len(buf)) != expected {
		return nil, &StoreError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message: fmt.Sprintf("Размер чанка %d не совпадает с ожидаемым %d байт",
				len(buf), expected),
		}
	}

	if err := s.store.WriteChunkAt(uploadID, session.ChunkOffset(index), buf); err != nil {
		s.logger.Error("Ошибка записи чанка",
			slog.String("upload_id", uploadID),
			slog.Int("chunk_index", index),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка записи чанка на диск",
		}
	}

	session, err = s.sessions.MarkChunk(ctx, uploadID, index)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.notFound(uploadID)
		}
		s.logger.Error("Ошибка регистрации чанка",
			slog.String("upload_id", uploadID),
			slog.Int("chunk_index", index),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка базы данных",
		}
	}

	middleware.OperationsTotal.WithLabelValues("session_chunk", "success").Inc()

	if !session.IsCompleted {
		return &ChunkResult{Session: session}, nil
	}

	storeResult, serr := s.finalize(ctx, session)
	if serr != nil {
		return nil, serr
	}
	return &ChunkResult{Session: session, Store: storeResult}, nil
}

// Status возвращает сессию владельца по upload_id.
func (s *SessionService) Status(ctx context.Context, uploadID, owner string) (*model.UploadSession, *StoreError) {
	return s.getOwned(ctx, uploadID, owner)
}

// CleanupStale удаляет незавершённые сессии, не обновлявшиеся дольше
// TTL, вместе с их part-файлами. Возвращает количество удалённых.
func (s *SessionService) CleanupStale(ctx context.Context, ttl time.Duration) (int, error) {
	before := time.Now().UTC().Add(-ttl)
	stale, err := s.sessions.ListStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка выборки устаревших сессий: %w", err)
	}

	removed := 0
	for _, session := range stale {
		if err := s.store.DeletePartFile(session.UploadID); err != nil {
			s.logger.Warn("Ошибка удаления part-файла",
				slog.String("upload_id", session.UploadID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.sessions.Delete(ctx, session.UploadID); err != nil {
			s.logger.Warn("Ошибка удаления сессии",
				slog.String("upload_id", session.UploadID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
		middleware.OperationsTotal.WithLabelValues("session_gc", "removed").Inc()
		middleware.ActiveSessions.Dec()
	}

	return removed, nil
}

// finalize собирает файл из part-файла: полная валидация
// (сигнатура, размер) и обычный путь приёма с дедупликацией.
// Сессия и part-файл удаляются в любом исходе — повторить
// неудачную сборку нельзя, клиент начинает новую сессию.
func (s *SessionService) finalize(ctx context.Context, session *model.UploadSession) (*StoreResult, *StoreError) {
	cleanup := func() {
		if err := s.store.DeletePartFile(session.UploadID); err != nil {
			s.logger.Warn("Ошибка удаления part-файла",
				slog.String("upload_id", session.UploadID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.sessions.Delete(ctx, session.UploadID); err != nil {
			s.logger.Warn("Ошибка удаления сессии",
				slog.String("upload_id", session.UploadID),
				slog.String("error", err.Error()),
			)
			return
		}
		middleware.ActiveSessions.Dec()
	}

	part, err := s.store.OpenPartFile(session.UploadID)
	if err != nil {
		cleanup()
		s.logger.Error("Ошибка открытия part-файла",
			slog.String("upload_id", session.UploadID),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения собранного файла",
		}
	}
	defer part.Close()

	info, err := part.Stat()
	if err != nil {
		cleanup()
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения собранного файла",
		}
	}
	if info.Size() != session.TotalSize {
		cleanup()
		middleware.OperationsTotal.WithLabelValues("session_finalize", "size_mismatch").Inc()
		return nil, &StoreError{
			StatusCode: 422,
			Code:       apierrors.CodeValidationError,
			Message: fmt.Sprintf("Собранный файл %d байт не совпадает с заявленными %d",
				info.Size(), session.TotalSize),
		}
	}

	// Полная валидация собранного файла, включая сигнатуру
	result, rej := s.validator.Validate(validation.File{
		Name:   session.FileName,
		Size:   info.Size(),
		Reader: part,
	})
	if rej != nil {
		cleanup()
		middleware.OperationsTotal.WithLabelValues("session_finalize", "rejected").Inc()
		s.logger.Info("Собранный файл отклонён валидацией",
			slog.String("upload_id", session.UploadID),
			slog.String("code", rej.Code),
			slog.String("message", rej.Message),
		)
		return nil, &StoreError{
			StatusCode: 422,
			Code:       rej.Code,
			Message:    rej.Message,
		}
	}

	storeResult, serr := s.ingest.Store(ctx, StoreParams{
		Reader:           part,
		OriginalFilename: session.FileName,
		ContentType:      result.ContentType,
		Extension:        result.Extension,
		Size:             info.Size(),
		UploadedBy:       session.UploadedBy,
	})
	if serr != nil {
		cleanup()
		return nil, serr
	}

	cleanup()
	middleware.OperationsTotal.WithLabelValues("session_finalize", "success").Inc()
	s.logger.Info("Файл собран из чанков и принят",
		slog.String("upload_id", session.UploadID),
		slog.String("file_id", storeResult.Record.FileID),
		slog.Int("total_chunks", session.TotalChunks),
	)

	return storeResult, nil
}

func (s *SessionService) getOwned(ctx context.Context, uploadID, owner string) (*model.UploadSession, *StoreError) {
	session, err := s.sessions.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.notFound(uploadID)
		}
		s.logger.Error("Ошибка получения сессии",
			slog.String("upload_id", uploadID),
			slog.String("error", err.Error()),
		)
		return nil, &StoreError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка базы данных",
		}
	}
	if session.UploadedBy != owner {
		// Чужие сессии не раскрываются
		return nil, s.notFound(uploadID)
	}
	return session, nil
}

func (s *SessionService) notFound(uploadID string) *StoreError {
	return &StoreError{
		StatusCode: 404,
		Code:       apierrors.CodeNotFound,
		Message:    fmt.Sprintf("Сессия %s не найдена", uploadID),
	}
}
