// session.go — репозиторий сессий чанковой загрузки
// (таблицы upload_sessions и upload_session_chunks).
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
)

// SessionRepository — контракт учёта сессий чанковой загрузки.
type SessionRepository interface {
	// Create сохраняет новую сессию.
	Create(ctx context.Context, s *model.UploadSession) error
	// Get возвращает сессию по upload_id или ErrNotFound.
	Get(ctx context.Context, uploadID string) (*model.UploadSession, error)
	// MarkChunk идемпотентно регистрирует чанк: повторный или
	// внеочередной индекс не меняет счётчик. Возвращает обновлённую
	// сессию; IsCompleted выставляется, когда принят последний
	// уникальный чанк.
	MarkChunk(ctx context.Context, uploadID string, index int) (*model.UploadSession, error)
	// Delete удаляет сессию вместе с записями чанков.
	Delete(ctx context.Context, uploadID string) error
	// ListStale возвращает незавершённые сессии, не обновлявшиеся
	// с указанного момента.
	ListStale(ctx context.Context, before time.Time) ([]*model.UploadSession, error)
}

// sessionRepo — реализация SessionRepository поверх PostgreSQL.
type sessionRepo struct {
	db DBTX
	tx *TxRunner
}

// NewSessionRepository создаёт репозиторий сессий.
// txRunner нужен для MarkChunk: регистрация чанка и обновление
// счётчика выполняются в одной транзакции.
func NewSessionRepository(db DBTX, txRunner *TxRunner) SessionRepository {
	return &sessionRepo{db: db, tx: txRunner}
}

const sessionColumns = `upload_id, uploaded_by, file_name, total_size, chunk_size,
	total_chunks, uploaded_chunks, is_completed, created_at, updated_at`

func (r *sessionRepo) Create(ctx context.Context, s *model.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (upload_id, uploaded_by, file_name, total_size,
			chunk_size, total_chunks)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING uploaded_chunks, is_completed, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.UploadID, s.UploadedBy, s.FileName, s.TotalSize, s.ChunkSize, s.TotalChunks,
	).Scan(&s.UploadedChunks, &s.IsCompleted, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: сессия %s уже существует", ErrConflict, s.UploadID)
		}
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE upload_id = $1`

	s, err := scanSession(r.db.QueryRow(ctx, query, uploadID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сессии: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) MarkChunk(ctx context.Context, uploadID string, index int) (*model.UploadSession, error) {
	var s *model.UploadSession

	err := r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		// Идемпотентная регистрация чанка: дубликат не вставляется
		_, err := tx.Exec(ctx, `
			INSERT INTO upload_session_chunks (upload_id, chunk_index)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, uploadID, index)
		if err != nil {
			return fmt.Errorf("ошибка регистрации чанка %d: %w", index, err)
		}

		// Счётчик — количество уникальных принятых чанков
		row := tx.QueryRow(ctx, `
			UPDATE upload_sessions
			SET uploaded_chunks = (
					SELECT count(*) FROM upload_session_chunks WHERE upload_id = $1
				),
				is_completed = (
					SELECT count(*) FROM upload_session_chunks WHERE upload_id = $1
				) >= total_chunks,
				updated_at = now()
			WHERE upload_id = $1
			RETURNING `+sessionColumns, uploadID)

		s, err = scanSession(row)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка обновления счётчика сессии: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) Delete(ctx context.Context, uploadID string) error {
	// upload_session_chunks удаляются каскадно (FK ON DELETE CASCADE)
	_, err := r.db.Exec(ctx, `DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("ошибка удаления сессии %s: %w", uploadID, err)
	}
	return nil
}

func (r *sessionRepo) ListStale(ctx context.Context, before time.Time) ([]*model.UploadSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM upload_sessions
		WHERE NOT is_completed AND updated_at < $1
		ORDER BY updated_at`

	rows, err := r.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки устаревших сессий: %w", err)
	}
	defer rows.Close()

	var sessions []*model.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сессии: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// scanSession сканирует одну строку upload_sessions.
func scanSession(row pgx.Row) (*model.UploadSession, error) {
	s := &model.UploadSession{}
	err := row.Scan(
		&s.UploadID, &s.UploadedBy, &s.FileName, &s.TotalSize, &s.ChunkSize,
		&s.TotalChunks, &s.UploadedChunks, &s.IsCompleted, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
