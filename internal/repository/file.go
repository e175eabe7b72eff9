// file.go — репозиторий записей файлов (таблица file_records).
package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
)

// FileRepository — контракт хранения записей файлов.
// Сервису загрузки нужны только поиск дубликата по (checksum, владелец)
// и сохранение записи; остальное — для выдачи метаданных.
type FileRepository interface {
	// Create сохраняет новую запись. Возвращает ErrConflict, если
	// активная запись с той же парой (checksum, uploaded_by) уже есть.
	Create(ctx context.Context, f *model.FileRecord) error
	// FindByChecksumAndOwner возвращает активную (не удалённую) запись
	// владельца с данным checksum или ErrNotFound.
	FindByChecksumAndOwner(ctx context.Context, checksum, owner string) (*model.FileRecord, error)
	// GetByID возвращает запись по идентификатору или ErrNotFound.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
}

// fileRepo — реализация FileRepository поверх PostgreSQL.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий записей файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// fileColumns — список колонок file_records в порядке сканирования.
const fileColumns = `file_id, file_name, original_filename, content_type, size,
	uploaded_by, uploaded_at, storage_path, checksum, is_public, expires_at,
	download_count, width, height, date_taken, camera_model, location,
	orientation, is_deleted, deleted_at, created_at, updated_at`

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO file_records (file_id, file_name, original_filename, content_type,
			size, uploaded_by, uploaded_at, storage_path, checksum, is_public,
			expires_at, download_count, width, height, date_taken, camera_model,
			location, orientation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		f.FileID, f.FileName, f.OriginalFilename, f.ContentType,
		f.Size, f.UploadedBy, f.UploadedAt, f.StoragePath, f.Checksum, f.IsPublic,
		f.ExpiresAt, f.DownloadCount, f.Width, f.Height, f.DateTaken, f.CameraModel,
		f.Location, f.Orientation,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активная запись с таким содержимым у владельца уже есть", ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) FindByChecksumAndOwner(ctx context.Context, checksum, owner string) (*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM file_records
		WHERE checksum = $1 AND uploaded_by = $2 AND NOT is_deleted`

	f, err := scanFileRecord(r.db.QueryRow(ctx, query, checksum, owner))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска дубликата: %w", err)
	}
	return f, nil
}

func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM file_records
		WHERE file_id = $1`

	f, err := scanFileRecord(r.db.QueryRow(ctx, query, fileID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return f, nil
}

// scanFileRecord сканирует одну строку file_records.
func scanFileRecord(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(
		&f.FileID, &f.FileName, &f.OriginalFilename, &f.ContentType, &f.Size,
		&f.UploadedBy, &f.UploadedAt, &f.StoragePath, &f.Checksum, &f.IsPublic,
		&f.ExpiresAt, &f.DownloadCount, &f.Width, &f.Height, &f.DateTaken,
		&f.CameraModel, &f.Location, &f.Orientation, &f.IsDeleted, &f.DeletedAt,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}
