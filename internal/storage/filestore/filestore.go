// Пакет filestore — операции с физическими файлами на диске.
// Раскладка хранилища: users/{owner}/{yyyy}/{MM}/{dd}/{uuid}.{ext}
// относительно корневой директории. Все компоненты пути генерируются
// системой, пользовательский ввод в пути не попадает.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tmpDirName — поддиректория для частичных файлов чанковых сессий.
const tmpDirName = "tmp/uploads"

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// rootPath — корневая директория хранения (FM_ROOT_PATH)
	rootPath string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// StoragePath — путь файла относительно rootPath
	StoragePath string
	// FileName — сгенерированное имя файла ({uuid}.{ext})
	FileName string
	// FullPath — абсолютный путь файла на диске
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
}

// New создаёт FileStore, создавая корневую директорию и директорию
// частичных файлов, если их нет.
func New(rootPath string) (*FileStore, error) {
	if err := os.MkdirAll(rootPath, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать корневую директорию %s: %w", rootPath, err)
	}
	if err := os.MkdirAll(filepath.Join(rootPath, tmpDirName), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию частичных файлов: %w", err)
	}
	return &FileStore{rootPath: rootPath}, nil
}

// SaveFile записывает поток в файл с системно-сгенерированным именем
// в директории владельца/даты. ext — расширение в любой форме
// ("jpg", ".jpg", "JPG"): нормализуется к нижнему регистру с ведущей
// точкой, имя файла всегда имеет вид {uuid}.{ext}.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке или отмене контекста temp файл удаляется, частичных
// файлов в хранилище не остаётся.
func (fs *FileStore) SaveFile(ctx context.Context, reader io.Reader, owner, ext string) (*SaveResult, error) {
	now := time.Now().UTC()
	relDir := filepath.Join("users", sanitizeOwner(owner),
		fmt.Sprintf("%04d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
	)

	dir := filepath.Join(fs.rootPath, relDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	fileName := uuid.New().String() + normalizeExt(ext)
	fullPath := filepath.Join(dir, fileName)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, &ctxReader{ctx: ctx, r: reader})
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StoragePath: filepath.ToSlash(filepath.Join(relDir, fileName)),
		FileName:    fileName,
		FullPath:    fullPath,
		Size:        size,
	}, nil
}

// ComputeChecksum вычисляет SHA-256 (base64) содержимого файла,
// читая его с диска. Хэш отражает ровно те байты, которые будут
// отданы при скачивании, а не буфер в памяти.
func (fs *FileStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := os.Open(fs.FullPath(storagePath))
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(storagePath string) string {
	return filepath.Join(fs.rootPath, filepath.FromSlash(storagePath))
}

// DeleteFile удаляет файл с диска. Возвращает nil, если файл
// уже не существует.
func (fs *FileStore) DeleteFile(storagePath string) error {
	err := os.Remove(fs.FullPath(storagePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// DeleteWithDerivatives удаляет файл и его производные (_small, _medium),
// если они существуют.
func (fs *FileStore) DeleteWithDerivatives(storagePath string) error {
	if err := fs.DeleteFile(storagePath); err != nil {
		return err
	}
	for _, p := range DerivativePaths(storagePath) {
		if err := fs.DeleteFile(p); err != nil {
			return err
		}
	}
	return nil
}

// FileExists проверяет существование файла на диске.
func (fs *FileStore) FileExists(storagePath string) bool {
	_, err := os.Stat(fs.FullPath(storagePath))
	return err == nil
}

// FileSize возвращает размер файла на диске.
func (fs *FileStore) FileSize(storagePath string) (int64, error) {
	info, err := os.Stat(fs.FullPath(storagePath))
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// RootPath возвращает корневую директорию хранилища.
func (fs *FileStore) RootPath() string {
	return fs.rootPath
}

// --- Частичные файлы чанковых сессий ---

// PartFilePath возвращает абсолютный путь частичного файла сессии.
func (fs *FileStore) PartFilePath(uploadID string) string {
	return filepath.Join(fs.rootPath, tmpDirName, uploadID+".part")
}

// WriteChunkAt записывает чанк в частичный файл сессии по смещению.
// Файл создаётся при первом чанке; порядок поступления не важен.
func (fs *FileStore) WriteChunkAt(uploadID string, offset int64, data []byte) error {
	f, err := os.OpenFile(fs.PartFilePath(uploadID), os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка открытия частичного файла сессии %s: %w", uploadID, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("ошибка записи чанка сессии %s по смещению %d: %w", uploadID, offset, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync частичного файла сессии %s: %w", uploadID, err)
	}
	return nil
}

// OpenPartFile открывает собранный частичный файл сессии для чтения.
func (fs *FileStore) OpenPartFile(uploadID string) (*os.File, error) {
	f, err := os.Open(fs.PartFilePath(uploadID))
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия частичного файла сессии %s: %w", uploadID, err)
	}
	return f, nil
}

// DeletePartFile удаляет частичный файл сессии. Возвращает nil,
// если файл уже не существует.
func (fs *FileStore) DeletePartFile(uploadID string) error {
	err := os.Remove(fs.PartFilePath(uploadID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления частичного файла сессии %s: %w", uploadID, err)
	}
	return nil
}

// DerivativePaths возвращает пути производных файлов изображения
// ({base}_small{ext}, {base}_medium{ext}) для данного пути.
func DerivativePaths(storagePath string) []string {
	ext := filepath.Ext(storagePath)
	base := strings.TrimSuffix(storagePath, ext)
	return []string{
		base + "_small" + ext,
		base + "_medium" + ext,
	}
}

// normalizeExt приводит расширение к форме ".jpg": нижний регистр,
// ведущая точка добавляется, если её не было. Валидатор отдаёт
// расширение без точки, прямые вызовы — с точкой; имя на диске
// обязано получить точку в обоих случаях.
func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// sanitizeOwner убирает из идентификатора владельца всё, кроме букв,
// цифр, дефиса и подчёркивания. Идентификатор приходит из JWT sub и
// не должен попадать в путь как есть.
func sanitizeOwner(owner string) string {
	var b strings.Builder
	for _, r := range owner {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// ctxReader — reader, прерывающий чтение при отмене контекста.
// Позволяет убрать частично записанный файл до возврата ошибки отмены.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
