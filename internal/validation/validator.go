// validator.go — валидатор загружаемых файлов.
//
// Все проверки выполняются до записи байтов на диск и не имеют
// побочных эффектов. Ожидаемые нарушения (превышение размера,
// запрещённый тип, небезопасное имя, несовпадение сигнатуры)
// возвращаются как *Rejection, а не как ошибка: отказ в загрузке —
// штатный результат. Ошибки чтения потока при sniffing тоже
// оформляются как Rejection с отдельным кодом.
package validation

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Коды отказов валидации.
const (
	CodeEmptyFile         = "EMPTY_FILE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeInvalidExtension  = "INVALID_EXTENSION"
	CodeUnsafeFilename    = "UNSAFE_FILENAME"
	CodeSignatureMismatch = "SIGNATURE_MISMATCH"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeReadError         = "READ_ERROR"
	CodeTooManyFiles      = "TOO_MANY_FILES"
	CodeBatchTooLarge     = "BATCH_TOO_LARGE"
)

// maxFilenameLen — максимальная длина имени файла.
const maxFilenameLen = 255

// allowedExtensions — фиксированный список допустимых расширений
// (изображения + документы). Расширение проверяется до sniffing,
// но само по себе никогда не является достаточным основанием.
var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
	"pdf": true, "doc": true, "docx": true, "xls": true, "xlsx": true,
}

// invalidFilenameChars — символы, запрещённые в имени файла.
// Разделители путей проверяются отдельно.
const invalidFilenameChars = `<>:"|?*`

// Rejection — отказ валидации. Ожидаемый, пригодный для показа
// пользователю результат (не internal error).
type Rejection struct {
	// Code — машиночитаемый код отказа
	Code string
	// Message — причина отказа
	Message string
	// Filename — имя файла, вызвавшего отказ (для батчей)
	Filename string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Result — результат успешной валидации одного файла.
type Result struct {
	// ContentType — MIME-тип, определённый по magic bytes
	ContentType string
	// Extension — нормализованное расширение (в нижнем регистре, без точки)
	Extension string
}

// File — файл, предъявленный на проверку. Поток должен поддерживать
// Seek: валидатор читает заголовок и возвращает позицию на начало,
// чтобы те же байты можно было записать на диск.
type File struct {
	Name   string
	Size   int64
	Reader io.ReadSeeker
}

// Limits — лимиты валидации (из конфигурации).
type Limits struct {
	// MaxFileSize — максимальный размер одного файла в байтах
	MaxFileSize int64
	// MaxFilesPerUpload — максимальное количество файлов в батче
	MaxFilesPerUpload int
	// MaxTotalUploadSize — максимальный суммарный размер батча в байтах
	MaxTotalUploadSize int64
}

// Validator — валидатор загружаемых файлов.
type Validator struct {
	limits Limits
}

// New создаёт валидатор с указанными лимитами.
func New(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Validate проверяет один файл. Порядок проверок фиксирован,
// первая неудачная прерывает остальные:
//
//  1. Непустой файл
//  2. Размер в пределах лимита
//  3. Расширение из списка допустимых
//  4. Безопасное имя файла
//  5. Magic bytes соответствуют расширению
//
// После sniffing позиция потока возвращается на начало.
func (v *Validator) Validate(f File) (*Result, *Rejection) {
	// 1. Пустой файл
	if f.Reader == nil || f.Size == 0 {
		return nil, &Rejection{
			Code:     CodeEmptyFile,
			Message:  "Файл пуст или отсутствует",
			Filename: f.Name,
		}
	}

	// 2. Размер
	if f.Size > v.limits.MaxFileSize {
		return nil, &Rejection{
			Code:     CodeFileTooLarge,
			Message:  fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", f.Size, v.limits.MaxFileSize),
			Filename: f.Name,
		}
	}

	// 3. Расширение
	ext := normalizeExt(f.Name)
	if ext == "" || !allowedExtensions[ext] {
		return nil, &Rejection{
			Code:     CodeInvalidExtension,
			Message:  fmt.Sprintf("Расширение %q не входит в список допустимых", ext),
			Filename: f.Name,
		}
	}

	// 4. Безопасность имени. Любое нарушение — отказ независимо от
	// валидности расширения: защита от path traversal через имя файла.
	if reason := unsafeFilenameReason(f.Name); reason != "" {
		return nil, &Rejection{
			Code:     CodeUnsafeFilename,
			Message:  reason,
			Filename: f.Name,
		}
	}

	// 5. Magic bytes
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Reader, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, &Rejection{
			Code:     CodeReadError,
			Message:  fmt.Sprintf("Ошибка чтения файла при проверке: %s", err.Error()),
			Filename: f.Name,
		}
	}

	// Возвращаем поток на начало: дальше эти же байты пойдут на диск
	if _, err := f.Reader.Seek(0, io.SeekStart); err != nil {
		return nil, &Rejection{
			Code:     CodeReadError,
			Message:  fmt.Sprintf("Ошибка перемотки потока: %s", err.Error()),
			Filename: f.Name,
		}
	}

	sig := detectSignature(head[:n])
	if sig == nil {
		return nil, &Rejection{
			Code:     CodeUnsupportedType,
			Message:  "Содержимое файла не соответствует ни одному поддерживаемому формату",
			Filename: f.Name,
		}
	}

	// Контейнерные форматы: сигнатура принимается только если
	// расширение указывает на конкретный подтип контейнера.
	contentType, ok := sig.extTypes[ext]
	if !ok {
		return nil, &Rejection{
			Code:     CodeSignatureMismatch,
			Message:  fmt.Sprintf("Содержимое файла не соответствует расширению %q", ext),
			Filename: f.Name,
		}
	}

	return &Result{ContentType: contentType, Extension: ext}, nil
}

// ValidateBatch проверяет батч файлов: количество, суммарный размер,
// затем каждый файл по одиночным правилам. Возвращает отказ первого
// невалидного файла (с его именем) или nil, если батч допустим.
func (v *Validator) ValidateBatch(files []File) ([]*Result, *Rejection) {
	if len(files) == 0 {
		return nil, &Rejection{
			Code:    CodeEmptyFile,
			Message: "Батч не содержит файлов",
		}
	}

	if len(files) > v.limits.MaxFilesPerUpload {
		return nil, &Rejection{
			Code:    CodeTooManyFiles,
			Message: fmt.Sprintf("Количество файлов %d превышает максимум %d", len(files), v.limits.MaxFilesPerUpload),
		}
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}
	if total > v.limits.MaxTotalUploadSize {
		return nil, &Rejection{
			Code:    CodeBatchTooLarge,
			Message: fmt.Sprintf("Суммарный размер %d байт превышает максимум %d байт", total, v.limits.MaxTotalUploadSize),
		}
	}

	results := make([]*Result, 0, len(files))
	for _, f := range files {
		res, rej := v.Validate(f)
		if rej != nil {
			return nil, rej
		}
		results = append(results, res)
	}
	return results, nil
}

// ValidateName проверяет только имя файла (расширение + безопасность).
// Используется при открытии чанковой сессии, когда содержимого ещё нет.
func (v *Validator) ValidateName(name string) *Rejection {
	ext := normalizeExt(name)
	if ext == "" || !allowedExtensions[ext] {
		return &Rejection{
			Code:     CodeInvalidExtension,
			Message:  fmt.Sprintf("Расширение %q не входит в список допустимых", ext),
			Filename: name,
		}
	}
	if reason := unsafeFilenameReason(name); reason != "" {
		return &Rejection{
			Code:     CodeUnsafeFilename,
			Message:  reason,
			Filename: name,
		}
	}
	return nil
}

// normalizeExt возвращает расширение имени файла в нижнем регистре
// без ведущей точки.
func normalizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	return strings.TrimPrefix(ext, ".")
}

// unsafeFilenameReason возвращает причину, по которой имя файла
// небезопасно, или пустую строку. Проверяются разделители путей,
// последовательность "..", запрещённые и управляющие символы, длина.
func unsafeFilenameReason(name string) string {
	if len(name) > maxFilenameLen {
		return fmt.Sprintf("Имя файла длиннее %d символов", maxFilenameLen)
	}
	if strings.Contains(name, "..") {
		return "Имя файла содержит последовательность \"..\""
	}
	if strings.ContainsAny(name, `/\`) {
		return "Имя файла содержит разделители путей"
	}
	if strings.ContainsAny(name, invalidFilenameChars) {
		return "Имя файла содержит запрещённые символы"
	}
	for _, r := range name {
		if r < 0x20 {
			return "Имя файла содержит управляющие символы"
		}
	}
	return ""
}
