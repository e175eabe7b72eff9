// enrich.go — конвейер обработки изображений: извлечение EXIF,
// удаление метаданных перекодированием и генерация превью.
package service

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/arturkryukov/gomarket/file-module/internal/api/middleware"
	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
	"github.com/arturkryukov/gomarket/file-module/internal/storage/filestore"
)

// Имена шагов конвейера в порядке выполнения.
const (
	StepExtractEXIF = "extract_exif"
	StepDecode      = "decode"
	StepScrub       = "scrub_reencode"
	StepDeriveSmall = "derive_small"
	StepDeriveMed   = "derive_medium"
)

// Статусы шага.
const (
	StepOK      = "ok"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// Размеры превью (вписывание с сохранением пропорций).
const (
	smallMaxW  = 200
	smallMaxH  = 200
	mediumMaxW = 800
	mediumMaxH = 600
)

// Качество JPEG: оригинал перекодируется бережнее, превью — компактнее.
const (
	scrubQuality  = 90
	deriveQuality = 85
)

// StepResult — итог одного шага конвейера.
type StepResult struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// EnrichService — конвейер обработки изображений.
// Ошибка любого шага не прерывает приём файла: оригинал уже
// сохранён, отчёт по шагам возвращается вызывающему.
type EnrichService struct {
	store  *filestore.FileStore
	logger *slog.Logger
}

// NewEnrichService создаёт конвейер обработки изображений.
func NewEnrichService(store *filestore.FileStore, logger *slog.Logger) *EnrichService {
	return &EnrichService{
		store:  store,
		logger: logger.With(slog.String("component", "enrich_service")),
	}
}

// Process прогоняет изображение через конвейер и заполняет
// атрибуты записи (размеры, EXIF-поля). Порядок фиксирован:
// сначала EXIF извлекается в запись, потом файл перекодируется
// без метаданных, потом строятся превью.
func (s *EnrichService) Process(ctx context.Context, record *model.FileRecord) []StepResult {
	fullPath := s.store.FullPath(record.StoragePath)
	results := make([]StepResult, 0, 5)

	step := func(name, status, detail string) {
		results = append(results, StepResult{Step: name, Status: status, Detail: detail})
		middleware.DerivationStepsTotal.WithLabelValues(name, status).Inc()
		if status == StepFailed {
			s.logger.Warn("Шаг конвейера завершился с ошибкой",
				slog.String("file_id", record.FileID),
				slog.String("step", name),
				slog.String("detail", detail),
			)
		}
	}

	// 1. EXIF читается до перекодирования — после него метаданных нет
	if err := s.extractEXIF(fullPath, record); err != nil {
		// Отсутствие EXIF — норма для PNG/GIF и скриншотов
		step(StepExtractEXIF, StepSkipped, err.Error())
	} else {
		step(StepExtractEXIF, StepOK, "")
	}

	// WEBP: кодировщика нет, определяем только размеры
	if record.ContentType == "image/webp" {
		if err := s.decodeConfig(fullPath, record); err != nil {
			step(StepDecode, StepFailed, err.Error())
		} else {
			step(StepDecode, StepOK, "")
		}
		detail := "перекодирование webp не поддерживается"
		step(StepScrub, StepSkipped, detail)
		step(StepDeriveSmall, StepSkipped, detail)
		step(StepDeriveMed, StepSkipped, detail)
		return results
	}

	// 2. Декодирование с нормализацией ориентации
	img, err := imaging.Open(fullPath, imaging.AutoOrientation(true))
	if err != nil {
		step(StepDecode, StepFailed, fmt.Sprintf("ошибка декодирования: %v", err))
		// Без декодированного изображения остальные шаги невозможны
		step(StepScrub, StepSkipped, "изображение не декодировано")
		step(StepDeriveSmall, StepSkipped, "изображение не декодировано")
		step(StepDeriveMed, StepSkipped, "изображение не декодировано")
		return results
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	record.Width = &w
	record.Height = &h
	step(StepDecode, StepOK, "")

	if ctx.Err() != nil {
		step(StepScrub, StepSkipped, "контекст отменён")
		step(StepDeriveSmall, StepSkipped, "контекст отменён")
		step(StepDeriveMed, StepSkipped, "контекст отменён")
		return results
	}

	// 3. Перекодирование: у результата нет EXIF-блока, geolocation
	// и серийные номера камеры не уходят наружу. Подмена оригинала
	// атомарная — при ошибке кодирования исходный файл не трогается
	if err := saveScrubbed(img, fullPath); err != nil {
		step(StepScrub, StepFailed, fmt.Sprintf("ошибка перекодирования: %v", err))
	} else {
		step(StepScrub, StepOK, "")
	}

	// 4. Превью
	derivatives := filestore.DerivativePaths(record.StoragePath)
	small := imaging.Fit(img, smallMaxW, smallMaxH, imaging.Lanczos)
	if err := imaging.Save(small, s.store.FullPath(derivatives[0]), imaging.JPEGQuality(deriveQuality)); err != nil {
		step(StepDeriveSmall, StepFailed, fmt.Sprintf("ошибка сохранения превью: %v", err))
	} else {
		step(StepDeriveSmall, StepOK, "")
	}

	medium := imaging.Fit(img, mediumMaxW, mediumMaxH, imaging.Lanczos)
	if err := imaging.Save(medium, s.store.FullPath(derivatives[1]), imaging.JPEGQuality(deriveQuality)); err != nil {
		step(StepDeriveMed, StepFailed, fmt.Sprintf("ошибка сохранения превью: %v", err))
	} else {
		step(StepDeriveMed, StepOK, "")
	}

	return results
}

// saveScrubbed кодирует изображение во временный файл рядом с
// оригиналом и атомарно подменяет его. Прерванное кодирование
// оставляет исходный файл нетронутым.
func saveScrubbed(img image.Image, fullPath string) error {
	format, err := imaging.FormatFromFilename(fullPath)
	if err != nil {
		return fmt.Errorf("неизвестный формат файла: %w", err)
	}

	tmpPath := fullPath + ".scrub"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if err := imaging.Encode(f, img, format, imaging.JPEGQuality(scrubQuality)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка кодирования: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// extractEXIF читает EXIF-теги в атрибуты записи.
// Координаты и прочие теги сохраняются только в БД — из самого
// файла они удаляются на шаге перекодирования.
func (s *EnrichService) extractEXIF(fullPath string, record *model.FileRecord) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return fmt.Errorf("EXIF не найден: %w", err)
	}

	// Дата съёмки: DateTimeOriginal, при отсутствии — DateTime
	if dt, err := x.DateTime(); err == nil {
		utc := dt.UTC()
		record.DateTaken = &utc
	}

	if tag, err := x.Get(exif.Model); err == nil {
		if m, err := tag.StringVal(); err == nil {
			m = strings.TrimSpace(m)
			if m != "" {
				record.CameraModel = &m
			}
		}
	}

	if lat, long, err := x.LatLong(); err == nil {
		loc := fmt.Sprintf("%.6f,%.6f", lat, long)
		record.Location = &loc
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if o, err := tag.Int(0); err == nil {
			record.Orientation = &o
		}
	}

	return nil
}

// decodeConfig определяет размеры изображения без полного декодирования.
func (s *EnrichService) decodeConfig(fullPath string, record *model.FileRecord) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("ошибка чтения заголовка изображения: %w", err)
	}
	record.Width = &cfg.Width
	record.Height = &cfg.Height
	return nil
}
