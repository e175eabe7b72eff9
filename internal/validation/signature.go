// Пакет validation — проверка загружаемых файлов до записи на диск.
//
// signature.go — статическая таблица magic bytes. Таблица строится
// один раз при инициализации пакета и далее только читается,
// синхронизация не требуется.
package validation

import "bytes"

// sniffLen — сколько байт заголовка нужно прочитать для определения
// типа. 12 байт покрывают самую длинную сигнатуру (WEBP: RIFF на
// смещении 0 + WEBP на смещении 8).
const sniffLen = 12

// segment — фрагмент сигнатуры: байты на заданном смещении.
type segment struct {
	offset int
	bytes  []byte
}

// signature — сигнатура формата файла.
// Для контейнерных форматов (OLE, ZIP) один и тот же набор байт
// используется несколькими типами; конкретный тип определяется
// по расширению через extTypes.
type signature struct {
	// segments — все фрагменты должны совпасть
	segments []segment
	// extTypes — допустимые расширения (без точки) и MIME-тип,
	// соответствующий каждому расширению
	extTypes map[string]string
}

// signatureTable — реестр известных форматов. Порядок важен только
// для читаемости: сигнатуры не пересекаются.
var signatureTable = []signature{
	{
		segments: []segment{{0, []byte{0xFF, 0xD8, 0xFF}}},
		extTypes: map[string]string{"jpg": "image/jpeg", "jpeg": "image/jpeg"},
	},
	{
		segments: []segment{{0, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}}},
		extTypes: map[string]string{"png": "image/png"},
	},
	{
		segments: []segment{{0, []byte{0x47, 0x49, 0x46, 0x38}}},
		extTypes: map[string]string{"gif": "image/gif"},
	},
	{
		// RIFF-контейнер с типом WEBP на смещении 8
		segments: []segment{
			{0, []byte{0x52, 0x49, 0x46, 0x46}},
			{8, []byte{0x57, 0x45, 0x42, 0x50}},
		},
		extTypes: map[string]string{"webp": "image/webp"},
	},
	{
		segments: []segment{{0, []byte{0x25, 0x50, 0x44, 0x46}}},
		extTypes: map[string]string{"pdf": "application/pdf"},
	},
	{
		// Legacy OLE compound file: .doc и .xls неразличимы по заголовку
		segments: []segment{{0, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}}},
		extTypes: map[string]string{
			"doc": "application/msword",
			"xls": "application/vnd.ms-excel",
		},
	},
	{
		// ZIP-контейнер: .docx и .xlsx неразличимы по заголовку
		segments: []segment{{0, []byte{0x50, 0x4B, 0x03, 0x04}}},
		extTypes: map[string]string{
			"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
	},
}

// matches проверяет совпадение всех фрагментов сигнатуры с заголовком.
func (s *signature) matches(head []byte) bool {
	for _, seg := range s.segments {
		end := seg.offset + len(seg.bytes)
		if len(head) < end {
			return false
		}
		if !bytes.Equal(head[seg.offset:end], seg.bytes) {
			return false
		}
	}
	return true
}

// detectSignature ищет сигнатуру, совпадающую с заголовком файла.
// Возвращает nil, если ни одна сигнатура не подошла.
func detectSignature(head []byte) *signature {
	for i := range signatureTable {
		if signatureTable[i].matches(head) {
			return &signatureTable[i]
		}
	}
	return nil
}
