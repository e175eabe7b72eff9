package validation

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// testLimits — лимиты по умолчанию для тестов.
var testLimits = Limits{
	MaxFileSize:        10 << 20,
	MaxFilesPerUpload:  10,
	MaxTotalUploadSize: 50 << 20,
}

// jpegBytes возвращает минимальный корректный заголовок JPEG + мусор.
func jpegBytes() []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x42}, 64)...)
}

// pdfBytes возвращает заголовок PDF + мусор.
func pdfBytes() []byte {
	return append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{0x42}, 64)...)
}

func testFile(name string, content []byte) File {
	return File{
		Name:   name,
		Size:   int64(len(content)),
		Reader: bytes.NewReader(content),
	}
}

func TestValidate_JPEG(t *testing.T) {
	v := New(testLimits)

	res, rej := v.Validate(testFile("photo.jpg", jpegBytes()))
	if rej != nil {
		t.Fatalf("ожидалась успешная валидация, получен отказ: %v", rej)
	}
	if res.ContentType != "image/jpeg" {
		t.Errorf("ожидался image/jpeg, получен %s", res.ContentType)
	}
	if res.Extension != "jpg" {
		t.Errorf("ожидалось расширение jpg, получено %s", res.Extension)
	}
}

// TestValidate_RewindsStream проверяет, что после sniffing позиция
// потока возвращена на начало.
func TestValidate_RewindsStream(t *testing.T) {
	v := New(testLimits)
	content := jpegBytes()
	f := testFile("photo.jpg", content)

	if _, rej := v.Validate(f); rej != nil {
		t.Fatalf("неожиданный отказ: %v", rej)
	}

	data, err := io.ReadAll(f.Reader)
	if err != nil {
		t.Fatalf("ошибка чтения потока: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("после валидации читаются не все байты: %d вместо %d", len(data), len(content))
	}
}

func TestValidate_EmptyFile(t *testing.T) {
	v := New(testLimits)

	_, rej := v.Validate(File{Name: "empty.jpg", Size: 0, Reader: bytes.NewReader(nil)})
	if rej == nil || rej.Code != CodeEmptyFile {
		t.Fatalf("ожидался отказ %s, получено %v", CodeEmptyFile, rej)
	}
}

func TestValidate_TooLarge(t *testing.T) {
	v := New(Limits{MaxFileSize: 10, MaxFilesPerUpload: 10, MaxTotalUploadSize: 100})

	_, rej := v.Validate(testFile("photo.jpg", jpegBytes()))
	if rej == nil || rej.Code != CodeFileTooLarge {
		t.Fatalf("ожидался отказ %s, получено %v", CodeFileTooLarge, rej)
	}
}

func TestValidate_DisallowedExtension(t *testing.T) {
	v := New(testLimits)

	_, rej := v.Validate(testFile("script.exe", jpegBytes()))
	if rej == nil || rej.Code != CodeInvalidExtension {
		t.Fatalf("ожидался отказ %s, получено %v", CodeInvalidExtension, rej)
	}
}

// TestValidate_PathTraversal проверяет отказ для имени с "../" —
// независимо от расширения и содержимого.
func TestValidate_PathTraversal(t *testing.T) {
	v := New(testLimits)

	names := []string{
		"../../etc/passwd",
		"..\\windows\\system32.jpg",
		"dir/photo.jpg",
		"photo..jpg",
	}
	for _, name := range names {
		_, rej := v.Validate(testFile(name, jpegBytes()))
		if rej == nil {
			t.Errorf("имя %q должно быть отклонено", name)
			continue
		}
		if rej.Code != CodeUnsafeFilename && rej.Code != CodeInvalidExtension {
			t.Errorf("имя %q: ожидался отказ по имени или расширению, получен %s", name, rej.Code)
		}
	}
}

func TestValidate_LongFilename(t *testing.T) {
	v := New(testLimits)
	name := strings.Repeat("a", 300) + ".jpg"

	_, rej := v.Validate(testFile(name, jpegBytes()))
	if rej == nil || rej.Code != CodeUnsafeFilename {
		t.Fatalf("ожидался отказ %s, получено %v", CodeUnsafeFilename, rej)
	}
}

// TestValidate_SpoofedExtension проверяет отказ для .jpg с PDF magic bytes.
func TestValidate_SpoofedExtension(t *testing.T) {
	v := New(testLimits)

	_, rej := v.Validate(testFile("photo.jpg", pdfBytes()))
	if rej == nil || rej.Code != CodeSignatureMismatch {
		t.Fatalf("ожидался отказ %s, получено %v", CodeSignatureMismatch, rej)
	}
}

// TestValidate_UnknownSignature проверяет, что валидное расширение
// без известной сигнатуры не принимается.
func TestValidate_UnknownSignature(t *testing.T) {
	v := New(testLimits)

	_, rej := v.Validate(testFile("photo.jpg", bytes.Repeat([]byte{0x00}, 64)))
	if rej == nil || rej.Code != CodeUnsupportedType {
		t.Fatalf("ожидался отказ %s, получено %v", CodeUnsupportedType, rej)
	}
}

// TestValidate_ContainerDisambiguation проверяет разрешение коллизий
// контейнерных форматов по расширению.
func TestValidate_ContainerDisambiguation(t *testing.T) {
	v := New(testLimits)
	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, bytes.Repeat([]byte{0x00}, 32)...)
	zip := append([]byte{0x50, 0x4B, 0x03, 0x04}, bytes.Repeat([]byte{0x00}, 32)...)

	cases := []struct {
		name     string
		content  []byte
		wantType string
		wantCode string
	}{
		{"report.doc", ole, "application/msword", ""},
		{"table.xls", ole, "application/vnd.ms-excel", ""},
		{"report.docx", zip, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ""},
		{"table.xlsx", zip, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ""},
		// OLE-заголовок с ZIP-расширением и наоборот — несовпадение
		{"report.docx", ole, "", CodeSignatureMismatch},
		{"table.xls", zip, "", CodeSignatureMismatch},
		// OLE-заголовок с расширением изображения
		{"photo.png", ole, "", CodeSignatureMismatch},
	}

	for _, tc := range cases {
		res, rej := v.Validate(testFile(tc.name, tc.content))
		if tc.wantCode == "" {
			if rej != nil {
				t.Errorf("%s: неожиданный отказ %v", tc.name, rej)
				continue
			}
			if res.ContentType != tc.wantType {
				t.Errorf("%s: ожидался тип %s, получен %s", tc.name, tc.wantType, res.ContentType)
			}
		} else {
			if rej == nil || rej.Code != tc.wantCode {
				t.Errorf("%s: ожидался отказ %s, получено %v", tc.name, tc.wantCode, rej)
			}
		}
	}
}

func TestValidate_WebP(t *testing.T) {
	v := New(testLimits)
	webp := append([]byte("RIFF"), 0x24, 0x00, 0x00, 0x00)
	webp = append(webp, []byte("WEBPVP8 ")...)

	res, rej := v.Validate(testFile("anim.webp", webp))
	if rej != nil {
		t.Fatalf("неожиданный отказ: %v", rej)
	}
	if res.ContentType != "image/webp" {
		t.Errorf("ожидался image/webp, получен %s", res.ContentType)
	}

	// RIFF без WEBP на смещении 8 (например, WAV) — не изображение
	wav := append([]byte("RIFF"), 0x24, 0x00, 0x00, 0x00)
	wav = append(wav, []byte("WAVEfmt ")...)
	_, rej = v.Validate(testFile("anim.webp", wav))
	if rej == nil || rej.Code != CodeUnsupportedType {
		t.Fatalf("ожидался отказ %s, получено %v", CodeUnsupportedType, rej)
	}
}

// TestValidateBatch_TooManyFiles проверяет отказ батча из 11 файлов
// при лимите 10 — до проверки отдельных файлов.
func TestValidateBatch_TooManyFiles(t *testing.T) {
	v := New(testLimits)

	files := make([]File, 11)
	for i := range files {
		files[i] = testFile("photo.jpg", jpegBytes())
	}

	_, rej := v.ValidateBatch(files)
	if rej == nil || rej.Code != CodeTooManyFiles {
		t.Fatalf("ожидался отказ %s, получено %v", CodeTooManyFiles, rej)
	}
}

func TestValidateBatch_TotalSize(t *testing.T) {
	v := New(Limits{MaxFileSize: 100, MaxFilesPerUpload: 10, MaxTotalUploadSize: 150})

	files := []File{
		testFile("a.jpg", jpegBytes()),
		testFile("b.jpg", jpegBytes()),
		testFile("c.jpg", jpegBytes()),
	}

	_, rej := v.ValidateBatch(files)
	if rej == nil || rej.Code != CodeBatchTooLarge {
		t.Fatalf("ожидался отказ %s, получено %v", CodeBatchTooLarge, rej)
	}
}

// TestValidateBatch_ReportsFailingFile проверяет, что отказ содержит
// имя первого невалидного файла.
func TestValidateBatch_ReportsFailingFile(t *testing.T) {
	v := New(testLimits)

	files := []File{
		testFile("good.jpg", jpegBytes()),
		testFile("fake.jpg", pdfBytes()),
	}

	_, rej := v.ValidateBatch(files)
	if rej == nil {
		t.Fatal("ожидался отказ батча")
	}
	if rej.Filename != "fake.jpg" {
		t.Errorf("ожидалось имя fake.jpg, получено %q", rej.Filename)
	}
	if rej.Code != CodeSignatureMismatch {
		t.Errorf("ожидался код %s, получен %s", CodeSignatureMismatch, rej.Code)
	}
}

func TestValidateName(t *testing.T) {
	v := New(testLimits)

	if rej := v.ValidateName("photo.jpg"); rej != nil {
		t.Errorf("неожиданный отказ для photo.jpg: %v", rej)
	}
	if rej := v.ValidateName("../etc/passwd.jpg"); rej == nil {
		t.Error("имя с .. должно быть отклонено")
	}
	if rej := v.ValidateName("binary.exe"); rej == nil {
		t.Error("недопустимое расширение должно быть отклонено")
	}
}
