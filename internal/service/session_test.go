package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arturkryukov/gomarket/file-module/internal/config"
	"github.com/arturkryukov/gomarket/file-module/internal/domain/model"
	"github.com/arturkryukov/gomarket/file-module/internal/repository"
	"github.com/arturkryukov/gomarket/file-module/internal/storage/filestore"
	"github.com/arturkryukov/gomarket/file-module/internal/validation"
)

// fakeSessionRepo — in-memory реализация SessionRepository для тестов.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.UploadSession
	chunks   map[string]map[int]bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[string]*model.UploadSession),
		chunks:   make(map[string]map[int]bool),
	}
}

func (r *fakeSessionRepo) Create(_ context.Context, s *model.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.UploadID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	copied := *s
	r.sessions[s.UploadID] = &copied
	r.chunks[s.UploadID] = make(map[int]bool)
	return nil
}

func (r *fakeSessionRepo) Get(_ context.Context, uploadID string) (*model.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[uploadID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSessionRepo) MarkChunk(_ context.Context, uploadID string, index int) (*model.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[uploadID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r.chunks[uploadID][index] = true
	s.UploadedChunks = len(r.chunks[uploadID])
	s.IsCompleted = s.UploadedChunks >= s.TotalChunks
	s.UpdatedAt = time.Now().UTC()
	copied := *s
	return &copied, nil
}

func (r *fakeSessionRepo) Delete(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, uploadID)
	delete(r.chunks, uploadID)
	return nil
}

func (r *fakeSessionRepo) ListStale(_ context.Context, before time.Time) ([]*model.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []*model.UploadSession
	for _, s := range r.sessions {
		if !s.IsCompleted && s.UpdatedAt.Before(before) {
			copied := *s
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

// newTestSessionService собирает SessionService с in-memory репозиториями.
func newTestSessionService(t *testing.T) (*SessionService, *fakeSessionRepo, *fakeFileRepo, *filestore.FileStore) {
	t.Helper()

	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	cfg := &config.Config{
		MaxFileSize:        10 << 20,
		MaxFilesPerUpload:  10,
		MaxTotalUploadSize: 100 << 20,
	}
	validator := validation.New(validation.Limits{
		MaxFileSize:        cfg.MaxFileSize,
		MaxFilesPerUpload:  cfg.MaxFilesPerUpload,
		MaxTotalUploadSize: cfg.MaxTotalUploadSize,
	})

	fileRepo := newFakeFileRepo()
	sessionRepo := newFakeSessionRepo()
	enrich := NewEnrichService(store, testLogger())
	ingest := NewIngestService(cfg, store, fileRepo, enrich, testLogger())
	svc := NewSessionService(cfg, store, sessionRepo, validator, ingest, testLogger())
	return svc, sessionRepo, fileRepo, store
}

func TestBegin_CreatesSession(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)

	session, serr := svc.Begin(context.Background(), BeginParams{
		FileName:   "archive.pdf",
		TotalSize:  25,
		ChunkSize:  10,
		UploadedBy: "user-1",
	})
	if serr != nil {
		t.Fatalf("Begin вернул ошибку: %v", serr)
	}

	if session.UploadID == "" {
		t.Error("не назначен upload_id")
	}
	// 25 байт чанками по 10: 3 чанка, последний — 5 байт
	if session.TotalChunks != 3 {
		t.Errorf("TotalChunks = %d, ожидалось 3", session.TotalChunks)
	}
	if session.ExpectedChunkSize(2) != 5 {
		t.Errorf("ExpectedChunkSize(2) = %d, ожидалось 5", session.ExpectedChunkSize(2))
	}
}

func TestBegin_RejectsUnsafeName(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)

	cases := []struct {
		name     string
		fileName string
	}{
		{"path traversal", "../../etc/passwd.pdf"},
		{"disallowed extension", "run.exe"},
		{"empty name", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, serr := svc.Begin(context.Background(), BeginParams{
				FileName:   c.fileName,
				TotalSize:  100,
				ChunkSize:  10,
				UploadedBy: "user-1",
			})
			if serr == nil {
				t.Errorf("Begin принял недопустимое имя %q", c.fileName)
			}
		})
	}
}

func TestBegin_RejectsOversizedTotal(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)

	_, serr := svc.Begin(context.Background(), BeginParams{
		FileName:   "big.pdf",
		TotalSize:  100 << 20,
		ChunkSize:  1 << 20,
		UploadedBy: "user-1",
	})
	if serr == nil {
		t.Fatal("Begin принял файл больше лимита")
	}
	if serr.StatusCode != 413 {
		t.Errorf("StatusCode = %d, ожидалось 413", serr.StatusCode)
	}
}

func TestBegin_RejectsChunkCountMismatch(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)

	// 25/10 — три чанка, клиент заявляет пять
	_, serr := svc.Begin(context.Background(), BeginParams{
		FileName:    "archive.pdf",
		TotalSize:   25,
		ChunkSize:   10,
		TotalChunks: 5,
		UploadedBy:  "user-1",
	})
	if serr == nil {
		t.Fatal("Begin принял рассогласованный total_chunks")
	}
	if serr.StatusCode != 400 {
		t.Errorf("StatusCode = %d, ожидалось 400", serr.StatusCode)
	}
}

// beginPDFSession создаёт сессию для сборки PDF-содержимого body.
func beginPDFSession(t *testing.T, svc *SessionService, body []byte, chunkSize int64) *model.UploadSession {
	t.Helper()
	session, serr := svc.Begin(context.Background(), BeginParams{
		FileName:   "assembled.pdf",
		TotalSize:  int64(len(body)),
		ChunkSize:  chunkSize,
		UploadedBy: "user-1",
	})
	if serr != nil {
		t.Fatalf("Begin вернул ошибку: %v", serr)
	}
	return session
}

func TestRecordChunk_OutOfOrderAssembly(t *testing.T) {
	svc, sessionRepo, fileRepo, store := newTestSessionService(t)
	body := []byte("%PDF-1.7 chunked upload body content")
	session := beginPDFSession(t, svc, body, 10)

	// Чанки приходят вразнобой, последний индекс — не последним
	order := make([]int, session.TotalChunks)
	for i := range order {
		order[i] = session.TotalChunks - 1 - i
	}

	var final *ChunkResult
	for _, idx := range order {
		chunk := body[session.ChunkOffset(idx) : session.ChunkOffset(idx)+session.ExpectedChunkSize(idx)]
		result, serr := svc.RecordChunk(context.Background(), session.UploadID, idx, "user-1", bytes.NewReader(chunk))
		if serr != nil {
			t.Fatalf("RecordChunk(%d) вернул ошибку: %v", idx, serr)
		}
		final = result
	}

	if final.Store == nil {
		t.Fatal("после последнего чанка файл должен быть собран")
	}
	record := final.Store.Record
	if record.Size != int64(len(body)) {
		t.Errorf("Size = %d, ожидалось %d", record.Size, len(body))
	}
	if record.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, ожидалось application/pdf", record.ContentType)
	}
	if _, err := fileRepo.GetByID(context.Background(), record.FileID); err != nil {
		t.Errorf("запись не сохранена: %v", err)
	}

	// Имя на диске сохранило расширение исходного имени, путь —
	// по раскладке users/{owner}/{yyyy}/{MM}/{dd}/{uuid}.{ext}
	if filepath.Ext(record.FileName) != ".pdf" {
		t.Errorf("FileName = %q, расширение .pdf потеряно", record.FileName)
	}
	now := time.Now().UTC()
	wantPrefix := fmt.Sprintf("users/user-1/%04d/%02d/%02d/", now.Year(), now.Month(), now.Day())
	if !strings.HasPrefix(record.StoragePath, wantPrefix) {
		t.Errorf("StoragePath %q не начинается с %q", record.StoragePath, wantPrefix)
	}
	if !strings.HasSuffix(record.StoragePath, record.FileName) {
		t.Errorf("StoragePath %q не оканчивается именем файла %q", record.StoragePath, record.FileName)
	}

	// Сессия и part-файл удалены
	if _, err := sessionRepo.Get(context.Background(), session.UploadID); err == nil {
		t.Error("сессия должна быть удалена после сборки")
	}
	if _, err := store.OpenPartFile(session.UploadID); err == nil {
		t.Error("part-файл должен быть удалён после сборки")
	}
}

func TestRecordChunk_DuplicateIsIdempotent(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	body := []byte("%PDF-1.7 duplicate chunk test")
	session := beginPDFSession(t, svc, body, 10)

	chunk := body[:10]
	first, serr := svc.RecordChunk(context.Background(), session.UploadID, 0, "user-1", bytes.NewReader(chunk))
	if serr != nil {
		t.Fatalf("RecordChunk вернул ошибку: %v", serr)
	}
	second, serr := svc.RecordChunk(context.Background(), session.UploadID, 0, "user-1", bytes.NewReader(chunk))
	if serr != nil {
		t.Fatalf("повторный RecordChunk вернул ошибку: %v", serr)
	}

	if first.Session.UploadedChunks != 1 || second.Session.UploadedChunks != 1 {
		t.Errorf("повторный чанк не должен менять счётчик: %d, %d",
			first.Session.UploadedChunks, second.Session.UploadedChunks)
	}
}

func TestRecordChunk_WrongSizeRejected(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	body := []byte("%PDF-1.7 size check body....")
	session := beginPDFSession(t, svc, body, 10)

	_, serr := svc.RecordChunk(context.Background(), session.UploadID, 0, "user-1", bytes.NewReader(body[:7]))
	if serr == nil {
		t.Fatal("чанк неверного размера должен быть отклонён")
	}
	if serr.StatusCode != 400 {
		t.Errorf("StatusCode = %d, ожидалось 400", serr.StatusCode)
	}
}

func TestRecordChunk_IndexOutOfRange(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	body := []byte("%PDF-1.7 bounds")
	session := beginPDFSession(t, svc, body, 10)

	for _, idx := range []int{-1, session.TotalChunks} {
		if _, serr := svc.RecordChunk(context.Background(), session.UploadID, idx, "user-1", bytes.NewReader(body[:10])); serr == nil {
			t.Errorf("индекс %d должен быть отклонён", idx)
		}
	}
}

func TestRecordChunk_ForeignSessionHidden(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	body := []byte("%PDF-1.7 ownership")
	session := beginPDFSession(t, svc, body, 10)

	_, serr := svc.RecordChunk(context.Background(), session.UploadID, 0, "user-2", bytes.NewReader(body[:10]))
	if serr == nil {
		t.Fatal("чужая сессия не должна быть доступна")
	}
	// Существование чужой сессии не раскрывается
	if serr.StatusCode != 404 {
		t.Errorf("StatusCode = %d, ожидалось 404", serr.StatusCode)
	}
}

func TestFinalize_SignatureMismatchRejected(t *testing.T) {
	svc, sessionRepo, _, _ := newTestSessionService(t)
	// Имя .pdf, содержимое — не PDF: сборка должна отклониться
	body := []byte("GIF89a definitely not a pdf..")
	session := beginPDFSession(t, svc, body, 10)

	var lastErr *StoreError
	for idx := 0; idx < session.TotalChunks; idx++ {
		chunk := body[session.ChunkOffset(idx) : session.ChunkOffset(idx)+session.ExpectedChunkSize(idx)]
		_, lastErr = svc.RecordChunk(context.Background(), session.UploadID, idx, "user-1", bytes.NewReader(chunk))
	}

	if lastErr == nil {
		t.Fatal("сборка файла с чужой сигнатурой должна быть отклонена")
	}
	if lastErr.StatusCode != 422 {
		t.Errorf("StatusCode = %d, ожидалось 422", lastErr.StatusCode)
	}

	// Неудачная сборка не оставляет сессию
	if _, err := sessionRepo.Get(context.Background(), session.UploadID); err == nil {
		t.Error("сессия должна быть удалена после неудачной сборки")
	}
}

func TestCleanupStale(t *testing.T) {
	svc, sessionRepo, _, store := newTestSessionService(t)
	body := []byte("%PDF-1.7 stale session")

	stale := beginPDFSession(t, svc, body, 10)
	if _, serr := svc.RecordChunk(context.Background(), stale.UploadID, 0, "user-1", bytes.NewReader(body[:10])); serr != nil {
		t.Fatalf("RecordChunk вернул ошибку: %v", serr)
	}

	fresh := beginPDFSession(t, svc, body, 10)

	// Старим первую сессию
	sessionRepo.mu.Lock()
	sessionRepo.sessions[stale.UploadID].UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	sessionRepo.mu.Unlock()

	removed, err := svc.CleanupStale(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupStale вернул ошибку: %v", err)
	}
	if removed != 1 {
		t.Errorf("удалено %d сессий, ожидалась 1", removed)
	}

	if _, err := sessionRepo.Get(context.Background(), stale.UploadID); err == nil {
		t.Error("устаревшая сессия должна быть удалена")
	}
	if _, err := store.OpenPartFile(stale.UploadID); err == nil {
		t.Error("part-файл устаревшей сессии должен быть удалён")
	}
	if _, err := sessionRepo.Get(context.Background(), fresh.UploadID); err != nil {
		t.Error("свежая сессия не должна удаляться")
	}
}

func TestCleanupService_RunOnce(t *testing.T) {
	svc, sessionRepo, _, _ := newTestSessionService(t)
	body := []byte("%PDF-1.7 gc run once")

	stale := beginPDFSession(t, svc, body, 10)
	sessionRepo.mu.Lock()
	sessionRepo.sessions[stale.UploadID].UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	sessionRepo.mu.Unlock()

	cleanup := NewCleanupService(svc, 24*time.Hour, time.Hour, testLogger())
	result := cleanup.RunOnce(context.Background())

	if result.RemovedCount != 1 {
		t.Errorf("RemovedCount = %d, ожидалось 1", result.RemovedCount)
	}
}
