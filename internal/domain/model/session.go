// session.go — модель сессии чанковой загрузки.
package model

import "time"

// UploadSession — запись о прогрессе многочастной загрузки.
// Создаётся при начале сессии, счётчик чанков обновляется по мере
// поступления. Сборка чанков в файл — отдельная ответственность
// (service.SessionTracker), сессия хранит только учёт.
type UploadSession struct {
	// UploadID — непрозрачный токен сессии (UUID v4)
	UploadID string `json:"upload_id"`

	// UploadedBy — владелец сессии (sub из JWT)
	UploadedBy string `json:"uploaded_by"`

	// FileName — имя будущего файла (недоверенное, проверяется валидатором)
	FileName string `json:"file_name"`

	// TotalSize — ожидаемый суммарный размер в байтах
	TotalSize int64 `json:"total_size"`

	// ChunkSize — размер чанка в байтах. Все чанки кроме последнего
	// имеют ровно этот размер; смещение чанка i = i*ChunkSize.
	ChunkSize int64 `json:"chunk_size"`

	// TotalChunks — ожидаемое количество чанков
	TotalChunks int `json:"total_chunks"`

	// UploadedChunks — количество принятых уникальных чанков
	UploadedChunks int `json:"uploaded_chunks"`

	// IsCompleted — все чанки приняты (терминальное состояние)
	IsCompleted bool `json:"is_completed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkOffset возвращает смещение чанка в собираемом файле.
func (s *UploadSession) ChunkOffset(index int) int64 {
	return int64(index) * s.ChunkSize
}

// ExpectedChunkSize возвращает ожидаемый размер чанка с данным индексом.
// Последний чанк может быть короче ChunkSize.
func (s *UploadSession) ExpectedChunkSize(index int) int64 {
	if index == s.TotalChunks-1 {
		last := s.TotalSize - int64(s.TotalChunks-1)*s.ChunkSize
		return last
	}
	return s.ChunkSize
}
