package repository

import (
	"context"
	"sync"

	"ragchat/internal/model"
)

// MemoryFileRepository 将文件记录保存在切片中，未配置 MySQL DSN 时使用。
type MemoryFileRepository struct {
	mu     sync.Mutex
	nextID uint
	files  []model.UploadedFile
}

// NewMemoryFileRepository 创建一个空存储。
func NewMemoryFileRepository() *MemoryFileRepository {
	return &MemoryFileRepository{}
}

func (r *MemoryFileRepository) Create(_ context.Context, file *model.UploadedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	file.ID = r.nextID
	r.files = append(r.files, *file)
	return nil
}

func (r *MemoryFileRepository) ListBySession(_ context.Context, userID, sessionID string) ([]model.UploadedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.UploadedFile{}
	for _, f := range r.files {
		if f.UserID == userID && f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *MemoryFileRepository) DeleteBySession(_ context.Context, userID, sessionID string) (int64, error) {
	return r.remove(func(f model.UploadedFile) bool {
		return f.UserID == userID && f.SessionID == sessionID
	}), nil
}

func (r *MemoryFileRepository) DeleteByName(_ context.Context, userID, sessionID, fileName string) (int64, error) {
	return r.remove(func(f model.UploadedFile) bool {
		return f.UserID == userID && f.SessionID == sessionID && f.FileName == fileName
	}), nil
}

func (r *MemoryFileRepository) remove(match func(model.UploadedFile) bool) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.files[:0]
	var n int64
	for _, f := range r.files {
		if match(f) {
			n++
			continue
		}
		kept = append(kept, f)
	}
	r.files = kept
	return n
}
