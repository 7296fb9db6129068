package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"ragchat/internal/model"
)

// FileRepository 定义了 UploadedFile 记录的持久化操作，删除操作返回删除的行数。
type FileRepository interface {
	Create(ctx context.Context, file *model.UploadedFile) error
	ListBySession(ctx context.Context, userID, sessionID string) ([]model.UploadedFile, error)
	DeleteBySession(ctx context.Context, userID, sessionID string) (int64, error)
	DeleteByName(ctx context.Context, userID, sessionID, fileName string) (int64, error)
}

type gormFileRepository struct {
	db *gorm.DB
}

// NewFileRepository 创建基于 GORM 的 FileRepository。
func NewFileRepository(db *gorm.DB) FileRepository {
	return &gormFileRepository{db: db}
}

func (r *gormFileRepository) Create(ctx context.Context, file *model.UploadedFile) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("create uploaded file: %w", err)
	}
	return nil
}

func (r *gormFileRepository) ListBySession(ctx context.Context, userID, sessionID string) ([]model.UploadedFile, error) {
	files := []model.UploadedFile{}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("uploaded_at asc, id asc").
		Find(&files).Error
	if err != nil {
		return nil, fmt.Errorf("list uploaded files: %w", err)
	}
	return files, nil
}

func (r *gormFileRepository) DeleteBySession(ctx context.Context, userID, sessionID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Delete(&model.UploadedFile{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete uploaded files: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *gormFileRepository) DeleteByName(ctx context.Context, userID, sessionID, fileName string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ? AND file_name = ?", userID, sessionID, fileName).
		Delete(&model.UploadedFile{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete uploaded file: %w", res.Error)
	}
	return res.RowsAffected, nil
}
