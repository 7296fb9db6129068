package service

import (
	"context"
	"fmt"

	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/pkg/log"
	"ragchat/pkg/tasks"
	"ragchat/pkg/vectorstore"
)

// CleanupService 重放会话删除或文件删除中失败的清理步骤。
type CleanupService struct {
	files   repository.FileRepository
	store   vectorstore.Store
	objects ObjectRemover
}

// NewCleanupService 创建一个 CleanupService，objects 可以为 nil。
func NewCleanupService(files repository.FileRepository, store vectorstore.Store, objects ObjectRemover) *CleanupService {
	return &CleanupService{files: files, store: store, objects: objects}
}

// Process 执行一个清理步骤，每个步骤都是幂等的。
func (s *CleanupService) Process(ctx context.Context, task tasks.CleanupTask) error {
	log.Infof("[Cleanup] retrying %s", task.Key())
	switch task.Stage {
	case tasks.StageVectors:
		return s.store.Delete(ctx, vectorstore.Filter{UserID: task.UserID, SessionID: task.SessionID, FileName: task.FileName})
	case tasks.StageFiles:
		var err error
		if task.FileName != "" {
			_, err = s.files.DeleteByName(ctx, task.UserID, task.SessionID, task.FileName)
		} else {
			_, err = s.files.DeleteBySession(ctx, task.UserID, task.SessionID)
		}
		return err
	case tasks.StageObjects:
		if s.objects == nil {
			return nil
		}
		if task.FileName != "" {
			return s.objects.Remove(ctx, model.ObjectKey(task.UserID, task.SessionID, task.FileName))
		}
		_, err := s.objects.RemovePrefix(ctx, model.SessionObjectPrefix(task.UserID, task.SessionID))
		return err
	default:
		return fmt.Errorf("unknown cleanup stage %q", task.Stage)
	}
}
