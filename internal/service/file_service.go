package service

import (
	"context"
	"errors"
	"os"
	"strings"

	"ragchat/internal/apperr"
	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/pkg/log"
	"ragchat/pkg/tasks"
	"ragchat/pkg/vectorstore"
)

// Ingester 对单个上传文件执行入库流程。
type Ingester interface {
	Process(ctx context.Context, task tasks.IngestTask) (int, error)
}

// RemoveReport 记录文件删除时各存储的清理结果。
type RemoveReport struct {
	VectorDeleted bool `json:"vectorDeleted"`
	RecordDeleted bool `json:"recordDeleted"`
	ObjectDeleted bool `json:"objectDeleted"`
}

// FileService 处理会话内上传的文档。
type FileService interface {
	// Upload 将 tempPath 处的文件导入调用者拥有的会话，临时文件总会被删除。
	Upload(ctx context.Context, task tasks.IngestTask) (int, error)
	List(ctx context.Context, userID, sessionID string) ([]model.UploadedFile, error)
	Remove(ctx context.Context, userID, sessionID, fileName string) (*RemoveReport, error)
}

type fileService struct {
	sessions repository.SessionRepository
	files    repository.FileRepository
	store    vectorstore.Store
	objects  ObjectRemover
	queue    CleanupQueue
	ingester Ingester
}

// NewFileService 创建一个 FileService，objects 和 queue 可以为 nil。
func NewFileService(
	sessions repository.SessionRepository,
	files repository.FileRepository,
	store vectorstore.Store,
	objects ObjectRemover,
	queue CleanupQueue,
	ingester Ingester,
) FileService {
	return &fileService{sessions: sessions, files: files, store: store, objects: objects, queue: queue, ingester: ingester}
}

func (s *fileService) Upload(ctx context.Context, task tasks.IngestTask) (int, error) {
	const op = "service.Upload"
	oid, ok := model.ParseSessionID(task.SessionID)
	if !ok {
		discard(task.TempPath)
		return 0, apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
	}
	if _, err := s.sessions.FindOwned(ctx, oid, task.UserID); err != nil {
		discard(task.TempPath)
		if errors.Is(err, repository.ErrNotFound) {
			return 0, apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
		}
		return 0, apperr.E(apperr.CodeInternal, op, "failed to load chat session", err)
	}
	return s.ingester.Process(ctx, task)
}

func (s *fileService) List(ctx context.Context, userID, sessionID string) ([]model.UploadedFile, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperr.E(apperr.CodeInvalidRequest, "service.ListFiles", "sessionId is required", nil)
	}
	files, err := s.files.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, "service.ListFiles", "failed to fetch files", err)
	}
	return files, nil
}

func (s *fileService) Remove(ctx context.Context, userID, sessionID, fileName string) (*RemoveReport, error) {
	const op = "service.RemoveFile"
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(fileName) == "" {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, "fileName and sessionId are required", nil)
	}

	report := &RemoveReport{}
	var vecErr, recErr error

	filter := vectorstore.Filter{UserID: userID, SessionID: sessionID, FileName: fileName}
	if vecErr = s.store.Delete(ctx, filter); vecErr != nil {
		log.Errorf("[Files] vector removal failed, file=%s: %v", fileName, vecErr)
	} else {
		report.VectorDeleted = true
	}

	n, recErr := s.files.DeleteByName(ctx, userID, sessionID, fileName)
	if recErr != nil {
		log.Errorf("[Files] record removal failed, file=%s: %v", fileName, recErr)
	} else {
		report.RecordDeleted = n > 0
	}

	// 即使文件记录已不存在，残留向量也要进入重试
	if vecErr != nil {
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageVectors, UserID: userID, SessionID: sessionID, FileName: fileName})
	}
	if vecErr != nil && recErr != nil {
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageFiles, UserID: userID, SessionID: sessionID, FileName: fileName})
		return nil, apperr.E(apperr.CodeProviderUnavailable, op, "failed to remove file", errors.Join(vecErr, recErr))
	}
	if recErr == nil && n == 0 {
		return nil, apperr.E(apperr.CodeNotFound, op, "file not found", nil)
	}

	if s.objects == nil {
		report.ObjectDeleted = true
	} else if err := s.objects.Remove(ctx, model.ObjectKey(userID, sessionID, fileName)); err != nil {
		log.Errorf("[Files] object removal failed, file=%s: %v", fileName, err)
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageObjects, UserID: userID, SessionID: sessionID, FileName: fileName})
	} else {
		report.ObjectDeleted = true
	}

	if recErr != nil {
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageFiles, UserID: userID, SessionID: sessionID, FileName: fileName})
	}
	return report, nil
}

func discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("[Files] failed to remove temp file %s: %v", path, err)
	}
}
