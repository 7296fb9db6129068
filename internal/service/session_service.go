package service

import (
	"context"
	"errors"
	"time"

	"ragchat/internal/apperr"
	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/pkg/log"
	"ragchat/pkg/tasks"
	"ragchat/pkg/vectorstore"
)

// ObjectRemover 删除已归档的上传文件。
type ObjectRemover interface {
	Remove(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

// CleanupQueue 接收失败的清理步骤以便稍后重试。
type CleanupQueue interface {
	Enqueue(ctx context.Context, task tasks.CleanupTask) error
}

// DeleteReport 记录会话删除时各存储的清理结果。
type DeleteReport struct {
	VectorDeleted  bool `json:"vectorDeleted"`
	RecordDeleted  bool `json:"recordDeleted"`
	ObjectsDeleted bool `json:"objectsDeleted"`
}

// Complete 判断是否所有存储都已清理。
func (r DeleteReport) Complete() bool {
	return r.VectorDeleted && r.RecordDeleted && r.ObjectsDeleted
}

// SessionService 管理聊天会话的生命周期。
type SessionService interface {
	Create(ctx context.Context, userID, title string) (*model.ChatSession, error)
	List(ctx context.Context, userID string) ([]model.SessionSummary, error)
	Get(ctx context.Context, userID, sessionID string) (*model.ChatSession, error)
	// Delete 清理向量、文件记录和归档对象，然后删除会话。
	// 失败的清理步骤进入重试队列，不阻塞会话删除。
	Delete(ctx context.Context, userID, sessionID string) (*DeleteReport, error)
}

type sessionService struct {
	sessions repository.SessionRepository
	files    repository.FileRepository
	store    vectorstore.Store
	objects  ObjectRemover
	queue    CleanupQueue
}

// NewSessionService 创建一个 SessionService，objects 和 queue 可以为 nil。
func NewSessionService(
	sessions repository.SessionRepository,
	files repository.FileRepository,
	store vectorstore.Store,
	objects ObjectRemover,
	queue CleanupQueue,
) SessionService {
	return &sessionService{sessions: sessions, files: files, store: store, objects: objects, queue: queue}
}

func (s *sessionService) Create(ctx context.Context, userID, title string) (*model.ChatSession, error) {
	now := time.Now().UTC()
	session := &model.ChatSession{
		UserID:    userID,
		Title:     model.NormalizeTitle(title),
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperr.E(apperr.CodeInternal, "service.CreateSession", "failed to create chat session", err)
	}
	log.Infof("[Session] created %s for user %s", session.ID.Hex(), userID)
	return session, nil
}

func (s *sessionService) List(ctx context.Context, userID string) ([]model.SessionSummary, error) {
	list, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, "service.ListSessions", "failed to fetch chat history", err)
	}
	return list, nil
}

func (s *sessionService) Get(ctx context.Context, userID, sessionID string) (*model.ChatSession, error) {
	const op = "service.GetSession"
	oid, ok := model.ParseSessionID(sessionID)
	if !ok {
		return nil, apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
	}
	session, err := s.sessions.FindOwned(ctx, oid, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
	}
	if err != nil {
		return nil, apperr.E(apperr.CodeInternal, op, "failed to fetch chat session", err)
	}
	return session, nil
}

func (s *sessionService) Delete(ctx context.Context, userID, sessionID string) (*DeleteReport, error) {
	const op = "service.DeleteSession"
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	report := &DeleteReport{}

	if err := s.store.Delete(ctx, vectorstore.Filter{UserID: userID, SessionID: sessionID}); err != nil {
		log.Errorf("[Session] vector cleanup failed, session=%s: %v", sessionID, err)
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageVectors, UserID: userID, SessionID: sessionID})
	} else {
		report.VectorDeleted = true
	}

	if _, err := s.files.DeleteBySession(ctx, userID, sessionID); err != nil {
		log.Errorf("[Session] file record cleanup failed, session=%s: %v", sessionID, err)
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageFiles, UserID: userID, SessionID: sessionID})
	} else {
		report.RecordDeleted = true
	}

	if s.objects == nil {
		report.ObjectsDeleted = true
	} else if n, err := s.objects.RemovePrefix(ctx, model.SessionObjectPrefix(userID, sessionID)); err != nil {
		log.Errorf("[Session] object cleanup failed, session=%s: %v", sessionID, err)
		enqueueCleanup(ctx, s.queue, tasks.CleanupTask{Stage: tasks.StageObjects, UserID: userID, SessionID: sessionID})
	} else {
		report.ObjectsDeleted = true
		log.Debugf("[Session] removed %d archived objects, session=%s", n, sessionID)
	}

	if err := s.sessions.Delete(ctx, session.ID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
		}
		return nil, apperr.E(apperr.CodeInternal, op, "failed to delete chat session", err)
	}

	log.Infow("[Session] deleted", "session", sessionID, "user", userID,
		"vectors", report.VectorDeleted, "records", report.RecordDeleted, "objects", report.ObjectsDeleted)
	return report, nil
}

func enqueueCleanup(ctx context.Context, queue CleanupQueue, task tasks.CleanupTask) {
	if queue == nil {
		log.Warnf("[Cleanup] no queue configured, dropping retry of %s", task.Key())
		return
	}
	if err := queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		log.Errorf("[Cleanup] failed to queue %s: %v", task.Key(), err)
		return
	}
	log.Infof("[Cleanup] queued retry of %s", task.Key())
}
