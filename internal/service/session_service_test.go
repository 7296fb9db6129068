package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/apperr"
	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/pkg/tasks"
	"ragchat/pkg/vectorstore"
)

const testDim = 2

type recordingQueue struct {
	mu    sync.Mutex
	tasks []tasks.CleanupTask
}

func (q *recordingQueue) Enqueue(_ context.Context, task tasks.CleanupTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) stages() []tasks.CleanupStage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]tasks.CleanupStage, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Stage)
	}
	return out
}

type fakeObjects struct {
	err      error
	removed  []string
	prefixes []string
}

func (o *fakeObjects) Remove(_ context.Context, key string) error {
	if o.err != nil {
		return o.err
	}
	o.removed = append(o.removed, key)
	return nil
}

func (o *fakeObjects) RemovePrefix(_ context.Context, prefix string) (int, error) {
	if o.err != nil {
		return 0, o.err
	}
	o.prefixes = append(o.prefixes, prefix)
	return 1, nil
}

type unreachableStore struct {
	vectorstore.Store
}

func (unreachableStore) Delete(context.Context, vectorstore.Filter) error {
	return errors.New("qdrant: connection refused")
}

func seedFile(t *testing.T, store vectorstore.Store, files repository.FileRepository, userID, sessionID, name string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, []vectorstore.Point{{
		ID:      userID + sessionID + name,
		Vector:  []float32{1, 0},
		Payload: vectorstore.Payload{UserID: userID, SessionID: sessionID, FileName: name, Text: "text of " + name},
	}}))
	require.NoError(t, files.Create(ctx, &model.UploadedFile{UserID: userID, SessionID: sessionID, FileName: name, UploadedAt: time.Now()}))
}

func TestSessionCreateNormalizesTitle(t *testing.T) {
	svc := NewSessionService(repository.NewCacheSessionRepository(), repository.NewMemoryFileRepository(), vectorstore.NewMemory(testDim), nil, nil)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "   ")
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, s.Title)

	long, err := svc.Create(ctx, "u1", "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz")
	require.NoError(t, err)
	assert.Len(t, []rune(long.Title), model.MaxTitleRunes)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSessionDeleteClearsEveryStore(t *testing.T) {
	sessions := repository.NewCacheSessionRepository()
	files := repository.NewMemoryFileRepository()
	store := vectorstore.NewMemory(testDim)
	objects := &fakeObjects{}
	queue := &recordingQueue{}
	svc := NewSessionService(sessions, files, store, objects, queue)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "docs")
	require.NoError(t, err)
	id := s.ID.Hex()
	seedFile(t, store, files, "u1", id, "a.txt")
	seedFile(t, store, files, "u1", "other-session", "b.txt")

	report, err := svc.Delete(ctx, "u1", id)
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.Empty(t, queue.stages())
	assert.Equal(t, []string{model.SessionObjectPrefix("u1", id)}, objects.prefixes)

	assert.Equal(t, 1, store.Len(), "other sessions are untouched")
	left, err := files.ListBySession(ctx, "u1", id)
	require.NoError(t, err)
	assert.Empty(t, left)

	_, err = svc.Get(ctx, "u1", id)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestSessionDeleteQueuesFailedStages(t *testing.T) {
	sessions := repository.NewCacheSessionRepository()
	files := repository.NewMemoryFileRepository()
	objects := &fakeObjects{err: errors.New("minio: 503")}
	queue := &recordingQueue{}
	svc := NewSessionService(sessions, files, unreachableStore{vectorstore.NewMemory(testDim)}, objects, queue)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", "docs")
	require.NoError(t, err)

	report, err := svc.Delete(ctx, "u1", s.ID.Hex())
	require.NoError(t, err)
	assert.False(t, report.VectorDeleted)
	assert.True(t, report.RecordDeleted)
	assert.False(t, report.ObjectsDeleted)
	assert.False(t, report.Complete())
	assert.Equal(t, []tasks.CleanupStage{tasks.StageVectors, tasks.StageObjects}, queue.stages())

	_, err = svc.Get(ctx, "u1", s.ID.Hex())
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound), "the session record is removed regardless")
}

func TestSessionDeleteUnknownOrForeign(t *testing.T) {
	sessions := repository.NewCacheSessionRepository()
	svc := NewSessionService(sessions, repository.NewMemoryFileRepository(), vectorstore.NewMemory(testDim), nil, nil)
	ctx := context.Background()

	_, err := svc.Delete(ctx, "u1", "not-hex")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	s, err := svc.Create(ctx, "u2", "theirs")
	require.NoError(t, err)
	_, err = svc.Delete(ctx, "u1", s.ID.Hex())
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

	_, err = svc.Get(ctx, "u2", s.ID.Hex())
	assert.NoError(t, err)
}

func TestFileRemoveQueuesObjectCleanup(t *testing.T) {
	sessions := repository.NewCacheSessionRepository()
	files := repository.NewMemoryFileRepository()
	store := vectorstore.NewMemory(testDim)
	objects := &fakeObjects{err: errors.New("minio: 503")}
	queue := &recordingQueue{}
	svc := NewFileService(sessions, files, store, objects, queue, nil)
	ctx := context.Background()
	seedFile(t, store, files, "u1", "s1", "a.txt")

	report, err := svc.Remove(ctx, "u1", "s1", "a.txt")
	require.NoError(t, err)
	assert.True(t, report.VectorDeleted)
	assert.True(t, report.RecordDeleted)
	assert.False(t, report.ObjectDeleted)
	assert.Equal(t, []tasks.CleanupStage{tasks.StageObjects}, queue.stages())
	assert.Zero(t, store.Len())

	_, err = svc.Remove(ctx, "u1", "s1", "a.txt")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}

func TestCleanupServiceReplaysStages(t *testing.T) {
	files := repository.NewMemoryFileRepository()
	store := vectorstore.NewMemory(testDim)
	objects := &fakeObjects{}
	svc := NewCleanupService(files, store, objects)
	ctx := context.Background()
	seedFile(t, store, files, "u1", "s1", "a.txt")
	seedFile(t, store, files, "u1", "s1", "b.txt")

	require.NoError(t, svc.Process(ctx, tasks.CleanupTask{Stage: tasks.StageVectors, UserID: "u1", SessionID: "s1", FileName: "a.txt"}))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, svc.Process(ctx, tasks.CleanupTask{Stage: tasks.StageFiles, UserID: "u1", SessionID: "s1"}))
	left, err := files.ListBySession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, left)

	require.NoError(t, svc.Process(ctx, tasks.CleanupTask{Stage: tasks.StageObjects, UserID: "u1", SessionID: "s1", FileName: "b.txt"}))
	assert.Equal(t, []string{model.ObjectKey("u1", "s1", "b.txt")}, objects.removed)

	assert.Error(t, svc.Process(ctx, tasks.CleanupTask{Stage: "bogus", UserID: "u1", SessionID: "s1"}))
}

func TestFileRemoveUnknownStillQueuesVectorRetry(t *testing.T) {
	queue := &recordingQueue{}
	svc := NewFileService(repository.NewCacheSessionRepository(), repository.NewMemoryFileRepository(),
		unreachableStore{vectorstore.NewMemory(testDim)}, &fakeObjects{}, queue, nil)

	_, err := svc.Remove(context.Background(), "u1", "s1", "ghost.txt")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	assert.Equal(t, []tasks.CleanupStage{tasks.StageVectors}, queue.stages())
}
