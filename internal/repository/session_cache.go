package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ragchat/internal/model"
)

// CacheSessionRepository 将会话保存在进程内存中，未配置 Mongo URI 时使用。
type CacheSessionRepository struct {
	mu    sync.Mutex
	cache *cache.Cache
}

// NewCacheSessionRepository 创建一个空的内存存储，会话不会过期。
func NewCacheSessionRepository() *CacheSessionRepository {
	return &CacheSessionRepository{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (r *CacheSessionRepository) Create(_ context.Context, session *model.ChatSession) error {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	if session.Messages == nil {
		session.Messages = []model.Message{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Set(session.ID.Hex(), clone(session), cache.NoExpiration)
	return nil
}

func (r *CacheSessionRepository) ListByUser(_ context.Context, userID string) ([]model.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.SessionSummary{}
	for _, item := range r.cache.Items() {
		s := item.Object.(*model.ChatSession)
		if s.UserID == userID {
			out = append(out, model.SessionSummary{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *CacheSessionRepository) FindOwned(_ context.Context, id primitive.ObjectID, userID string) (*model.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.get(id, userID)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (r *CacheSessionRepository) AppendMessages(_ context.Context, id primitive.ObjectID, userID string, messages ...model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.get(id, userID)
	if !ok {
		return ErrNotFound
	}
	s.Messages = append(s.Messages, messages...)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CacheSessionRepository) Delete(_ context.Context, id primitive.ObjectID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.get(id, userID); !ok {
		return ErrNotFound
	}
	r.cache.Delete(id.Hex())
	return nil
}

func (r *CacheSessionRepository) get(id primitive.ObjectID, userID string) (*model.ChatSession, bool) {
	x, found := r.cache.Get(id.Hex())
	if !found {
		return nil, false
	}
	s := x.(*model.ChatSession)
	if s.UserID != userID {
		return nil, false
	}
	return s, true
}

func clone(s *model.ChatSession) *model.ChatSession {
	c := *s
	c.Messages = append([]model.Message(nil), s.Messages...)
	if c.Messages == nil {
		c.Messages = []model.Message{}
	}
	return &c
}
