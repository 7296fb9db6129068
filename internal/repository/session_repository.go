// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ragchat/internal/model"
)

// ErrNotFound 记录不存在或不属于调用者时返回。
var ErrNotFound = errors.New("record not found")

// SessionRepository 定义了会话的持久化操作，所有查询都按所有者限定。
type SessionRepository interface {
	Create(ctx context.Context, session *model.ChatSession) error
	// ListByUser 按创建时间倒序返回摘要
	ListByUser(ctx context.Context, userID string) ([]model.SessionSummary, error)
	FindOwned(ctx context.Context, id primitive.ObjectID, userID string) (*model.ChatSession, error)
	// AppendMessages 以一次原子更新追加消息
	AppendMessages(ctx context.Context, id primitive.ObjectID, userID string, messages ...model.Message) error
	Delete(ctx context.Context, id primitive.ObjectID, userID string) error
}

// SessionCollection 保存 ChatSession 文档的 Mongo 集合
const SessionCollection = "chat_sessions"

type mongoSessionRepository struct {
	col *mongo.Collection
}

// NewSessionRepository 创建基于 Mongo 的 SessionRepository。
func NewSessionRepository(db *mongo.Database) SessionRepository {
	return &mongoSessionRepository{col: db.Collection(SessionCollection)}
}

// EnsureSessionIndexes 创建按所有者列表查询的索引。
func EnsureSessionIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(SessionCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("idx_user_created"),
	})
	if err != nil {
		return fmt.Errorf("create session indexes: %w", err)
	}
	return nil
}

func (r *mongoSessionRepository) Create(ctx context.Context, session *model.ChatSession) error {
	if session.ID.IsZero() {
		session.ID = primitive.NewObjectID()
	}
	if session.Messages == nil {
		session.Messages = []model.Message{}
	}
	if _, err := r.col.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *mongoSessionRepository) ListByUser(ctx context.Context, userID string) ([]model.SessionSummary, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetProjection(bson.M{"_id": 1, "title": 1, "createdAt": 1})
	cur, err := r.col.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find sessions: %w", err)
	}
	out := []model.SessionSummary{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return out, nil
}

func (r *mongoSessionRepository) FindOwned(ctx context.Context, id primitive.ObjectID, userID string) (*model.ChatSession, error) {
	var s model.ChatSession
	err := r.col.FindOne(ctx, bson.M{"_id": id, "userId": userID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &s, nil
}

func (r *mongoSessionRepository) AppendMessages(ctx context.Context, id primitive.ObjectID, userID string, messages ...model.Message) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "userId": userID},
		bson.M{
			"$push": bson.M{"messages": bson.M{"$each": messages}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoSessionRepository) Delete(ctx context.Context, id primitive.ObjectID, userID string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id, "userId": userID})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
