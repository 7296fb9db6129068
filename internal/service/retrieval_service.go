// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"

	"ragchat/internal/apperr"
	"ragchat/internal/model"
	"ragchat/pkg/embedding"
	"ragchat/pkg/log"
	"ragchat/pkg/vectorstore"
)

// RetrievalService 在会话中查找与问题最相关的分块。
type RetrievalService interface {
	Retrieve(ctx context.Context, query, userID, sessionID string) ([]model.Snippet, error)
}

type retrievalService struct {
	embedder embedding.Client
	store    vectorstore.Store
	topK     int
}

// NewRetrievalService 创建一个最多返回 topK 个片段的 RetrievalService。
func NewRetrievalService(embedder embedding.Client, store vectorstore.Store, topK int) RetrievalService {
	return &retrievalService{embedder: embedder, store: store, topK: topK}
}

// Retrieve 将 query 向量化后在 (userID, sessionID) 范围内检索，按相关度降序返回，无结果时返回空切片。
func (s *retrievalService) Retrieve(ctx context.Context, query, userID, sessionID string) ([]model.Snippet, error) {
	const op = "service.Retrieve"
	vec, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[Retrieval] embedding query failed: %v", err)
		return nil, apperr.E(apperr.CodeProviderUnavailable, op, "embedding failed", err)
	}
	matches, err := s.store.Search(ctx, vec, vectorstore.Filter{UserID: userID, SessionID: sessionID}, s.topK)
	if err != nil {
		log.Errorf("[Retrieval] search failed, session=%s: %v", sessionID, err)
		return nil, apperr.E(apperr.CodeProviderUnavailable, op, "vector search failed", err)
	}

	snippets := make([]model.Snippet, 0, len(matches))
	for _, m := range matches {
		if m.Payload.Text == "" {
			continue
		}
		snippets = append(snippets, model.Snippet{Text: m.Payload.Text, FileName: m.Payload.FileName, Score: m.Score})
	}
	log.Debugf("[Retrieval] session=%s hits=%d", sessionID, len(snippets))
	return snippets, nil
}
