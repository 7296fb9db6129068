// Package pipeline 将上传的文件处理为可检索的向量分块。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ragchat/internal/apperr"
	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/pkg/embedding"
	"ragchat/pkg/extract"
	"ragchat/pkg/log"
	"ragchat/pkg/tasks"
	"ragchat/pkg/vectorstore"
)

// Archiver 保存上传文件的副本。
type Archiver interface {
	PutFile(ctx context.Context, key, path, contentType string) error
	Remove(ctx context.Context, key string) error
}

// Processor 对单个文件执行提取、分块、向量化、写入索引和记录。
type Processor struct {
	embedder     embedding.Client
	store        vectorstore.Store
	files        repository.FileRepository
	archive      Archiver
	extractor    extract.Extractor
	chunkSize    int
	chunkOverlap int
}

// NewProcessor 创建一个 Processor，archive 可以为 nil。
func NewProcessor(
	embedder embedding.Client,
	store vectorstore.Store,
	files repository.FileRepository,
	archive Archiver,
	chunkSize, chunkOverlap int,
) *Processor {
	return &Processor{
		embedder:     embedder,
		store:        store,
		files:        files,
		archive:      archive,
		extractor:    extract.Local{},
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// SetExtractor 替换内置的文本提取器。
func (p *Processor) SetExtractor(e extract.Extractor) {
	p.extractor = e
}

// Process 处理一个入库任务并返回写入的分块数。任何路径下都会删除临时文件。
// 所有分块向量化完成之前不会写入任何存储。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) (int, error) {
	const op = "pipeline.Process"
	defer func() {
		if err := os.Remove(task.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[Processor] failed to remove temp file %s: %v", task.TempPath, err)
		}
	}()

	log.Infof("[Processor] start, file=%s user=%s session=%s", task.FileName, task.UserID, task.SessionID)

	// 1. 提取文本
	if !extract.Supported(task.MimeType) {
		return 0, apperr.E(apperr.CodeUnsupportedFileType, op, "only text/plain and application/pdf files are supported", nil)
	}
	text, err := p.extractor.Extract(ctx, task.TempPath, task.MimeType)
	if err != nil {
		log.Errorf("[Processor] extract failed, file=%s: %v", task.FileName, err)
		return 0, apperr.E(apperr.CodeInvalidRequest, op, "could not read the uploaded document", err)
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] document '%s' has no text", task.FileName)
		return 0, apperr.E(apperr.CodeEmptyDocument, op, "the uploaded document contains no text", nil)
	}
	log.Infof("[Processor] extracted %d runes", utf8.RuneCountInString(text))

	// 2. 分块
	chunks := SplitText(text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return 0, apperr.E(apperr.CodeNoChunksGenerated, op, "no chunks could be generated from the document", nil)
	}
	log.Infof("[Processor] split into %d chunks, size=%d overlap=%d", len(chunks), p.chunkSize, p.chunkOverlap)

	// 3. 先完成全部向量化，再写入存储
	uploadedAt := time.Now().UTC()
	points := make([]vectorstore.Point, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := p.embedder.CreateEmbedding(ctx, chunk)
		if err != nil {
			log.Errorf("[Processor] embedding chunk %d/%d failed: %v", i+1, len(chunks), err)
			return 0, apperr.E(apperr.CodeProviderUnavailable, op, "embedding failed", err)
		}
		points = append(points, vectorstore.Point{
			ID:     uuid.NewString(),
			Vector: vec,
			Payload: vectorstore.Payload{
				UserID:     task.UserID,
				SessionID:  task.SessionID,
				FileName:   task.FileName,
				UploadedAt: uploadedAt.Format(time.RFC3339),
				Text:       chunk,
			},
		})
	}

	// 同名文件重新上传时替换旧版本
	fileFilter := vectorstore.Filter{UserID: task.UserID, SessionID: task.SessionID, FileName: task.FileName}
	if err := p.store.Delete(ctx, fileFilter); err != nil {
		log.Warnf("[Processor] clearing previous vectors of '%s' failed: %v", task.FileName, err)
	}
	replaced, err := p.files.DeleteByName(ctx, task.UserID, task.SessionID, task.FileName)
	if err != nil {
		log.Warnf("[Processor] clearing previous record of '%s' failed: %v", task.FileName, err)
	}
	if replaced > 0 && p.archive != nil {
		key := model.ObjectKey(task.UserID, task.SessionID, task.FileName)
		if err := p.archive.Remove(ctx, key); err != nil {
			log.Warnf("[Processor] clearing previous object '%s' failed: %v", key, err)
		}
	}

	// 4. 写入向量索引
	if err := p.store.Upsert(ctx, points); err != nil {
		log.Errorf("[Processor] upsert of %d points failed: %v", len(points), err)
		return 0, apperr.E(apperr.CodeProviderUnavailable, op, "vector index write failed", err)
	}

	// 归档失败不影响入库
	var objectKey string
	if p.archive != nil {
		key := model.ObjectKey(task.UserID, task.SessionID, task.FileName)
		if err := p.archive.PutFile(ctx, key, task.TempPath, extract.MediaType(task.MimeType)); err != nil {
			log.Warnf("[Processor] archiving '%s' failed: %v", key, err)
		} else {
			objectKey = key
		}
	}

	// 5. 记录文件
	record := &model.UploadedFile{
		UserID:     task.UserID,
		SessionID:  task.SessionID,
		FileName:   task.FileName,
		MimeType:   extract.MediaType(task.MimeType),
		ObjectKey:  objectKey,
		ChunkCount: len(chunks),
		UploadedAt: uploadedAt,
	}
	if err := p.files.Create(ctx, record); err != nil {
		log.Errorf("[Processor] recording '%s' failed, removing its vectors: %v", task.FileName, err)
		if derr := p.store.Delete(context.WithoutCancel(ctx), fileFilter); derr != nil {
			log.Errorf("[Processor] compensation delete for '%s' failed: %v", task.FileName, derr)
		}
		if objectKey != "" {
			if rerr := p.archive.Remove(context.WithoutCancel(ctx), objectKey); rerr != nil {
				log.Errorf("[Processor] compensation remove of '%s' failed: %v", objectKey, rerr)
			}
		}
		return 0, apperr.E(apperr.CodeInternal, op, "failed to record uploaded file", fmt.Errorf("create record: %w", err))
	}

	log.Infof("[Processor] done, file=%s chunks=%d", task.FileName, len(chunks))
	return len(chunks), nil
}
