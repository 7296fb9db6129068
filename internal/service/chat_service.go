package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"ragchat/internal/apperr"
	"ragchat/internal/model"
	"ragchat/internal/repository"
	"ragchat/pkg/llm"
	"ragchat/pkg/log"
)

// ExchangeState 跟踪一次问答的状态。
type ExchangeState string

const (
	StateIdle            ExchangeState = "idle"
	StateRetrieving      ExchangeState = "retrieving"
	StatePromptAssembled ExchangeState = "prompt_assembled"
	StateGenerating      ExchangeState = "generating"
	StatePersisting      ExchangeState = "persisting"
	StateDone            ExchangeState = "done"
	StateFailed          ExchangeState = "failed"
)

const autoTitleRunes = 30

// ChatReply 是一次普通问答的结果。回答未能写入会话记录时 Saved 为 false。
type ChatReply struct {
	SessionID string
	Response  string
	Saved     bool
}

// StreamResult 在流结束后返回。
type StreamResult struct {
	Answer    string
	Err       error
	Cancelled bool
	Saved     bool
}

// ChatStream 承载一次流式问答的分片。生成结束时关闭 Fragments，随后 Result 恰好返回一个值。
type ChatStream struct {
	SessionID string
	Fragments <-chan string
	Result    <-chan StreamResult
}

// ChatService 定义了聊天操作的接口，基于会话上传的文档回答问题。
type ChatService interface {
	// Chat 执行一次普通问答，sessionID 为空时创建新会话。
	Chat(ctx context.Context, userID, sessionID, message string) (*ChatReply, error)
	// Stream 在已有会话中开始一次流式问答。生成开始前的错误直接返回。
	// 取消 ctx 会停止输出并跳过保存。
	Stream(ctx context.Context, userID, sessionID, message string) (*ChatStream, error)
}

type chatService struct {
	sessions    repository.SessionRepository
	retrieval   RetrievalService
	llmClient   llm.Client
	memoryTurns int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(sessions repository.SessionRepository, retrieval RetrievalService, llmClient llm.Client, memoryTurns int) ChatService {
	return &chatService{
		sessions:    sessions,
		retrieval:   retrieval,
		llmClient:   llmClient,
		memoryTurns: memoryTurns,
	}
}

type exchange struct {
	state     ExchangeState
	userID    string
	sessionID primitive.ObjectID
	question  string
	prompt    string
}

func (e *exchange) advance(to ExchangeState) {
	log.Debugf("[Chat] session=%s %s -> %s", e.sessionID.Hex(), e.state, to)
	e.state = to
}

func (e *exchange) fail(err error) error {
	e.advance(StateFailed)
	return err
}

func (s *chatService) Chat(ctx context.Context, userID, sessionID, message string) (*ChatReply, error) {
	const op = "service.Chat"
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, "message is required", nil)
	}

	var created *model.ChatSession
	if sessionID == "" {
		var err error
		created, err = s.createForMessage(ctx, userID, message)
		if err != nil {
			return nil, err
		}
		sessionID = created.ID.Hex()
	}

	ex, err := s.prepare(ctx, userID, sessionID, message, created, PromptBuffered)
	if err != nil {
		return nil, err
	}

	ex.advance(StateGenerating)
	raw, err := s.llmClient.Generate(ctx, []llm.Message{{Role: "user", Content: ex.prompt}})
	if err != nil {
		log.Errorf("[Chat] generation failed, session=%s: %v", sessionID, err)
		return nil, ex.fail(apperr.E(apperr.CodeProviderUnavailable, op, "generation failed", err))
	}
	answer := FormatAnswer(raw)

	saved := s.persist(ctx, ex, answer)
	return &ChatReply{SessionID: sessionID, Response: answer, Saved: saved}, nil
}

func (s *chatService) Stream(ctx context.Context, userID, sessionID, message string) (*ChatStream, error) {
	const op = "service.Stream"
	message = strings.TrimSpace(message)
	if message == "" || sessionID == "" {
		return nil, apperr.E(apperr.CodeInvalidRequest, op, "message and sessionId are required", nil)
	}

	ex, err := s.prepare(ctx, userID, sessionID, message, nil, PromptStreaming)
	if err != nil {
		return nil, err
	}

	ex.advance(StateGenerating)
	upstream, upstreamErr := s.llmClient.Stream(ctx, []llm.Message{{Role: "user", Content: ex.prompt}})

	fragments := make(chan string)
	result := make(chan StreamResult, 1)
	go func() {
		defer close(result)
		var answer strings.Builder
		for frag := range upstream {
			answer.WriteString(frag)
			select {
			case fragments <- frag:
			case <-ctx.Done():
			}
		}
		close(fragments)
		genErr := <-upstreamErr

		switch {
		case ctx.Err() != nil:
			log.Infof("[Chat] stream cancelled by client, session=%s, discarding %d bytes", sessionID, answer.Len())
			ex.advance(StateFailed)
			result <- StreamResult{Cancelled: true, Err: ctx.Err()}
		case genErr != nil:
			log.Errorf("[Chat] stream generation failed, session=%s: %v", sessionID, genErr)
			result <- StreamResult{Err: ex.fail(apperr.E(apperr.CodeProviderUnavailable, op, "generation failed", genErr))}
		default:
			text := answer.String()
			result <- StreamResult{Answer: text, Saved: s.persist(ctx, ex, text)}
		}
	}()

	return &ChatStream{SessionID: sessionID, Fragments: fragments, Result: result}, nil
}

// prepare 并发加载会话和检索上下文，然后构建 prompt。本次请求新建的会话通过 known 传入，不再回读。
func (s *chatService) prepare(ctx context.Context, userID, sessionID, question string, known *model.ChatSession, mode PromptMode) (*exchange, error) {
	const op = "service.prepare"
	oid, ok := model.ParseSessionID(sessionID)
	if !ok {
		return nil, apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
	}
	ex := &exchange{state: StateIdle, userID: userID, sessionID: oid, question: question}
	ex.advance(StateRetrieving)

	var (
		memory   string
		snippets []model.Snippet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		session := known
		if session == nil {
			var err error
			session, err = s.sessions.FindOwned(gctx, oid, userID)
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.E(apperr.CodeNotFound, op, "chat session not found", nil)
			}
			if err != nil {
				return apperr.E(apperr.CodeInternal, op, "failed to load chat session", err)
			}
		}
		memory = RenderMemory(RecentTurns(session.Messages, s.memoryTurns))
		return nil
	})
	g.Go(func() error {
		var err error
		snippets, err = s.retrieval.Retrieve(gctx, question, userID, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, ex.fail(err)
	}

	ex.prompt = BuildPrompt(mode, memory, snippets, question)
	ex.advance(StatePromptAssembled)
	return ex, nil
}

// persist 以一次更新追加本次问答。失败时只记录日志并通过返回值报告，回答已经生成。
func (s *chatService) persist(ctx context.Context, ex *exchange, answer string) bool {
	ex.advance(StatePersisting)
	now := time.Now().UTC()
	err := s.sessions.AppendMessages(context.WithoutCancel(ctx), ex.sessionID, ex.userID,
		model.Message{Sender: model.SenderUser, Text: ex.question, Timestamp: now},
		model.Message{Sender: model.SenderAssistant, Text: answer, Timestamp: now},
	)
	if err != nil {
		log.Errorw("[Chat] answer generated but not saved", "session", ex.sessionID.Hex(), "user", ex.userID, "error", err)
		ex.advance(StateFailed)
		return false
	}
	ex.advance(StateDone)
	return true
}

func (s *chatService) createForMessage(ctx context.Context, userID, message string) (*model.ChatSession, error) {
	title := message
	if runes := []rune(message); len(runes) > autoTitleRunes {
		title = string(runes[:autoTitleRunes])
	}
	now := time.Now().UTC()
	session := &model.ChatSession{
		UserID:    userID,
		Title:     model.NormalizeTitle(title + "..."),
		Messages:  []model.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, apperr.E(apperr.CodeInternal, "service.Chat", "failed to create chat session", err)
	}
	log.Infof("[Chat] created session %s for user %s", session.ID.Hex(), userID)
	return session, nil
}
