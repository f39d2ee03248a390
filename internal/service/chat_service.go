package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fundchat-go/internal/model"
	"fundchat-go/internal/pipeline"
	"fundchat-go/internal/repository"
	"fundchat-go/pkg/llm"
	"fundchat-go/pkg/log"
)

// 多文档聊天时检索数量的上限与单文档系数。
const (
	multiDocTopKCap    = 15
	multiDocTopKFactor = 5
)

const defaultSessionID = "default"

// multiDocNote 在多文档回答末尾追加，提示前端答案跨越了多个来源。
const multiDocNote = "\n\n*This answer references information from multiple documents.*"

// ChatService 定义了基金聊天的接口。
type ChatService interface {
	// Chat 执行一轮带会话历史的基金问答。
	Chat(ctx context.Context, fundID string, req model.ChatRequest) (model.QueryResponse, error)
	// StreamChat 通过 WebSocket 流式执行一轮基金问答。
	StreamChat(ctx context.Context, fundID string, req model.ChatRequest, conn StreamConn) error
	// UploadAttachment 提取附件文本并缓存，返回可在后续消息中引用的凭据。
	UploadAttachment(ctx context.Context, fileName string, data []byte) (*model.ChatAttachment, string, error)
}

type chatService struct {
	fundRepo      repository.FundRepository
	chatRepo      repository.ChatRepository
	querySvc      QueryService
	llmClient     llm.Client
	extractor     *pipeline.TextExtractor
	previewLen    int
	attachmentTTL time.Duration
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	fundRepo repository.FundRepository,
	chatRepo repository.ChatRepository,
	querySvc QueryService,
	llmClient llm.Client,
	extractor *pipeline.TextExtractor,
	previewLen int,
	attachmentTTL time.Duration,
) ChatService {
	return &chatService{
		fundRepo:      fundRepo,
		chatRepo:      chatRepo,
		querySvc:      querySvc,
		llmClient:     llmClient,
		extractor:     extractor,
		previewLen:    previewLen,
		attachmentTTL: attachmentTTL,
	}
}

// prepareOptions 统一组装一轮聊天的检索选项：会话历史、附件上下文、
// 多文档场景下的检索数量放大。
func (s *chatService) prepareOptions(ctx context.Context, fund *model.Fund, req model.ChatRequest, sessionID string) (QueryOptions, error) {
	topK := req.TopK
	if topK < 1 {
		topK = defaultTopK
	}
	// 多文档且未限定文档范围时放大检索数量，让上下文覆盖到每个文档。
	if fund.DocumentCount > 1 && len(req.DocumentIDs) == 0 {
		adjusted := multiDocTopKFactor * fund.DocumentCount
		if adjusted > multiDocTopKCap {
			adjusted = multiDocTopKCap
		}
		if adjusted > topK {
			log.Infof("[ChatService] 基金 %s 含 %d 个文档, topK %d -> %d", fund.ID, fund.DocumentCount, topK, adjusted)
			topK = adjusted
		}
	}

	history, err := s.chatRepo.GetHistory(ctx, fund.ID, sessionID)
	if err != nil {
		log.Errorf("[ChatService] 读取会话历史失败: %v", err)
		history = nil
	}
	llmHistory := make([]llm.Message, 0, len(history))
	for _, m := range history {
		llmHistory = append(llmHistory, llm.Message{Role: m.Role, Content: m.Content})
	}

	var extra string
	if req.AttachmentID != "" {
		att, aerr := s.chatRepo.GetAttachment(ctx, req.AttachmentID)
		if aerr != nil {
			log.Errorf("[ChatService] 读取附件 %s 失败: %v", req.AttachmentID, aerr)
		} else if att != nil {
			extra = fmt.Sprintf("--- ATTACHMENT: %s ---\n%s", att.FileName, att.Content)
		}
	}

	return QueryOptions{
		FundID:       fund.ID,
		TopK:         topK,
		DocumentIDs:  req.DocumentIDs,
		ExtraContext: extra,
		History:      llmHistory,
	}, nil
}

func (s *chatService) Chat(ctx context.Context, fundID string, req model.ChatRequest) (model.QueryResponse, error) {
	fund, err := s.fundRepo.GetFundByID(fundID)
	if err != nil {
		return model.QueryResponse{}, fmt.Errorf("failed to load fund: %w", err)
	}
	if fund == nil {
		return model.QueryResponse{}, ErrFundNotFound
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	opts, err := s.prepareOptions(ctx, fund, req, sessionID)
	if err != nil {
		return model.QueryResponse{}, err
	}

	res, err := s.querySvc.Query(ctx, req.Message, opts)
	if err != nil {
		return model.QueryResponse{}, err
	}

	answer := res.Answer
	if fund.DocumentCount > 1 && distinctFiles(res.Sources) > 1 && !strings.Contains(answer, "references information from") {
		answer += multiDocNote
	}

	if !res.Degraded {
		if herr := s.chatRepo.AppendExchange(ctx, fund.ID, sessionID, req.Message, answer); herr != nil {
			log.Errorf("[ChatService] 保存会话历史失败: %v", herr)
		}
	}

	return model.QueryResponse{Answer: answer, Sources: res.Sources}, nil
}

// StreamConn 抽象流式聊天需要的 WebSocket 写能力，*websocket.Conn 直接满足。
type StreamConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v interface{}) error
}

// answerRecorder 在转发 WebSocket 文本帧的同时累计完整回答。
type answerRecorder struct {
	conn StreamConn
	buf  strings.Builder
}

func (w *answerRecorder) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.TextMessage {
		w.buf.Write(data)
	}
	return w.conn.WriteMessage(messageType, data)
}

// StreamChat 流式执行一轮问答：检索与消息组装复用 Query 引擎，
// 完成服务的增量 token 直接写入 WebSocket 连接，收尾时发送来源帧。
func (s *chatService) StreamChat(ctx context.Context, fundID string, req model.ChatRequest, conn StreamConn) error {
	fund, err := s.fundRepo.GetFundByID(fundID)
	if err != nil {
		return fmt.Errorf("failed to load fund: %w", err)
	}
	if fund == nil {
		return ErrFundNotFound
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	opts, err := s.prepareOptions(ctx, fund, req, sessionID)
	if err != nil {
		return err
	}

	messages, sources, err := s.querySvc.Prepare(ctx, req.Message, opts)
	if err != nil {
		// 降级答案与 JSON 接口保持一致：整段写给客户端而不是报错。
		var degraded *degradedError
		if errors.As(err, &degraded) {
			return writeDegradedStream(conn, degraded.answer, sources)
		}
		return err
	}

	recorder := &answerRecorder{conn: conn}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, recorder); err != nil {
		if errors.Is(err, llm.ErrQuotaExceeded) {
			return writeDegradedStream(conn, quotaAnswer, sources)
		}
		return fmt.Errorf("failed to stream answer: %w", err)
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "done",
		"sources": sources,
	}); err != nil {
		return fmt.Errorf("failed to write completion frame: %w", err)
	}

	if herr := s.chatRepo.AppendExchange(ctx, fund.ID, sessionID, req.Message, recorder.buf.String()); herr != nil {
		log.Errorf("[ChatService] 保存会话历史失败: %v", herr)
	}
	return nil
}

// writeDegradedStream 把降级答案作为文本帧发出并正常收尾，降级回答不进会话历史。
func writeDegradedStream(conn StreamConn, answer string, sources []model.Source) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(answer)); err != nil {
		return fmt.Errorf("failed to write degraded answer: %w", err)
	}
	if sources == nil {
		sources = []model.Source{}
	}
	if err := conn.WriteJSON(map[string]interface{}{
		"type":    "done",
		"sources": sources,
	}); err != nil {
		return fmt.Errorf("failed to write completion frame: %w", err)
	}
	return nil
}

// UploadAttachment 提取文件文本并写入短期缓存，返回附件与预览片段。
func (s *chatService) UploadAttachment(ctx context.Context, fileName string, data []byte) (*model.ChatAttachment, string, error) {
	att := &model.ChatAttachment{
		AttachmentID: uuid.NewString(),
		FileName:     fileName,
		FileType:     pipeline.FileType(fileName),
		Content:      s.extractor.Extract(ctx, data, fileName),
		CreatedAt:    time.Now(),
	}
	if err := s.chatRepo.SaveAttachment(ctx, *att, s.attachmentTTL); err != nil {
		return nil, "", fmt.Errorf("failed to cache attachment: %w", err)
	}

	preview := att.Content
	if runes := []rune(preview); len(runes) > s.previewLen {
		preview = string(runes[:s.previewLen]) + "..."
	}
	log.Infof("[ChatService] 缓存聊天附件 %s (%s, %d 字符)", att.AttachmentID, fileName, len(att.Content))
	return att, preview, nil
}

func distinctFiles(sources []model.Source) int {
	seen := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		seen[s.FileName] = struct{}{}
	}
	return len(seen)
}
