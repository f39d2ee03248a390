// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fundchat-go/internal/config"
	"fundchat-go/internal/model"
	"fundchat-go/pkg/embedding"
	"fundchat-go/pkg/llm"
	"fundchat-go/pkg/log"
)

// 检索与生成的默认参数。
const (
	defaultTopK = 3
	broadTopK   = 10
)

// 内置提示词与哨兵文本，均可被配置覆盖。
const (
	defaultRules = "You are a helpful assistant that answers questions based on the provided context from multiple documents.\n\n" +
		"The context below may contain content from several different documents related to the same fund.\n\n" +
		"Using ONLY the information in the context, answer the question thoroughly and accurately. " +
		"If information is found in multiple documents, synthesize it into a comprehensive answer. " +
		"If the information isn't in the context, say \"I don't have enough information to answer this question.\""

	defaultNoInfoAnswer = "I don't have enough information to answer this question."

	quotaAnswer = "No answer available - the completion service quota has been exceeded. " +
		"You may need to update your billing information or use a different API key."
)

// broadKeywords 命中时属于概括型问题，提高检索数量以覆盖更多文档。
var broadKeywords = []string{"summarize", "summary", "overview", "describe", "what is"}

// VectorSearcher 抽象了查询引擎需要的向量检索能力。
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, fundID string, docIDs []string) ([]model.ChunkHit, error)
}

// QueryOptions 控制一次检索增强查询的范围与上下文。
type QueryOptions struct {
	FundID      string
	TopK        int
	DocumentIDs []string
	// ExtraContext 追加在检索结果之后，比如聊天附件的提取文本。
	ExtraContext string
	// History 是注入在 system 消息与本轮问题之间的对话历史。
	History []llm.Message
}

// QueryResult 是查询引擎的结构化结果。
// Degraded 表示外部服务故障被降级成了描述性回答；NoInfo 表示
// 回答命中了无信息哨兵。两者都不算请求失败。
type QueryResult struct {
	Answer   string
	Sources  []model.Source
	Degraded bool
	NoInfo   bool
}

// QueryService 定义了检索增强查询引擎的接口。
type QueryService interface {
	Query(ctx context.Context, query string, opts QueryOptions) (QueryResult, error)
	// Prepare 只做检索与消息组装，流式聊天用它拿到同一份提示词。
	Prepare(ctx context.Context, query string, opts QueryOptions) ([]llm.Message, []model.Source, error)
	// NoInfoAnswer 返回当前生效的无信息哨兵文本。
	NoInfoAnswer() string
}

type queryService struct {
	embeddingClient embedding.Client
	searcher        VectorSearcher
	llmClient       llm.Client
	promptCfg       config.LLMPromptConfig
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(embeddingClient embedding.Client, searcher VectorSearcher, llmClient llm.Client, promptCfg config.LLMPromptConfig) QueryService {
	return &queryService{
		embeddingClient: embeddingClient,
		searcher:        searcher,
		llmClient:       llmClient,
		promptCfg:       promptCfg,
	}
}

func (s *queryService) NoInfoAnswer() string {
	if s.promptCfg.NoInfoAnswer != "" {
		return s.promptCfg.NoInfoAnswer
	}
	return defaultNoInfoAnswer
}

func (s *queryService) rules() string {
	if s.promptCfg.Rules != "" {
		return s.promptCfg.Rules
	}
	return defaultRules
}

// Query 执行完整的检索增强查询：向量化问题、近邻检索、组装上下文、
// 调用完成服务。Embedding 侧的故障（含配额耗尽）降级为描述性回答，
// 保证调用方总能拿到结构完整的响应对象。
func (s *queryService) Query(ctx context.Context, query string, opts QueryOptions) (QueryResult, error) {
	messages, sources, err := s.Prepare(ctx, query, opts)
	if err != nil {
		var degraded *degradedError
		if errors.As(err, &degraded) {
			return QueryResult{Answer: degraded.answer, Sources: []model.Source{}, Degraded: true}, nil
		}
		return QueryResult{}, err
	}

	answer, err := s.llmClient.ChatMessages(ctx, messages, nil)
	if err != nil {
		if errors.Is(err, llm.ErrQuotaExceeded) {
			log.Warnf("[QueryService] 完成服务配额耗尽, 降级返回提示文本")
			return QueryResult{Answer: quotaAnswer, Sources: sources, Degraded: true}, nil
		}
		return QueryResult{}, fmt.Errorf("failed to generate answer: %w", err)
	}

	return QueryResult{
		Answer:  answer,
		Sources: sources,
		NoInfo:  answer == s.NoInfoAnswer(),
	}, nil
}

// degradedError 在 Prepare 内部传递需要降级的故障及其用户可见文本。
type degradedError struct {
	answer string
	cause  error
}

func (e *degradedError) Error() string { return e.cause.Error() }
func (e *degradedError) Unwrap() error { return e.cause }

// Prepare 向量化问题并检索上下文，返回组装好的消息序列与来源列表。
func (s *queryService) Prepare(ctx context.Context, query string, opts QueryOptions) ([]llm.Message, []model.Source, error) {
	topK := opts.TopK
	if topK < 1 {
		topK = defaultTopK
	}
	if isBroadQuery(query) && topK < broadTopK {
		log.Infof("[QueryService] 概括型问题, topK %d -> %d", topK, broadTopK)
		topK = broadTopK
	}

	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[QueryService] 向量化查询失败: %v", err)
		if errors.Is(err, embedding.ErrQuotaExceeded) {
			return nil, nil, &degradedError{answer: quotaAnswer, cause: err}
		}
		return nil, nil, &degradedError{
			answer: fmt.Sprintf("Error generating answer: %s", truncate(err.Error(), 100)),
			cause:  err,
		}
	}

	hits, err := s.searcher.Search(ctx, queryVector, topK, opts.FundID, opts.DocumentIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	log.Infof("[QueryService] 检索到 %d 个分块, fund: %q, topK: %d", len(hits), opts.FundID, topK)

	contextText := buildContextText(hits)
	if opts.ExtraContext != "" {
		if contextText != "" {
			contextText += "\n\n"
		}
		contextText += opts.ExtraContext
	}

	systemMsg := s.rules() + "\n\nContext:\n" + contextText

	messages := make([]llm.Message, 0, len(opts.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemMsg})
	messages = append(messages, opts.History...)
	messages = append(messages, llm.Message{Role: "user", Content: query})

	return messages, dedupeSources(hits), nil
}

// buildContextText 按来源文档分组组装上下文块，便于模型区分不同文件。
func buildContextText(hits []model.ChunkHit) string {
	if len(hits) == 0 {
		return ""
	}

	byFile := make(map[string][]model.ChunkHit)
	var order []string
	for _, h := range hits {
		name := h.Chunk.FileName
		if name == "" {
			name = "Unknown"
		}
		if _, ok := byFile[name]; !ok {
			order = append(order, name)
		}
		byFile[name] = append(byFile[name], h)
	}

	var b strings.Builder
	for _, name := range order {
		fmt.Fprintf(&b, "--- DOCUMENT: %s ---\n", name)
		for _, h := range byFile[name] {
			fmt.Fprintf(&b, "[CONTENT chunk %d/%d]:\n%s\n\n", h.Chunk.ChunkNum+1, h.Chunk.ChunkCount, h.Chunk.TextContent)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// dedupeSources 去重来源条目，保持检索顺序。
func dedupeSources(hits []model.ChunkHit) []model.Source {
	sources := make([]model.Source, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.Chunk.ChunkID]; ok {
			continue
		}
		seen[h.Chunk.ChunkID] = struct{}{}
		sources = append(sources, model.SourceFromHit(h))
	}
	return sources
}

func isBroadQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range broadKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
