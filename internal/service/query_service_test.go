package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundchat-go/internal/config"
	"fundchat-go/internal/model"
	"fundchat-go/pkg/embedding"
	"fundchat-go/pkg/llm"
)

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) Model() string { return "stub-embedding" }

type stubSearcher struct {
	hits []model.ChunkHit
	err  error

	lastTopK   int
	lastFundID string
	lastDocIDs []string
}

func (s *stubSearcher) Search(ctx context.Context, vector []float32, topK int, fundID string, docIDs []string) ([]model.ChunkHit, error) {
	s.lastTopK = topK
	s.lastFundID = fundID
	s.lastDocIDs = docIDs
	return s.hits, s.err
}

type stubLLM struct {
	answer string
	err    error

	lastMessages []llm.Message
}

func (s *stubLLM) ChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	s.lastMessages = messages
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func (s *stubLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	s.lastMessages = messages
	if s.err != nil {
		return s.err
	}
	return writer.WriteMessage(1, []byte(s.answer))
}

func hit(chunkID, docID, fileName, text string, num, count int, score float64) model.ChunkHit {
	return model.ChunkHit{
		Chunk: model.Chunk{
			ChunkID: chunkID, DocID: docID, FundID: "fund-1",
			FileName: fileName, FileType: "txt", TextContent: text,
			ChunkNum: num, ChunkCount: count,
		},
		Score: score,
	}
}

func newTestQueryService(e *stubEmbedder, s *stubSearcher, l *stubLLM) QueryService {
	return NewQueryService(e, s, l, config.LLMPromptConfig{})
}

func TestQueryAssemblesContextByDocument(t *testing.T) {
	searcher := &stubSearcher{hits: []model.ChunkHit{
		hit("d1_0", "d1", "alpha.txt", "alpha first", 0, 2, 0.9),
		hit("d2_0", "d2", "beta.txt", "beta first", 0, 1, 0.8),
		hit("d1_1", "d1", "alpha.txt", "alpha second", 1, 2, 0.7),
	}}
	llmStub := &stubLLM{answer: "Combined answer."}

	res, err := newTestQueryService(&stubEmbedder{}, searcher, llmStub).
		Query(context.Background(), "What are the fees?", QueryOptions{FundID: "fund-1"})
	require.NoError(t, err)

	assert.Equal(t, "Combined answer.", res.Answer)
	assert.False(t, res.NoInfo)
	require.Len(t, res.Sources, 3)
	assert.Equal(t, "fund-1", searcher.lastFundID)
	assert.Equal(t, defaultTopK, searcher.lastTopK)

	// system 消息按来源文档分组，带分块序号。
	require.NotEmpty(t, llmStub.lastMessages)
	system := llmStub.lastMessages[0].Content
	assert.Contains(t, system, "--- DOCUMENT: alpha.txt ---")
	assert.Contains(t, system, "--- DOCUMENT: beta.txt ---")
	assert.Contains(t, system, "[CONTENT chunk 1/2]:\nalpha first")
	assert.Contains(t, system, "[CONTENT chunk 2/2]:\nalpha second")
}

func TestQueryBroadQuestionRaisesTopK(t *testing.T) {
	searcher := &stubSearcher{}
	svc := newTestQueryService(&stubEmbedder{}, searcher, &stubLLM{answer: "ok"})

	_, err := svc.Query(context.Background(), "Please summarize this fund", QueryOptions{TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, broadTopK, searcher.lastTopK)

	// 调用方给出的更大 topK 不被压低。
	_, err = svc.Query(context.Background(), "Give me an overview", QueryOptions{TopK: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, searcher.lastTopK)
}

func TestQueryNoContextReturnsSentinel(t *testing.T) {
	svc := newTestQueryService(&stubEmbedder{}, &stubSearcher{}, &stubLLM{answer: defaultNoInfoAnswer})

	res, err := svc.Query(context.Background(), "anything", QueryOptions{FundID: "empty-fund"})
	require.NoError(t, err)

	assert.Equal(t, defaultNoInfoAnswer, res.Answer)
	assert.True(t, res.NoInfo)
	assert.NotNil(t, res.Sources)
	assert.Empty(t, res.Sources)
}

func TestQueryEmbeddingQuotaDegrades(t *testing.T) {
	svc := newTestQueryService(&stubEmbedder{err: embedding.ErrQuotaExceeded}, &stubSearcher{}, &stubLLM{})

	res, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, quotaAnswer, res.Answer)
	assert.Empty(t, res.Sources)
}

func TestQueryEmbeddingFailureDegradesToDescriptiveAnswer(t *testing.T) {
	svc := newTestQueryService(&stubEmbedder{err: errors.New("connection refused")}, &stubSearcher{}, &stubLLM{})

	res, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Contains(t, res.Answer, "Error generating answer")
	assert.Contains(t, res.Answer, "connection refused")
}

func TestQueryDegradedAnswerTruncatesOnRuneBoundary(t *testing.T) {
	// 超过 100 字符的多字节错误信息，截断后必须仍是合法 UTF-8。
	embedErr := errors.New(strings.Repeat("连接被拒绝", 30))
	svc := newTestQueryService(&stubEmbedder{err: embedErr}, &stubSearcher{}, &stubLLM{})

	res, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.True(t, utf8.ValidString(res.Answer))
	assert.Contains(t, res.Answer, "连接被拒绝")
}

func TestQueryCompletionQuotaDegradesKeepingSources(t *testing.T) {
	searcher := &stubSearcher{hits: []model.ChunkHit{hit("d1_0", "d1", "alpha.txt", "text", 0, 1, 0.5)}}
	svc := newTestQueryService(&stubEmbedder{}, searcher, &stubLLM{err: llm.ErrQuotaExceeded})

	res, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, quotaAnswer, res.Answer)
	require.Len(t, res.Sources, 1)
}

func TestQueryCompletionFailureSurfacesError(t *testing.T) {
	svc := newTestQueryService(&stubEmbedder{}, &stubSearcher{}, &stubLLM{err: errors.New("upstream 502")})

	_, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.Error(t, err)
}

func TestQuerySearchFailureSurfacesError(t *testing.T) {
	svc := newTestQueryService(&stubEmbedder{}, &stubSearcher{err: errors.New("index down")}, &stubLLM{})

	_, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.Error(t, err)
}

func TestQueryDeduplicatesSources(t *testing.T) {
	searcher := &stubSearcher{hits: []model.ChunkHit{
		hit("d1_0", "d1", "alpha.txt", "text", 0, 1, 0.9),
		hit("d1_0", "d1", "alpha.txt", "text", 0, 1, 0.9),
	}}
	svc := newTestQueryService(&stubEmbedder{}, searcher, &stubLLM{answer: "ok"})

	res, err := svc.Query(context.Background(), "anything", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Sources, 1)
}

func TestQueryHistoryAndExtraContextInjected(t *testing.T) {
	llmStub := &stubLLM{answer: "ok"}
	svc := newTestQueryService(&stubEmbedder{}, &stubSearcher{}, llmStub)

	_, err := svc.Query(context.Background(), "follow-up", QueryOptions{
		History:      []llm.Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}},
		ExtraContext: "--- ATTACHMENT: notes.txt ---\npinned text",
	})
	require.NoError(t, err)

	require.Len(t, llmStub.lastMessages, 4)
	assert.Equal(t, "system", llmStub.lastMessages[0].Role)
	assert.Contains(t, llmStub.lastMessages[0].Content, "pinned text")
	assert.Equal(t, "earlier", llmStub.lastMessages[1].Content)
	assert.Equal(t, "follow-up", llmStub.lastMessages[3].Content)
}
