package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundchat-go/internal/config"
	"fundchat-go/internal/model"
	"fundchat-go/internal/pipeline"
	"fundchat-go/pkg/llm"
)

type memFundRepo struct {
	funds map[string]*model.Fund
	docs  map[string][]model.FundDocument
	byID  map[string]*model.FundDocument
}

func newMemFundRepo() *memFundRepo {
	return &memFundRepo{
		funds: make(map[string]*model.Fund),
		docs:  make(map[string][]model.FundDocument),
		byID:  make(map[string]*model.FundDocument),
	}
}

func (r *memFundRepo) CreateFund(fund *model.Fund) error {
	r.funds[fund.ID] = fund
	return nil
}

func (r *memFundRepo) GetFundByID(id string) (*model.Fund, error) { return r.funds[id], nil }

func (r *memFundRepo) GetFundByName(name string) (*model.Fund, error) {
	for _, f := range r.funds {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, nil
}

func (r *memFundRepo) ListFunds() ([]model.Fund, error) {
	var out []model.Fund
	for _, f := range r.funds {
		out = append(out, *f)
	}
	return out, nil
}

func (r *memFundRepo) DeleteFund(id string) error {
	delete(r.funds, id)
	delete(r.docs, id)
	return nil
}

func (r *memFundRepo) UpdateSummary(id string, summary string, status model.SummaryStatus) error {
	f, ok := r.funds[id]
	if !ok {
		return errors.New("fund missing")
	}
	f.Summary = summary
	f.SummaryStatus = status
	return nil
}

func (r *memFundRepo) UpdateSummaryStatus(id string, status model.SummaryStatus) error {
	f, ok := r.funds[id]
	if !ok {
		return errors.New("fund missing")
	}
	f.SummaryStatus = status
	return nil
}

func (r *memFundRepo) UpdateDocumentCount(id string, count int) error {
	if f, ok := r.funds[id]; ok {
		f.DocumentCount = count
	}
	return nil
}

func (r *memFundRepo) AddDocument(doc *model.FundDocument) error {
	r.docs[doc.FundID] = append(r.docs[doc.FundID], *doc)
	r.byID[doc.DocID] = doc
	if f, ok := r.funds[doc.FundID]; ok {
		f.DocumentCount++
	}
	return nil
}

func (r *memFundRepo) GetFundDocuments(fundID string) ([]model.FundDocument, error) {
	return r.docs[fundID], nil
}

func (r *memFundRepo) GetDocument(docID string) (*model.FundDocument, error) {
	return r.byID[docID], nil
}

// stubQueryService 返回预置结果并记录最近一次调用。
type stubQueryService struct {
	result QueryResult
	err    error

	calls     int
	lastQuery string
	lastOpts  QueryOptions
}

func (s *stubQueryService) Query(ctx context.Context, query string, opts QueryOptions) (QueryResult, error) {
	s.calls++
	s.lastQuery = query
	s.lastOpts = opts
	return s.result, s.err
}

func (s *stubQueryService) Prepare(ctx context.Context, query string, opts QueryOptions) ([]llm.Message, []model.Source, error) {
	s.calls++
	s.lastQuery = query
	s.lastOpts = opts
	return []llm.Message{{Role: "system", Content: "ctx"}, {Role: "user", Content: query}}, s.result.Sources, s.err
}

func (s *stubQueryService) NoInfoAnswer() string { return defaultNoInfoAnswer }

type stubCleaner struct {
	deletedFund string
}

func (s *stubCleaner) DeleteByFund(ctx context.Context, fundID string) error {
	s.deletedFund = fundID
	return nil
}

type stubObjectStore struct {
	objects map[string][]byte
	removed []string
}

func (s *stubObjectStore) GetObject(ctx context.Context, objectName string) ([]byte, error) {
	data, ok := s.objects[objectName]
	if !ok {
		return nil, errors.New("object missing")
	}
	return data, nil
}

func (s *stubObjectStore) RemoveObject(ctx context.Context, objectName string) error {
	s.removed = append(s.removed, objectName)
	return nil
}

func newTestFundService(repo *memFundRepo, qs *stubQueryService, cleaner *stubCleaner, store *stubObjectStore) FundService {
	if cleaner == nil {
		cleaner = &stubCleaner{}
	}
	if store == nil {
		store = &stubObjectStore{}
	}
	return NewFundService(repo, qs, cleaner, store, pipeline.NewTextExtractor(nil), config.LLMPromptConfig{})
}

func seedFund(repo *memFundRepo, id string, docCount int, status model.SummaryStatus) *model.Fund {
	fund := &model.Fund{ID: id, Name: "Fund " + id, SummaryStatus: status}
	repo.funds[id] = fund
	for i := 0; i < docCount; i++ {
		doc := model.FundDocument{
			DocID: id + "-doc", FundID: id, FileName: "doc.txt",
			ObjectName: "documents/" + id + ".txt",
		}
		repo.docs[id] = append(repo.docs[id], doc)
		repo.byID[doc.DocID] = &doc
		fund.DocumentCount++
	}
	return fund
}

func TestGetFundDetailGeneratesSummaryOnFirstRead(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 1, model.SummaryEmpty)
	qs := &stubQueryService{result: QueryResult{Answer: "A solid growth fund."}}
	svc := newTestFundService(repo, qs, nil, nil)

	resp, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, 1, qs.calls)
	assert.Equal(t, "f1", qs.lastOpts.FundID)
	assert.Equal(t, "A solid growth fund.", resp.Summary)
	assert.Equal(t, string(model.SummaryGenerated), resp.SummaryStatus)

	// 成功之后的读取不再触发生成。
	_, err = svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, qs.calls)
}

func TestGetFundDetailSummaryFailureRetriesNextRead(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 1, model.SummaryEmpty)
	qs := &stubQueryService{err: errors.New("completion down")}
	svc := newTestFundService(repo, qs, nil, nil)

	resp, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)

	// 失败不影响详情返回，摘要保持占位哨兵，状态记为失败。
	assert.Equal(t, model.SummarySentinel, resp.Summary)
	assert.Equal(t, string(model.SummaryFailed), resp.SummaryStatus)

	// 下次读取重试并成功。
	qs.err = nil
	qs.result = QueryResult{Answer: "Recovered summary."}
	resp, err = svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, qs.calls)
	assert.Equal(t, "Recovered summary.", resp.Summary)
}

func TestGetFundDetailSentinelAnswerNotPersisted(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 1, model.SummaryEmpty)
	qs := &stubQueryService{result: QueryResult{Answer: defaultNoInfoAnswer, NoInfo: true}}
	svc := newTestFundService(repo, qs, nil, nil)

	resp, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, model.SummarySentinel, resp.Summary)
	assert.Equal(t, string(model.SummaryFailed), resp.SummaryStatus)
}

func TestGetFundDetailDegradedAnswerNotPersisted(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 1, model.SummaryEmpty)
	qs := &stubQueryService{result: QueryResult{Answer: quotaAnswer, Degraded: true}}
	svc := newTestFundService(repo, qs, nil, nil)

	resp, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, model.SummarySentinel, resp.Summary)
}

func TestGetFundDetailMultiDocumentPrompt(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 3, model.SummaryEmpty)
	qs := &stubQueryService{result: QueryResult{Answer: "multi"}}
	svc := newTestFundService(repo, qs, nil, nil)

	_, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)
	assert.Contains(t, qs.lastQuery, "3 available documents")
}

func TestGetFundDetailEmptyFundSkipsGeneration(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 0, model.SummaryEmpty)
	qs := &stubQueryService{}
	svc := newTestFundService(repo, qs, nil, nil)

	resp, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, qs.calls)
	assert.Equal(t, model.SummarySentinel, resp.Summary)
}

func TestGetFundDetailReconcilesDocumentCount(t *testing.T) {
	repo := newMemFundRepo()
	fund := seedFund(repo, "f1", 2, model.SummaryGenerated)
	fund.Summary = "done"
	fund.DocumentCount = 7 // 与实际文档数不一致

	svc := newTestFundService(repo, &stubQueryService{}, nil, nil)
	resp, err := svc.GetFundDetail(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, 2, resp.DocumentCount)
	assert.Equal(t, 2, repo.funds["f1"].DocumentCount)
}

func TestGetFundDetailUnknownFund(t *testing.T) {
	svc := newTestFundService(newMemFundRepo(), &stubQueryService{}, nil, nil)
	_, err := svc.GetFundDetail(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrFundNotFound)
}

func TestDeleteFundCleansVectorsAndObjects(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 2, model.SummaryGenerated)
	cleaner := &stubCleaner{}
	store := &stubObjectStore{}
	svc := newTestFundService(repo, &stubQueryService{}, cleaner, store)

	require.NoError(t, svc.DeleteFund(context.Background(), "f1"))

	assert.Nil(t, repo.funds["f1"])
	assert.Equal(t, "f1", cleaner.deletedFund)
	assert.Len(t, store.removed, 2)

	// 删除后列表不再可见。
	list, err := svc.ListFunds()
	require.NoError(t, err)
	assert.Empty(t, list.Funds)
}

func TestDeleteFundUnknownFund(t *testing.T) {
	svc := newTestFundService(newMemFundRepo(), &stubQueryService{}, nil, nil)
	assert.ErrorIs(t, svc.DeleteFund(context.Background(), "nope"), ErrFundNotFound)
}

func TestGetDocumentContentReadsBackStoredBytes(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 1, model.SummaryGenerated)
	store := &stubObjectStore{objects: map[string][]byte{
		"documents/f1.txt": []byte("stored fund text"),
	}}
	svc := newTestFundService(repo, &stubQueryService{}, nil, store)

	doc, content, err := svc.GetDocumentContent(context.Background(), "f1-doc")
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", doc.FileName)
	assert.Equal(t, "stored fund text", content)
}

func TestGetDocumentContentUnknownDocument(t *testing.T) {
	svc := newTestFundService(newMemFundRepo(), &stubQueryService{}, nil, nil)
	_, _, err := svc.GetDocumentContent(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestListFundsUsesSummarySentinel(t *testing.T) {
	repo := newMemFundRepo()
	seedFund(repo, "f1", 1, model.SummaryEmpty)
	svc := newTestFundService(repo, &stubQueryService{}, nil, nil)

	list, err := svc.ListFunds()
	require.NoError(t, err)
	require.Len(t, list.Funds, 1)
	assert.Equal(t, model.SummarySentinel, list.Funds[0].Summary)
}
