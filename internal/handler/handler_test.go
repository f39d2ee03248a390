package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundchat-go/internal/model"
	"fundchat-go/internal/service"
	"fundchat-go/pkg/llm"
)

type stubQueryService struct {
	result service.QueryResult
	err    error
}

func (s *stubQueryService) Query(ctx context.Context, query string, opts service.QueryOptions) (service.QueryResult, error) {
	return s.result, s.err
}

func (s *stubQueryService) Prepare(ctx context.Context, query string, opts service.QueryOptions) ([]llm.Message, []model.Source, error) {
	return nil, s.result.Sources, s.err
}

func (s *stubQueryService) NoInfoAnswer() string {
	return "I don't have enough information to answer this question."
}

type stubChatService struct {
	resp model.QueryResponse
	err  error
}

func (s *stubChatService) Chat(ctx context.Context, fundID string, req model.ChatRequest) (model.QueryResponse, error) {
	if s.err != nil {
		return model.QueryResponse{}, s.err
	}
	return s.resp, nil
}

func (s *stubChatService) StreamChat(ctx context.Context, fundID string, req model.ChatRequest, conn service.StreamConn) error {
	return s.err
}

func (s *stubChatService) UploadAttachment(ctx context.Context, fileName string, data []byte) (*model.ChatAttachment, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &model.ChatAttachment{AttachmentID: "att-1", FileName: fileName, FileType: "txt"}, "preview", nil
}

type stubUploadService struct {
	fundID  string
	results []model.UploadFileResult
	err     error
}

func (s *stubUploadService) UploadFiles(ctx context.Context, fundName string, files []service.UploadedFile) (string, []model.UploadFileResult, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return s.fundID, s.results, nil
}

func (s *stubUploadService) IngestToFund(ctx context.Context, fundID string, file service.UploadedFile) (*model.FundDocument, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &model.FundDocument{DocID: "doc-1", FundID: fundID, FileName: file.Name, ChunkCount: 2}, nil
}

type stubFundService struct {
	detail model.FundResponse
	err    error
}

func (s *stubFundService) ListFunds() (model.FundListResponse, error) {
	return model.FundListResponse{Funds: []model.FundResponse{}}, s.err
}

func (s *stubFundService) GetFundDetail(ctx context.Context, fundID string) (model.FundResponse, error) {
	if s.err != nil {
		return model.FundResponse{}, s.err
	}
	return s.detail, nil
}

func (s *stubFundService) GetFund(fundID string) (*model.Fund, error) { return nil, s.err }

func (s *stubFundService) DeleteFund(ctx context.Context, fundID string) error { return s.err }

func (s *stubFundService) GetDocumentContent(ctx context.Context, docID string) (*model.FundDocument, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &model.FundDocument{DocID: docID, FileName: "doc.txt"}, "content", nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(r *gin.Engine, method, path, contentType string, body *bytes.Buffer) *httptest.ResponseRecorder {
	if body == nil {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func multipartBody(t *testing.T, fields map[string]string, fileField string, fileNames ...string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, name := range fileNames {
		fw, err := mw.CreateFormFile(fileField, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("file body"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestUploadMissingFundNameRejected(t *testing.T) {
	r := gin.New()
	r.POST("/api/upload", NewUploadHandler(&stubUploadService{}).Upload)

	body, ct := multipartBody(t, nil, "files", "a.txt")
	w := doRequest(r, http.MethodPost, "/api/upload", ct, body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "fund_name")
}

func TestUploadMissingFilesRejected(t *testing.T) {
	r := gin.New()
	r.POST("/api/upload", NewUploadHandler(&stubUploadService{}).Upload)

	body, ct := multipartBody(t, map[string]string{"fund_name": "Alpha"}, "files")
	w := doRequest(r, http.MethodPost, "/api/upload", ct, body)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadReturnsPerFileResults(t *testing.T) {
	svc := &stubUploadService{
		fundID: "fund-1",
		results: []model.UploadFileResult{
			{Filename: "a.txt", Status: "success", FundID: "fund-1", DocID: "d1"},
			{Filename: "b.txt", Status: "error", Message: "boom", FundID: "fund-1"},
		},
	}
	r := gin.New()
	r.POST("/api/upload", NewUploadHandler(svc).Upload)

	body, ct := multipartBody(t, map[string]string{"fund_name": "Alpha"}, "files", "a.txt", "b.txt")
	w := doRequest(r, http.MethodPost, "/api/upload", ct, body)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		FundID  string                   `json:"fund_id"`
		Results []model.UploadFileResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fund-1", resp.FundID)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "error", resp.Results[1].Status)
}

func TestQueryMissingQueryRejected(t *testing.T) {
	r := gin.New()
	r.POST("/api/query", NewQueryHandler(&stubQueryService{}).Query)

	w := doRequest(r, http.MethodPost, "/api/query", "application/json", bytes.NewBufferString(`{"top_k": 3}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryReturnsAnswerAndSources(t *testing.T) {
	svc := &stubQueryService{result: service.QueryResult{
		Answer:  "the answer",
		Sources: []model.Source{{ChunkID: "d1_0", FileName: "a.txt"}},
	}}
	r := gin.New()
	r.POST("/api/query", NewQueryHandler(svc).Query)

	w := doRequest(r, http.MethodPost, "/api/query", "application/json",
		bytes.NewBufferString(`{"query": "what are the fees?"}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp model.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "the answer", resp.Answer)
	require.Len(t, resp.Sources, 1)
}

func TestChatUnknownFundReturns404(t *testing.T) {
	r := gin.New()
	r.POST("/api/funds/:fundId/chat", NewChatHandler(&stubChatService{err: service.ErrFundNotFound}, &stubUploadService{}).Chat)

	w := doRequest(r, http.MethodPost, "/api/funds/missing/chat", "application/json",
		bytes.NewBufferString(`{"message": "hi"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatMissingMessageRejected(t *testing.T) {
	r := gin.New()
	r.POST("/api/funds/:fundId/chat", NewChatHandler(&stubChatService{}, &stubUploadService{}).Chat)

	w := doRequest(r, http.MethodPost, "/api/funds/f1/chat", "application/json", bytes.NewBufferString(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFundUnknownReturns404(t *testing.T) {
	r := gin.New()
	r.GET("/api/funds/:fundId", NewFundHandler(&stubFundService{err: service.ErrFundNotFound}).GetFund)

	w := doRequest(r, http.MethodGet, "/api/funds/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "fund not found"))
}

func TestGetFundReturnsDetail(t *testing.T) {
	svc := &stubFundService{detail: model.FundResponse{
		FundID: "f1", FundName: "Alpha", Summary: "Empty", SummaryStatus: "empty",
		Documents: []model.DocumentInfo{},
	}}
	r := gin.New()
	r.GET("/api/funds/:fundId", NewFundHandler(svc).GetFund)

	w := doRequest(r, http.MethodGet, "/api/funds/f1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.FundResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Alpha", resp.FundName)
	assert.Equal(t, "Empty", resp.Summary)
}

func TestDeleteFundUnknownReturns404(t *testing.T) {
	r := gin.New()
	r.DELETE("/api/funds/:fundId", NewFundHandler(&stubFundService{err: service.ErrFundNotFound}).DeleteFund)

	w := doRequest(r, http.MethodDelete, "/api/funds/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatAttachmentUploadMissingFileRejected(t *testing.T) {
	r := gin.New()
	r.POST("/api/chat/upload", NewChatHandler(&stubChatService{}, &stubUploadService{}).UploadAttachment)

	body, ct := multipartBody(t, nil, "file")
	w := doRequest(r, http.MethodPost, "/api/chat/upload", ct, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatAttachmentUploadReturnsPreview(t *testing.T) {
	r := gin.New()
	r.POST("/api/chat/upload", NewChatHandler(&stubChatService{}, &stubUploadService{}).UploadAttachment)

	body, ct := multipartBody(t, nil, "file", "notes.txt")
	w := doRequest(r, http.MethodPost, "/api/chat/upload", ct, body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "att-1")
	assert.Contains(t, w.Body.String(), "preview")
}

func TestFundChatUploadIngestsDocument(t *testing.T) {
	r := gin.New()
	r.POST("/api/funds/:fundId/chat/upload", NewChatHandler(&stubChatService{}, &stubUploadService{}).UploadToFundChat)

	body, ct := multipartBody(t, nil, "file", "extra.txt")
	w := doRequest(r, http.MethodPost, "/api/funds/f1/chat/upload", ct, body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "doc-1")
}

func TestGetDocumentReturnsContent(t *testing.T) {
	r := gin.New()
	r.GET("/api/documents/:documentId", NewFundHandler(&stubFundService{}).GetDocument)

	w := doRequest(r, http.MethodGet, "/api/documents/d1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "content")
}

func TestGetDocumentUnknownReturns404(t *testing.T) {
	r := gin.New()
	r.GET("/api/documents/:documentId", NewFundHandler(&stubFundService{err: service.ErrDocumentNotFound}).GetDocument)

	w := doRequest(r, http.MethodGet, "/api/documents/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
