package model

import "time"

// QueryRequest 定义了 /api/query 的请求体结构。
// FundID 为空时在整个索引范围内检索。
type QueryRequest struct {
	Query       string   `json:"query" binding:"required"`
	FundID      string   `json:"fund_id"`
	TopK        int      `json:"top_k"`
	DocumentIDs []string `json:"document_ids"`
}

// QueryResponse 定义了查询与聊天接口的响应结构。
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// ChatRequest 定义了 /api/funds/{id}/chat 的请求体结构。
// AttachmentID 引用此前通过聊天附件接口缓存的提取文本。
type ChatRequest struct {
	Message      string   `json:"message" binding:"required"`
	TopK         int      `json:"top_k"`
	DocumentIDs  []string `json:"document_ids"`
	SessionID    string   `json:"session_id"`
	AttachmentID string   `json:"attachment_id"`
}

// UploadFileResult 是上传接口中单个文件的处理结果。
type UploadFileResult struct {
	Filename string `json:"filename"`
	Status   string `json:"status"` // "success" 或 "error"
	Message  string `json:"message"`
	FundID   string `json:"fund_id,omitempty"`
	DocID    string `json:"doc_id,omitempty"`
}

// DocumentInfo 是基金详情中单个文档的条目。
type DocumentInfo struct {
	DocumentID string    `json:"document_id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// FundResponse 定义了返回给前端的基金结构。
// Summary 在摘要未生成前保持 "Empty" 占位，与旧前端约定兼容。
type FundResponse struct {
	FundID        string         `json:"fund_id"`
	FundName      string         `json:"fund_name"`
	Summary       string         `json:"summary"`
	SummaryStatus string         `json:"summary_status"`
	DocumentCount int            `json:"document_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Documents     []DocumentInfo `json:"documents"`
}

// FundListResponse 定义了基金列表接口的响应结构。
type FundListResponse struct {
	Funds []FundResponse `json:"funds"`
}

// NewFundResponse 从 ORM 模型组装响应 DTO，documents 可为 nil（列表场景）。
func NewFundResponse(f *Fund, docs []FundDocument) FundResponse {
	resp := FundResponse{
		FundID:        f.ID,
		FundName:      f.Name,
		Summary:       f.DisplaySummary(),
		SummaryStatus: string(f.SummaryStatus),
		DocumentCount: f.DocumentCount,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
		Documents:     []DocumentInfo{},
	}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, DocumentInfo{
			DocumentID: d.DocID,
			FileName:   d.FileName,
			FileType:   d.FileType,
			SizeBytes:  d.SizeBytes,
			CreatedAt:  d.CreatedAt,
		})
	}
	if docs != nil {
		resp.DocumentCount = len(docs)
	}
	return resp
}
