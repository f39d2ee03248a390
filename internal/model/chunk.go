package model

// Chunk 代表存储在 Elasticsearch 向量索引中的文本分块。
// ChunkID 形如 "{doc_id}_{chunk_num}"，作为索引文档的主键。
type Chunk struct {
	ChunkID      string    `json:"chunk_id"`
	DocID        string    `json:"doc_id"`
	FundID       string    `json:"fund_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	FileName     string    `json:"file_name"`
	FileType     string    `json:"file_type"`
	ChunkNum     int       `json:"chunk_num"`
	ChunkCount   int       `json:"chunk_count"`
	ModelVersion string    `json:"model_version"`
	CreatedAt    string    `json:"created_at"`
}

// ChunkHit 是一次向量检索的单条命中结果。
type ChunkHit struct {
	Chunk Chunk
	Score float64
}

// Source 定义了返回给调用方的答案来源条目。
type Source struct {
	ChunkID     string  `json:"chunk_id"`
	DocID       string  `json:"doc_id"`
	FileName    string  `json:"file_name"`
	FileType    string  `json:"file_type"`
	Chunk       int     `json:"chunk"`
	TotalChunks int     `json:"total_chunks"`
	Score       float64 `json:"score"`
}

// SourceFromHit 将检索命中转换为来源条目。
func SourceFromHit(h ChunkHit) Source {
	return Source{
		ChunkID:     h.Chunk.ChunkID,
		DocID:       h.Chunk.DocID,
		FileName:    h.Chunk.FileName,
		FileType:    h.Chunk.FileType,
		Chunk:       h.Chunk.ChunkNum,
		TotalChunks: h.Chunk.ChunkCount,
		Score:       h.Score,
	}
}
