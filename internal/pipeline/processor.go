// Package pipeline 定义了文档摄取的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"time"
	"unicode/utf8"

	"fundchat-go/internal/model"
	"fundchat-go/internal/repository"
	"fundchat-go/pkg/embedding"
	"fundchat-go/pkg/kafka"
	"fundchat-go/pkg/log"

	"github.com/google/uuid"
)

// VectorIndex 抽象了管道需要的向量索引写入与补偿删除能力。
type VectorIndex interface {
	UpsertChunk(ctx context.Context, chunk model.Chunk) error
	DeleteByDoc(ctx context.Context, docID string) error
}

// ObjectStore 抽象了原始文档字节的保存能力。
type ObjectStore interface {
	PutObject(ctx context.Context, objectName string, data []byte, contentType string) error
}

// EventPublisher 抽象了摄取完成事件的发布能力。
type EventPublisher interface {
	PublishDocumentIndexed(ctx context.Context, event kafka.DocumentIndexedEvent) error
}

// Processor 封装了单个文件从字节到已索引文档的完整摄取流程。
// 同一请求内的多个文件由上层顺序调用 Process，互不影响。
type Processor struct {
	extractor       *TextExtractor
	embeddingClient embedding.Client
	index           VectorIndex
	store           ObjectStore
	publisher       EventPublisher
	fundRepo        repository.FundRepository
	chunkSize       int
	chunkOverlap    int
}

// NewProcessor 创建一个新的 Processor 实例。publisher 可以为 nil。
func NewProcessor(
	extractor *TextExtractor,
	embeddingClient embedding.Client,
	index VectorIndex,
	store ObjectStore,
	publisher EventPublisher,
	fundRepo repository.FundRepository,
	chunkSize int,
	chunkOverlap int,
) *Processor {
	return &Processor{
		extractor:       extractor,
		embeddingClient: embeddingClient,
		index:           index,
		store:           store,
		publisher:       publisher,
		fundRepo:        fundRepo,
		chunkSize:       chunkSize,
		chunkOverlap:    chunkOverlap,
	}
}

// Process 摄取一份文件：保存原始字节、提取文本、分块、逐块向量化并索引，
// 最后落盘文档元数据。向量先写、元数据后写；分块中途失败时删除该文档
// 已写入的分块再返回错误，两个存储之间不会留下孤儿向量。
func (p *Processor) Process(ctx context.Context, fundID string, data []byte, fileName string) (*model.FundDocument, error) {
	docID := uuid.NewString()
	log.Infof("[Processor] 开始摄取文件, fund: %s, file: %s, doc: %s, size: %d", fundID, fileName, docID, len(data))

	// 1. 保存原始文件到对象存储
	ext := filepath.Ext(fileName)
	objectName := fmt.Sprintf("documents/%s%s", docID, ext)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := p.store.PutObject(ctx, objectName, data, contentType); err != nil {
		log.Errorf("[Processor] 保存原始文件失败, file: %s, err: %v", fileName, err)
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	// 2. 提取文本（内部已降级，永不失败）
	text := p.extractor.Extract(ctx, data, fileName)
	log.Infof("[Processor] 文本提取完成, file: %s, 长度: %d 字符", fileName, utf8.RuneCountInString(text))

	// 3. 文本切块
	chunks := splitText(text, p.chunkSize, p.chunkOverlap)
	if len(chunks) == 0 {
		return nil, errors.New("未生成任何文本分块")
	}
	log.Infof("[Processor] 文本分块完成, file: %s, 共 %d 个分块", fileName, len(chunks))

	// 4. 逐块向量化并写入索引
	createdAt := time.Now().UTC().Format(time.RFC3339)
	fileType := FileType(fileName)
	for i, chunkText := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, chunkText)
		if err != nil {
			log.Errorf("[Processor] 分块 %d 向量化失败, file: %s, err: %v", i, fileName, err)
			p.compensate(ctx, docID)
			return nil, fmt.Errorf("块 %d 向量化失败: %w", i, err)
		}

		chunk := model.Chunk{
			ChunkID:      fmt.Sprintf("%s_%d", docID, i),
			DocID:        docID,
			FundID:       fundID,
			TextContent:  chunkText,
			Vector:       vector,
			FileName:     fileName,
			FileType:     fileType,
			ChunkNum:     i,
			ChunkCount:   len(chunks),
			ModelVersion: p.embeddingClient.Model(),
			CreatedAt:    createdAt,
		}
		if err := p.index.UpsertChunk(ctx, chunk); err != nil {
			log.Errorf("[Processor] 索引分块 %d 失败, file: %s, err: %v", i, fileName, err)
			p.compensate(ctx, docID)
			return nil, fmt.Errorf("索引块 %d 失败: %w", i, err)
		}
	}

	// 5. 落盘文档元数据（同一事务内递增文档计数）
	doc := &model.FundDocument{
		DocID:      docID,
		FundID:     fundID,
		FileName:   fileName,
		FileType:   fileType,
		SizeBytes:  int64(len(data)),
		ObjectName: objectName,
		ChunkCount: len(chunks),
	}
	if err := p.fundRepo.AddDocument(doc); err != nil {
		log.Errorf("[Processor] 保存文档元数据失败, file: %s, err: %v", fileName, err)
		p.compensate(ctx, docID)
		return nil, fmt.Errorf("保存文档元数据失败: %w", err)
	}

	// 6. 发布摄取完成事件，失败仅记录
	if p.publisher != nil {
		event := kafka.DocumentIndexedEvent{
			FundID:     fundID,
			DocID:      docID,
			FileName:   fileName,
			FileType:   fileType,
			ChunkCount: len(chunks),
			SizeBytes:  doc.SizeBytes,
			IndexedAt:  time.Now().UTC(),
		}
		if err := p.publisher.PublishDocumentIndexed(ctx, event); err != nil {
			log.Warnf("[Processor] 发布摄取事件失败, doc: %s, err: %v", docID, err)
		}
	}

	log.Infof("[Processor] 文件摄取成功, file: %s, doc: %s, chunks: %d", fileName, docID, len(chunks))
	return doc, nil
}

// compensate 删除该文档已写入的分块，清理只做尽力而为并记录失败。
func (p *Processor) compensate(ctx context.Context, docID string) {
	if err := p.index.DeleteByDoc(ctx, docID); err != nil {
		log.Warnf("[Processor] 补偿清理分块失败, doc: %s, err: %v", docID, err)
	}
}

// splitText 将长文本按指定大小和重叠进行切分，窗口按 rune 计数，顺序保持。
func splitText(text string, chunkSize int, chunkOverlap int) []string {
	if chunkSize <= chunkOverlap {
		// 非法重叠配置退回无重叠切分
		return simpleSplit(text, chunkSize)
	}

	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
