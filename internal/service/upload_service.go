package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"fundchat-go/internal/model"
	"fundchat-go/internal/repository"
	"fundchat-go/pkg/log"
)

// DocumentProcessor 抽象了单个文档的摄取流水线。
type DocumentProcessor interface {
	Process(ctx context.Context, fundID string, data []byte, fileName string) (*model.FundDocument, error)
}

// UploadedFile 是从 multipart 表单读出的一个待摄取文件。
type UploadedFile struct {
	Name string
	Data []byte
}

// UploadService 定义了文档上传摄取的接口。
type UploadService interface {
	// UploadFiles 把一批文件摄取到指定名称的基金下，基金不存在则创建。
	// 文件间相互独立，单个失败不中断批次。
	UploadFiles(ctx context.Context, fundName string, files []UploadedFile) (string, []model.UploadFileResult, error)
	// IngestToFund 把单个文件摄取到已存在的基金下。
	IngestToFund(ctx context.Context, fundID string, file UploadedFile) (*model.FundDocument, error)
}

type uploadService struct {
	fundRepo  repository.FundRepository
	processor DocumentProcessor
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(fundRepo repository.FundRepository, processor DocumentProcessor) UploadService {
	return &uploadService{fundRepo: fundRepo, processor: processor}
}

// findOrCreateFund 按名称查找基金，不存在则以空摘要状态创建。
func (s *uploadService) findOrCreateFund(fundName string) (*model.Fund, error) {
	fund, err := s.fundRepo.GetFundByName(fundName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up fund: %w", err)
	}
	if fund != nil {
		return fund, nil
	}

	fund = &model.Fund{
		ID:            uuid.NewString(),
		Name:          fundName,
		SummaryStatus: model.SummaryEmpty,
	}
	if err := s.fundRepo.CreateFund(fund); err != nil {
		return nil, fmt.Errorf("failed to create fund: %w", err)
	}
	log.Infof("[UploadService] 创建基金 %s (%s)", fund.ID, fundName)
	return fund, nil
}

func (s *uploadService) UploadFiles(ctx context.Context, fundName string, files []UploadedFile) (string, []model.UploadFileResult, error) {
	fund, err := s.findOrCreateFund(fundName)
	if err != nil {
		return "", nil, err
	}

	// 文件按顺序逐个摄取，摄取内部的并发由流水线自行控制。
	results := make([]model.UploadFileResult, 0, len(files))
	for _, f := range files {
		doc, perr := s.processor.Process(ctx, fund.ID, f.Data, f.Name)
		if perr != nil {
			log.Errorf("[UploadService] 摄取文件 %q 失败: %v", f.Name, perr)
			results = append(results, model.UploadFileResult{
				Filename: f.Name,
				Status:   "error",
				Message:  perr.Error(),
				FundID:   fund.ID,
			})
			continue
		}
		results = append(results, model.UploadFileResult{
			Filename: f.Name,
			Status:   "success",
			Message:  fmt.Sprintf("indexed %d chunks", doc.ChunkCount),
			FundID:   fund.ID,
			DocID:    doc.DocID,
		})
	}
	return fund.ID, results, nil
}

func (s *uploadService) IngestToFund(ctx context.Context, fundID string, file UploadedFile) (*model.FundDocument, error) {
	fund, err := s.fundRepo.GetFundByID(fundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fund: %w", err)
	}
	if fund == nil {
		return nil, ErrFundNotFound
	}
	return s.processor.Process(ctx, fundID, file.Data, file.Name)
}
