package service

import (
	"context"
	"errors"
	"fmt"

	"fundchat-go/internal/config"
	"fundchat-go/internal/model"
	"fundchat-go/internal/pipeline"
	"fundchat-go/internal/repository"
	"fundchat-go/pkg/log"
)

// 业务层的资源未找到错误，handler 据此返回 404。
var (
	ErrFundNotFound     = errors.New("fund not found")
	ErrDocumentNotFound = errors.New("document not found")
)

// 摘要默认提示词，多文档变体带文档数量占位符。
const (
	defaultSummarySingle = "Please provide a comprehensive summary of this fund document. " +
		"Cover the fund's investment strategy, key holdings, fees, risks, and performance highlights."

	defaultSummaryMulti = "Please provide a comprehensive summary of this fund based on all %d available documents. " +
		"Synthesize the investment strategy, key holdings, fees, risks, and performance highlights across the documents."
)

// VectorCleaner 抽象了按基金清理向量的能力。
type VectorCleaner interface {
	DeleteByFund(ctx context.Context, fundID string) error
}

// ObjectStore 抽象了基金服务需要的对象存储操作。
type ObjectStore interface {
	GetObject(ctx context.Context, objectName string) ([]byte, error)
	RemoveObject(ctx context.Context, objectName string) error
}

// FundService 定义了基金管理的接口。
type FundService interface {
	ListFunds() (model.FundListResponse, error)
	// GetFundDetail 返回基金详情，读取时惰性生成缺失的摘要。
	GetFundDetail(ctx context.Context, fundID string) (model.FundResponse, error)
	GetFund(fundID string) (*model.Fund, error)
	DeleteFund(ctx context.Context, fundID string) error
	// GetDocumentContent 从对象存储取回原始文件并重新提取文本。
	GetDocumentContent(ctx context.Context, docID string) (*model.FundDocument, string, error)
}

type fundService struct {
	fundRepo  repository.FundRepository
	querySvc  QueryService
	cleaner   VectorCleaner
	store     ObjectStore
	extractor *pipeline.TextExtractor
	promptCfg config.LLMPromptConfig
}

// NewFundService 创建一个新的 FundService 实例。
func NewFundService(
	fundRepo repository.FundRepository,
	querySvc QueryService,
	cleaner VectorCleaner,
	store ObjectStore,
	extractor *pipeline.TextExtractor,
	promptCfg config.LLMPromptConfig,
) FundService {
	return &fundService{
		fundRepo:  fundRepo,
		querySvc:  querySvc,
		cleaner:   cleaner,
		store:     store,
		extractor: extractor,
		promptCfg: promptCfg,
	}
}

// ListFunds 返回所有基金的概览，不触发摘要生成。
func (s *fundService) ListFunds() (model.FundListResponse, error) {
	funds, err := s.fundRepo.ListFunds()
	if err != nil {
		return model.FundListResponse{}, fmt.Errorf("failed to list funds: %w", err)
	}

	resp := model.FundListResponse{Funds: make([]model.FundResponse, 0, len(funds))}
	for i := range funds {
		resp.Funds = append(resp.Funds, model.NewFundResponse(&funds[i], nil))
	}
	return resp, nil
}

func (s *fundService) GetFund(fundID string) (*model.Fund, error) {
	fund, err := s.fundRepo.GetFundByID(fundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fund: %w", err)
	}
	if fund == nil {
		return nil, ErrFundNotFound
	}
	return fund, nil
}

// GetFundDetail 读取基金详情。摘要处于未生成或失败态时在本次读取中
// 尝试生成；生成失败只记状态，不影响详情本身的返回。
func (s *fundService) GetFundDetail(ctx context.Context, fundID string) (model.FundResponse, error) {
	fund, err := s.GetFund(fundID)
	if err != nil {
		return model.FundResponse{}, err
	}

	docs, err := s.fundRepo.GetFundDocuments(fundID)
	if err != nil {
		return model.FundResponse{}, fmt.Errorf("failed to load fund documents: %w", err)
	}

	if fund.SummaryStatus != model.SummaryGenerated && len(docs) > 0 {
		s.generateSummary(ctx, fund, len(docs))
	}

	// 文档数与实际记录不一致时就地校正。
	if fund.DocumentCount != len(docs) {
		log.Warnf("[FundService] 基金 %s 文档计数不一致: %d != %d, 校正", fundID, fund.DocumentCount, len(docs))
		if err := s.fundRepo.UpdateDocumentCount(fundID, len(docs)); err != nil {
			log.Errorf("[FundService] 校正文档计数失败: %v", err)
		} else {
			fund.DocumentCount = len(docs)
		}
	}

	return model.NewFundResponse(fund, docs), nil
}

// generateSummary 执行一次摘要生成尝试并更新 fund 的内存副本。
func (s *fundService) generateSummary(ctx context.Context, fund *model.Fund, docCount int) {
	log.Infof("[FundService] 基金 %s 摘要缺失, 开始生成 (文档数: %d)", fund.ID, docCount)
	if err := s.fundRepo.UpdateSummaryStatus(fund.ID, model.SummaryGenerating); err != nil {
		log.Errorf("[FundService] 更新摘要状态失败: %v", err)
		return
	}
	fund.SummaryStatus = model.SummaryGenerating

	res, err := s.querySvc.Query(ctx, s.summaryPrompt(docCount), QueryOptions{
		FundID: fund.ID,
		TopK:   broadTopK,
	})

	if err != nil || res.Degraded || res.NoInfo || res.Answer == "" {
		if err != nil {
			log.Errorf("[FundService] 基金 %s 摘要生成失败: %v", fund.ID, err)
		} else {
			log.Warnf("[FundService] 基金 %s 摘要生成无有效结果 (degraded: %v)", fund.ID, res.Degraded)
		}
		if uerr := s.fundRepo.UpdateSummaryStatus(fund.ID, model.SummaryFailed); uerr != nil {
			log.Errorf("[FundService] 更新摘要状态失败: %v", uerr)
		}
		fund.SummaryStatus = model.SummaryFailed
		return
	}

	if err := s.fundRepo.UpdateSummary(fund.ID, res.Answer, model.SummaryGenerated); err != nil {
		log.Errorf("[FundService] 保存摘要失败: %v", err)
		fund.SummaryStatus = model.SummaryFailed
		return
	}
	fund.Summary = res.Answer
	fund.SummaryStatus = model.SummaryGenerated
	log.Infof("[FundService] 基金 %s 摘要生成完成 (%d 字符)", fund.ID, len(res.Answer))
}

func (s *fundService) summaryPrompt(docCount int) string {
	if docCount > 1 {
		if s.promptCfg.SummaryMulti != "" {
			return fmt.Sprintf(s.promptCfg.SummaryMulti, docCount)
		}
		return fmt.Sprintf(defaultSummaryMulti, docCount)
	}
	if s.promptCfg.SummarySingle != "" {
		return s.promptCfg.SummarySingle
	}
	return defaultSummarySingle
}

// DeleteFund 删除基金及其元数据，随后清理向量索引与对象存储。
// 下游清理失败只记录日志，元数据删除本身已生效。
func (s *fundService) DeleteFund(ctx context.Context, fundID string) error {
	fund, err := s.GetFund(fundID)
	if err != nil {
		return err
	}

	docs, err := s.fundRepo.GetFundDocuments(fundID)
	if err != nil {
		return fmt.Errorf("failed to load fund documents: %w", err)
	}

	if err := s.fundRepo.DeleteFund(fundID); err != nil {
		return fmt.Errorf("failed to delete fund: %w", err)
	}
	log.Infof("[FundService] 已删除基金 %s (%s), 文档数: %d", fundID, fund.Name, len(docs))

	if err := s.cleaner.DeleteByFund(ctx, fundID); err != nil {
		log.Errorf("[FundService] 清理基金 %s 向量失败: %v", fundID, err)
	}
	for _, d := range docs {
		if err := s.store.RemoveObject(ctx, d.ObjectName); err != nil {
			log.Errorf("[FundService] 删除对象 %s 失败: %v", d.ObjectName, err)
		}
	}
	return nil
}

// GetDocumentContent 取回文档元数据与重新提取出的文本内容。
func (s *fundService) GetDocumentContent(ctx context.Context, docID string) (*model.FundDocument, string, error) {
	doc, err := s.fundRepo.GetDocument(docID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return nil, "", ErrDocumentNotFound
	}

	data, err := s.store.GetObject(ctx, doc.ObjectName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch document object: %w", err)
	}
	return doc, s.extractor.Extract(ctx, data, doc.FileName), nil
}
