// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"

	"fundchat-go/internal/model"

	"gorm.io/gorm"
)

// FundRepository 接口定义了基金与文档元数据的持久化操作。
// 查询未命中时返回 (nil, nil)，由上层决定是否视为 404。
type FundRepository interface {
	CreateFund(fund *model.Fund) error
	GetFundByID(id string) (*model.Fund, error)
	GetFundByName(name string) (*model.Fund, error)
	ListFunds() ([]model.Fund, error)
	DeleteFund(id string) error

	UpdateSummary(id string, summary string, status model.SummaryStatus) error
	UpdateSummaryStatus(id string, status model.SummaryStatus) error
	UpdateDocumentCount(id string, count int) error

	AddDocument(doc *model.FundDocument) error
	GetFundDocuments(fundID string) ([]model.FundDocument, error)
	GetDocument(docID string) (*model.FundDocument, error)
}

// fundRepository 是 FundRepository 接口的 GORM 实现。
type fundRepository struct {
	db *gorm.DB
}

// NewFundRepository 创建一个新的 FundRepository 实例。
func NewFundRepository(db *gorm.DB) FundRepository {
	return &fundRepository{db: db}
}

// CreateFund 在数据库中创建一条基金记录。
func (r *fundRepository) CreateFund(fund *model.Fund) error {
	return r.db.Create(fund).Error
}

// GetFundByID 根据 ID 检索基金记录。
func (r *fundRepository) GetFundByID(id string) (*model.Fund, error) {
	var fund model.Fund
	err := r.db.Where("id = ?", id).First(&fund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fund, nil
}

// GetFundByName 根据名称检索基金记录，上传时用于"首次上传才创建"的判断。
func (r *fundRepository) GetFundByName(name string) (*model.Fund, error) {
	var fund model.Fund
	err := r.db.Where("name = ?", name).First(&fund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fund, nil
}

// ListFunds 返回全部基金记录。
func (r *fundRepository) ListFunds() ([]model.Fund, error) {
	var funds []model.Fund
	err := r.db.Order("created_at asc").Find(&funds).Error
	return funds, err
}

// DeleteFund 在一个事务中删除基金记录及其全部文档元数据。
func (r *fundRepository) DeleteFund(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("fund_id = ?", id).Delete(&model.FundDocument{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Fund{}).Error
	})
}

// UpdateSummary 持久化生成的摘要文本和状态。
func (r *fundRepository) UpdateSummary(id string, summary string, status model.SummaryStatus) error {
	return r.db.Model(&model.Fund{}).Where("id = ?", id).
		Updates(map[string]interface{}{"summary": summary, "summary_status": status}).Error
}

// UpdateSummaryStatus 仅更新摘要状态字段。
func (r *fundRepository) UpdateSummaryStatus(id string, status model.SummaryStatus) error {
	return r.db.Model(&model.Fund{}).Where("id = ?", id).
		Update("summary_status", status).Error
}

// UpdateDocumentCount 将文档计数与实际文档数对齐。
func (r *fundRepository) UpdateDocumentCount(id string, count int) error {
	return r.db.Model(&model.Fund{}).Where("id = ?", id).
		Update("document_count", count).Error
}

// AddDocument 在一个事务中落盘文档元数据并递增基金的文档计数，
// 保证 document_count 与文档行数不再只靠约定维持一致。
func (r *fundRepository) AddDocument(doc *model.FundDocument) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return tx.Model(&model.Fund{}).Where("id = ?", doc.FundID).
			Update("document_count", gorm.Expr("document_count + ?", 1)).Error
	})
}

// GetFundDocuments 获取某个基金的全部文档元数据，按创建时间排序。
func (r *fundRepository) GetFundDocuments(fundID string) ([]model.FundDocument, error) {
	var docs []model.FundDocument
	err := r.db.Where("fund_id = ?", fundID).Order("created_at asc").Find(&docs).Error
	return docs, err
}

// GetDocument 根据文档 ID 检索单条文档元数据。
func (r *fundRepository) GetDocument(docID string) (*model.FundDocument, error) {
	var doc model.FundDocument
	err := r.db.Where("doc_id = ?", docID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
