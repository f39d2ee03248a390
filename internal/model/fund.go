// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// SummaryStatus 是基金摘要的显式状态枚举。
// 取代了旧实现中以 "Empty" 字符串哨兵判断状态的做法。
type SummaryStatus string

const (
	SummaryEmpty      SummaryStatus = "empty"      // 尚未生成
	SummaryGenerating SummaryStatus = "generating" // 正在生成
	SummaryGenerated  SummaryStatus = "generated"  // 已生成，终态
	SummaryFailed     SummaryStatus = "failed"     // 生成失败，下次读取重试
)

// SummarySentinel 是对外 JSON 中未生成摘要时的占位文本，与前端约定保持不变。
const SummarySentinel = "Empty"

// Fund 定义了 funds 表的 ORM 模型。
type Fund struct {
	ID            string        `gorm:"type:varchar(36);primaryKey" json:"fundId"`
	Name          string        `gorm:"type:varchar(255);not null;uniqueIndex" json:"fundName"`
	Summary       string        `gorm:"type:text" json:"summary"`
	SummaryStatus SummaryStatus `gorm:"type:varchar(16);not null;default:'empty'" json:"summaryStatus"`
	DocumentCount int           `gorm:"not null;default:0" json:"documentCount"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Fund) TableName() string {
	return "funds"
}

// DisplaySummary 返回对外展示的摘要文本，未生成时返回占位哨兵。
func (f *Fund) DisplaySummary() string {
	if f.SummaryStatus == SummaryGenerated && f.Summary != "" {
		return f.Summary
	}
	return SummarySentinel
}

// FundDocument 定义了 fund_documents 表的 ORM 模型。
// 记录一次成功摄取的文档元数据，创建后不可变。
type FundDocument struct {
	DocID      string    `gorm:"type:varchar(36);primaryKey" json:"docId"`
	FundID     string    `gorm:"type:varchar(36);not null;index" json:"fundId"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	FileType   string    `gorm:"type:varchar(32)" json:"fileType"`
	SizeBytes  int64     `gorm:"not null;default:0" json:"sizeBytes"`
	ObjectName string    `gorm:"type:varchar(255)" json:"objectName"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (FundDocument) TableName() string {
	return "fund_documents"
}
