package service

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fundchat-go/internal/model"
)

// 单个依赖探测的超时时间。
const probeTimeout = 3 * time.Second

// Pinger 抽象了一次依赖连通性探测。
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 允许用函数适配 Pinger。
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthReport 是整体健康探测的结果。
type HealthReport struct {
	Status     string            `json:"status"` // "healthy" 或 "degraded"
	Components map[string]string `json:"components"`
}

// MetadataStatus 是元数据存储状态接口的响应结构。
type MetadataStatus struct {
	Status        string   `json:"status"`
	Database      string   `json:"database"`
	Tables        []string `json:"tables"`
	FundCount     int64    `json:"fund_count"`
	DocumentCount int64    `json:"document_count"`
}

// HealthService 聚合各外部依赖的连通性探测。
type HealthService struct {
	db     *gorm.DB
	dbName string
	probes map[string]Pinger
}

// NewHealthService 创建一个新的 HealthService 实例。
// probes 的 key 是依赖名，出现在健康响应的 components 字段中。
func NewHealthService(db *gorm.DB, dbName string, probes map[string]Pinger) *HealthService {
	return &HealthService{db: db, dbName: dbName, probes: probes}
}

// Health 逐个探测依赖，任何一个失败时整体状态为 degraded。
func (s *HealthService) Health(ctx context.Context) HealthReport {
	report := HealthReport{Status: "healthy", Components: make(map[string]string, len(s.probes))}
	for name, p := range s.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			report.Status = "degraded"
			report.Components[name] = fmt.Sprintf("unavailable: %v", err)
			continue
		}
		report.Components[name] = "ok"
	}
	return report
}

// Metadata 探测元数据库并返回表与记录数概览。
func (s *HealthService) Metadata(ctx context.Context) (MetadataStatus, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return MetadataStatus{}, fmt.Errorf("failed to access database handle: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		return MetadataStatus{}, fmt.Errorf("database unreachable: %w", err)
	}

	tables, err := s.db.Migrator().GetTables()
	if err != nil {
		return MetadataStatus{}, fmt.Errorf("failed to list tables: %w", err)
	}

	status := MetadataStatus{Status: "connected", Database: s.dbName, Tables: tables}
	if err := s.db.Model(&model.Fund{}).Count(&status.FundCount).Error; err != nil {
		return MetadataStatus{}, fmt.Errorf("failed to count funds: %w", err)
	}
	if err := s.db.Model(&model.FundDocument{}).Count(&status.DocumentCount).Error; err != nil {
		return MetadataStatus{}, fmt.Errorf("failed to count documents: %w", err)
	}
	return status, nil
}
