package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fundchat-go/internal/service"
	"fundchat-go/pkg/log"
)

// HealthHandler 负责处理健康探测的 API 请求。
type HealthHandler struct {
	healthService *service.HealthService
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(healthService *service.HealthService) *HealthHandler {
	return &HealthHandler{healthService: healthService}
}

// Health 处理 GET /api/health，依赖故障时返回 degraded 但仍是 200，
// 探活方根据 components 字段判断具体依赖。
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.healthService.Health(c.Request.Context()))
}

// MetadataStatus 处理 GET /api/metadata/status。
func (h *HealthHandler) MetadataStatus(c *gin.Context) {
	status, err := h.healthService.Metadata(c.Request.Context())
	if err != nil {
		log.Error("MetadataStatus: 元数据库探测失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
