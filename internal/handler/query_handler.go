package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fundchat-go/internal/model"
	"fundchat-go/internal/service"
	"fundchat-go/pkg/log"
)

// QueryHandler 负责处理检索增强查询的 API 请求。
type QueryHandler struct {
	queryService service.QueryService
}

// NewQueryHandler 创建一个新的 QueryHandler 实例。
func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Query 处理 POST /api/query：fund_id 为空时在整个索引范围内检索。
func (h *QueryHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Query: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": "query is required"})
		return
	}

	res, err := h.queryService.Query(c.Request.Context(), req.Query, service.QueryOptions{
		FundID:      req.FundID,
		TopK:        req.TopK,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		log.Error("Query: 查询失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.QueryResponse{Answer: res.Answer, Sources: res.Sources})
}
