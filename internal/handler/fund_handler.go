package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fundchat-go/internal/service"
	"fundchat-go/pkg/log"
)

// FundHandler 负责处理基金管理的 API 请求。
type FundHandler struct {
	fundService service.FundService
}

// NewFundHandler 创建一个新的 FundHandler 实例。
func NewFundHandler(fundService service.FundService) *FundHandler {
	return &FundHandler{fundService: fundService}
}

// ListFunds 处理 GET /api/funds。
func (h *FundHandler) ListFunds(c *gin.Context) {
	resp, err := h.fundService.ListFunds()
	if err != nil {
		log.Error("ListFunds: 获取基金列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetFund 处理 GET /api/funds/:fundId，读取时惰性生成缺失的摘要。
func (h *FundHandler) GetFund(c *gin.Context) {
	fundID := c.Param("fundId")

	resp, err := h.fundService.GetFundDetail(c.Request.Context(), fundID)
	if err != nil {
		if errors.Is(err, service.ErrFundNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "fund not found"})
			return
		}
		log.Error("GetFund: 获取基金详情失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteFund 处理 DELETE /api/funds/:fundId。
func (h *FundHandler) DeleteFund(c *gin.Context) {
	fundID := c.Param("fundId")

	if err := h.fundService.DeleteFund(c.Request.Context(), fundID); err != nil {
		if errors.Is(err, service.ErrFundNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "fund not found"})
			return
		}
		log.Error("DeleteFund: 删除基金失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "fund deleted", "fund_id": fundID})
}

// GetDocument 处理 GET /api/documents/:documentId，回读已存文档的文本。
func (h *FundHandler) GetDocument(c *gin.Context) {
	docID := c.Param("documentId")

	doc, content, err := h.fundService.GetDocumentContent(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "document not found"})
			return
		}
		log.Error("GetDocument: 读取文档内容失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"document_id": doc.DocID,
		"fund_id":     doc.FundID,
		"file_name":   doc.FileName,
		"file_type":   doc.FileType,
		"content":     content,
	})
}
