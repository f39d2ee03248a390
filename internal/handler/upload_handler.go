// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fundchat-go/internal/service"
	"fundchat-go/pkg/log"
)

// UploadHandler 负责处理文档上传摄取的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService}
}

// Upload 处理 POST /api/upload：multipart 表单携带 fund_name 与 files。
// 输入校验失败在任何副作用发生之前拒绝。
func (h *UploadHandler) Upload(c *gin.Context) {
	fundName := c.PostForm("fund_name")
	if fundName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "fund_name is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		log.Warnf("Upload: 解析 multipart 表单失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid multipart form"})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "at least one file is required"})
		return
	}

	files := make([]service.UploadedFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, oerr := fh.Open()
		if oerr != nil {
			log.Errorf("Upload: 打开上传文件 %q 失败: %v", fh.Filename, oerr)
			c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read uploaded file: " + fh.Filename})
			return
		}
		data, rerr := io.ReadAll(f)
		f.Close()
		if rerr != nil {
			log.Errorf("Upload: 读取上传文件 %q 失败: %v", fh.Filename, rerr)
			c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read uploaded file: " + fh.Filename})
			return
		}
		files = append(files, service.UploadedFile{Name: fh.Filename, Data: data})
	}

	fundID, results, err := h.uploadService.UploadFiles(c.Request.Context(), fundName, files)
	if err != nil {
		log.Error("Upload: 上传批次处理失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fund_id": fundID, "results": results})
}
