package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fundchat-go/internal/model"
	"fundchat-go/internal/service"
	"fundchat-go/pkg/log"
)

// upgrader 把 HTTP 连接升级为 WebSocket，跨域校验交给部署层。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChatHandler 负责处理基金聊天的 API 请求。
type ChatHandler struct {
	chatService   service.ChatService
	uploadService service.UploadService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, uploadService service.UploadService) *ChatHandler {
	return &ChatHandler{chatService: chatService, uploadService: uploadService}
}

// Chat 处理 POST /api/funds/:fundId/chat。
func (h *ChatHandler) Chat(c *gin.Context) {
	fundID := c.Param("fundId")

	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Chat: 无效的请求负载: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": "message is required"})
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), fundID, req)
	if err != nil {
		if errors.Is(err, service.ErrFundNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "fund not found"})
			return
		}
		log.Error("Chat: 聊天请求失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatStream 处理 GET /api/funds/:fundId/chat/ws。
// 升级为 WebSocket 后每个连接串行处理多轮请求帧。
func (h *ChatHandler) ChatStream(c *gin.Context) {
	fundID := c.Param("fundId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("ChatStream: WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req model.ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("ChatStream: 连接异常关闭: %v", err)
			}
			return
		}
		if req.Message == "" {
			conn.WriteJSON(map[string]string{"type": "error", "detail": "message is required"})
			continue
		}

		if err := h.chatService.StreamChat(c.Request.Context(), fundID, req, conn); err != nil {
			if errors.Is(err, service.ErrFundNotFound) {
				conn.WriteJSON(map[string]string{"type": "error", "detail": "fund not found"})
				return
			}
			log.Error("ChatStream: 流式聊天失败", err)
			conn.WriteJSON(map[string]string{"type": "error", "detail": err.Error()})
		}
	}
}

// UploadAttachment 处理 POST /api/chat/upload：提取附件文本并缓存，
// 返回附件凭据与内容预览。
func (h *ChatHandler) UploadAttachment(c *gin.Context) {
	name, data, ok := readSingleFile(c)
	if !ok {
		return
	}

	att, preview, err := h.chatService.UploadAttachment(c.Request.Context(), name, data)
	if err != nil {
		log.Error("UploadAttachment: 缓存附件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attachment_id": att.AttachmentID,
		"file_name":     att.FileName,
		"file_type":     att.FileType,
		"preview":       preview,
	})
}

// UploadToFundChat 处理 POST /api/funds/:fundId/chat/upload：
// 聊天中上传的文件直接摄取进该基金的知识库。
func (h *ChatHandler) UploadToFundChat(c *gin.Context) {
	fundID := c.Param("fundId")

	name, data, ok := readSingleFile(c)
	if !ok {
		return
	}

	doc, err := h.uploadService.IngestToFund(c.Request.Context(), fundID, service.UploadedFile{Name: name, Data: data})
	if err != nil {
		if errors.Is(err, service.ErrFundNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "fund not found"})
			return
		}
		log.Error("UploadToFundChat: 摄取文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"doc_id":      doc.DocID,
		"fund_id":     doc.FundID,
		"file_name":   doc.FileName,
		"chunk_count": doc.ChunkCount,
	})
}

// readSingleFile 从表单中读取名为 file 的单个上传文件。
func readSingleFile(c *gin.Context) (string, []byte, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file is required"})
		return "", nil, false
	}
	f, err := fh.Open()
	if err != nil {
		log.Errorf("readSingleFile: 打开上传文件 %q 失败: %v", fh.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read uploaded file"})
		return "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		log.Errorf("readSingleFile: 读取上传文件 %q 失败: %v", fh.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"detail": "failed to read uploaded file"})
		return "", nil, false
	}
	return fh.Filename, data, true
}
