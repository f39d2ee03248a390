// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatAttachment 代表一次聊天附件上传后缓存的提取文本。
// 仅存活于 Redis，带 TTL，随会话过期。
type ChatAttachment struct {
	AttachmentID string    `json:"attachment_id"`
	FileName     string    `json:"file_name"`
	FileType     string    `json:"file_type"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
}
