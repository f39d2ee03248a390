// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fundchat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// 会话历史的保留上限与存活时间。
const (
	historyLimit = 20
	historyTTL   = 7 * 24 * time.Hour
)

// ChatRepository 定义了聊天历史与附件上下文的操作接口。
// 两类数据都是会话级的临时状态，只存 Redis。
type ChatRepository interface {
	GetHistory(ctx context.Context, fundID, sessionID string) ([]model.ChatMessage, error)
	AppendExchange(ctx context.Context, fundID, sessionID, question, answer string) error

	SaveAttachment(ctx context.Context, att model.ChatAttachment, ttl time.Duration) error
	GetAttachment(ctx context.Context, attachmentID string) (*model.ChatAttachment, error)
}

type redisChatRepository struct {
	redisClient *redis.Client
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(redisClient *redis.Client) ChatRepository {
	return &redisChatRepository{redisClient: redisClient}
}

func historyKey(fundID, sessionID string) string {
	return fmt.Sprintf("chat:%s:%s", fundID, sessionID)
}

func attachmentKey(attachmentID string) string {
	return fmt.Sprintf("attachment:%s", attachmentID)
}

// GetHistory 从 Redis 获取某个基金会话的对话历史。
func (r *redisChatRepository) GetHistory(ctx context.Context, fundID, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, historyKey(fundID, sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil // 尚无历史
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// AppendExchange 追加一轮问答到会话历史，只保留最近 historyLimit 条。
func (r *redisChatRepository) AppendExchange(ctx context.Context, fundID, sessionID, question, answer string) error {
	messages, err := r.GetHistory(ctx, fundID, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	messages = append(messages,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	if len(messages) > historyLimit {
		messages = messages[len(messages)-historyLimit:]
	}

	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(fundID, sessionID), jsonData, historyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

// SaveAttachment 缓存聊天附件提取出的文本，带 TTL。
func (r *redisChatRepository) SaveAttachment(ctx context.Context, att model.ChatAttachment, ttl time.Duration) error {
	jsonData, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("failed to marshal chat attachment: %w", err)
	}
	if err := r.redisClient.Set(ctx, attachmentKey(att.AttachmentID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set chat attachment: %w", err)
	}
	return nil
}

// GetAttachment 读取缓存的附件文本，不存在或已过期时返回 (nil, nil)。
func (r *redisChatRepository) GetAttachment(ctx context.Context, attachmentID string) (*model.ChatAttachment, error) {
	jsonData, err := r.redisClient.Get(ctx, attachmentKey(attachmentID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat attachment: %w", err)
	}
	var att model.ChatAttachment
	if err := json.Unmarshal([]byte(jsonData), &att); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat attachment: %w", err)
	}
	return &att, nil
}
