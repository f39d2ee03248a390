// Package kafka 提供了文档摄取事件的消息发布功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"fundchat-go/internal/config"
	"fundchat-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// DocumentIndexedEvent 是一次文档成功摄取后发布的事件。
// 供审计或下游同步消费，发送失败不影响请求本身。
type DocumentIndexedEvent struct {
	FundID     string    `json:"fund_id"`
	DocID      string    `json:"doc_id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	ChunkCount int       `json:"chunk_count"`
	SizeBytes  int64     `json:"size_bytes"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Producer 封装了摄取事件主题的 Kafka 生产者。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// PublishDocumentIndexed 发布一条文档摄取完成事件，按基金分区。
func (p *Producer) PublishDocumentIndexed(ctx context.Context, event DocumentIndexedEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.FundID),
		Value: eventBytes,
	})
}

// Close 关闭生产者连接。
func (p *Producer) Close() error {
	return p.writer.Close()
}
