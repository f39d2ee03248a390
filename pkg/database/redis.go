package database

import (
	"context"

	"fundchat-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// NewRedis 建立 Redis 客户端连接并做一次连通性检查。
func NewRedis(addr, password string, db int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
	return rdb
}
