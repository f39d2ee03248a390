// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"fundchat-go/internal/config"
	"fundchat-go/internal/handler"
	"fundchat-go/internal/middleware"
	"fundchat-go/internal/model"
	"fundchat-go/internal/pipeline"
	"fundchat-go/internal/repository"
	"fundchat-go/internal/service"
	"fundchat-go/pkg/database"
	"fundchat-go/pkg/embedding"
	"fundchat-go/pkg/es"
	"fundchat-go/pkg/kafka"
	"fundchat-go/pkg/llm"
	"fundchat-go/pkg/log"
	"fundchat-go/pkg/storage"
	"fundchat-go/pkg/tika"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化外部依赖
	db := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err := db.AutoMigrate(&model.Fund{}, &model.FundDocument{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	redisClient := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	index, err := es.New(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("Elasticsearch 初始化失败: %v", err)
	}
	store, err := storage.New(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}

	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
	}

	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	// 4. 初始化 Repository
	fundRepo := repository.NewFundRepository(db)
	chatRepo := repository.NewChatRepository(redisClient)

	// 5. 初始化文件摄取管道
	extractor := pipeline.NewTextExtractor(tikaClient)
	var publisher pipeline.EventPublisher
	if producer != nil {
		publisher = producer
	}
	processor := pipeline.NewProcessor(
		extractor,
		embeddingClient,
		index,
		store,
		publisher,
		fundRepo,
		cfg.Ingest.ChunkSize,
		cfg.Ingest.ChunkOverlap,
	)

	// 6. 初始化 Service (依赖注入)
	queryService := service.NewQueryService(embeddingClient, index, llmClient, cfg.LLM.Prompt)
	fundService := service.NewFundService(fundRepo, queryService, index, store, extractor, cfg.LLM.Prompt)
	uploadService := service.NewUploadService(fundRepo, processor)
	chatService := service.NewChatService(
		fundRepo,
		chatRepo,
		queryService,
		llmClient,
		extractor,
		cfg.Ingest.AttachmentPreview,
		time.Duration(cfg.Ingest.AttachmentTTLMin)*time.Minute,
	)
	healthService := service.NewHealthService(db, cfg.Database.MySQL.DBName, map[string]service.Pinger{
		"elasticsearch": index,
		"minio":         store,
		"redis": service.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		"mysql": service.PingerFunc(func(ctx context.Context) error {
			sqlDB, derr := db.DB()
			if derr != nil {
				return derr
			}
			return sqlDB.PingContext(ctx)
		}),
	})

	// 7. 初始化导入 documents 目录：按子目录名建基金，已有同名文档则跳过
	initCtx, cancelInit := context.WithCancel(context.Background())
	defer cancelInit()
	go importSeedDocuments(initCtx, cfg.Ingest.DocumentsPath, fundRepo, uploadService)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	api := r.Group("/api")
	{
		api.POST("/upload", handler.NewUploadHandler(uploadService).Upload)
		api.POST("/query", handler.NewQueryHandler(queryService).Query)

		fundHandler := handler.NewFundHandler(fundService)
		chatHandler := handler.NewChatHandler(chatService, uploadService)
		funds := api.Group("/funds")
		{
			funds.GET("", fundHandler.ListFunds)
			funds.GET("/:fundId", fundHandler.GetFund)
			funds.DELETE("/:fundId", fundHandler.DeleteFund)
			funds.POST("/:fundId/chat", chatHandler.Chat)
			funds.GET("/:fundId/chat/ws", chatHandler.ChatStream)
			funds.POST("/:fundId/chat/upload", chatHandler.UploadToFundChat)
		}
		api.POST("/chat/upload", chatHandler.UploadAttachment)
		api.GET("/documents/:documentId", fundHandler.GetDocument)

		healthHandler := handler.NewHealthHandler(healthService)
		api.GET("/health", healthHandler.Health)
		api.GET("/metadata/status", healthHandler.MetadataStatus)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// importSeedDocuments 扫描目录并通过标准上传流程导入文档（幂等）。
// 一级子目录名作为基金名，子目录下的文件归属该基金；
// 直接位于根目录的文件归入以文件名（去扩展名）命名的基金。
func importSeedDocuments(ctx context.Context, dir string, fundRepo repository.FundRepository, uploadSvc service.UploadService) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("importSeedDocuments: 目录 %q 不存在或不可用，跳过初始化导入", dir)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Errorf("importSeedDocuments: 读取目录 %q 失败: %v", dir, err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			importDirAsFund(ctx, filepath.Join(dir, entry.Name()), entry.Name(), fundRepo, uploadSvc)
			continue
		}
		name := entry.Name()
		fundName := name[:len(name)-len(filepath.Ext(name))]
		importFileToFund(ctx, filepath.Join(dir, name), fundName, fundRepo, uploadSvc)
	}
}

func importDirAsFund(ctx context.Context, dir, fundName string, fundRepo repository.FundRepository, uploadSvc service.UploadService) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Errorf("importSeedDocuments: 读取目录 %q 失败: %v", dir, err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		importFileToFund(ctx, filepath.Join(dir, entry.Name()), fundName, fundRepo, uploadSvc)
	}
}

// importFileToFund 导入单个文件，同名基金下已有同名文档时跳过。
func importFileToFund(ctx context.Context, path, fundName string, fundRepo repository.FundRepository, uploadSvc service.UploadService) {
	fileName := filepath.Base(path)

	fund, err := fundRepo.GetFundByName(fundName)
	if err != nil {
		log.Errorf("importSeedDocuments: 查询基金 %q 失败: %v", fundName, err)
		return
	}
	if fund != nil {
		docs, derr := fundRepo.GetFundDocuments(fund.ID)
		if derr != nil {
			log.Errorf("importSeedDocuments: 查询基金 %q 文档失败: %v", fundName, derr)
			return
		}
		for _, d := range docs {
			if d.FileName == fileName {
				log.Infof("importSeedDocuments: 基金 %q 已含文档 %q, 跳过", fundName, fileName)
				return
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("importSeedDocuments: 读取文件 %q 失败: %v", path, err)
		return
	}

	_, results, err := uploadSvc.UploadFiles(ctx, fundName, []service.UploadedFile{{Name: fileName, Data: data}})
	if err != nil {
		log.Errorf("importSeedDocuments: 导入 %q 失败: %v", path, err)
		return
	}
	for _, r := range results {
		log.Infof("importSeedDocuments: %s -> %s (%s)", r.Filename, r.Status, r.Message)
	}
}
