package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/api"
	"github.com/qs3c/docgen_server/internal/api/handler"
	"github.com/qs3c/docgen_server/internal/database"
	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/pkg/ws"
	"github.com/qs3c/docgen_server/internal/repository"
	"github.com/qs3c/docgen_server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.JobQueue)
	publisher := pubsub.NewPublisher(rdb)

	// worker 发布的进度经 Redis 转发到 WebSocket
	wsHub := ws.NewHub()
	go func() {
		if err := pubsub.NewSubscriber(rdb).Subscribe(ctx, wsHub.Forward); err != nil && ctx.Err() == nil {
			log.Printf("Progress subscriber stopped: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	jobRepo := repository.NewJobRepository(db)
	eventRepo := repository.NewJobEventRepository(db)
	repoRepo := repository.NewRepositoryRepository(db)

	// 初始化 Service
	jobService := service.NewJobService(jobRepo, eventRepo, repoRepo, jobQueue, publisher, cfg)
	repositoryService := service.NewRepositoryService(repoRepo)
	webhookService := service.NewWebhookService(jobService, repoRepo, &cfg.Webhook)

	// 初始化 Router
	router := api.NewRouter(
		handler.NewJobHandler(jobService),
		handler.NewRepositoryHandler(repositoryService),
		handler.NewProvidersHandler(jobService),
		handler.NewWebhookHandler(webhookService),
		handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins),
		cfg,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Received shutdown signal")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}
