package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/ai"
	"github.com/qs3c/docgen_server/internal/analyzer"
	"github.com/qs3c/docgen_server/internal/database"
	"github.com/qs3c/docgen_server/internal/patch"
	"github.com/qs3c/docgen_server/internal/pkg/cron"
	"github.com/qs3c/docgen_server/internal/pkg/lock"
	"github.com/qs3c/docgen_server/internal/pkg/oss"
	"github.com/qs3c/docgen_server/internal/pkg/pubsub"
	"github.com/qs3c/docgen_server/internal/pkg/queue"
	"github.com/qs3c/docgen_server/internal/pkg/retry"
	"github.com/qs3c/docgen_server/internal/repository"
	"github.com/qs3c/docgen_server/internal/worker"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
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

	// 初始化 OSS（可选），未配置时补丁归档保存在本地
	var archive patch.ArchiveStore
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			archive = ossClient
			log.Println("OSS client initialized")
		}
	}

	// 模型提供方
	registry, err := ai.NewFromConfig(cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to init providers: %v", err)
	}
	log.Printf("Providers registered: %v", registry.Names())

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.JobQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	jobRepo := repository.NewJobRepository(db)
	eventRepo := repository.NewJobEventRepository(db)

	backoff := time.Duration(cfg.Pipeline.BackoffBaseMs) * time.Millisecond

	workspaces := worker.NewManager(worker.ManagerOptions{
		Root:         cfg.Pipeline.WorkspaceRoot,
		CloneTimeout: time.Duration(cfg.Pipeline.CloneTimeoutSeconds) * time.Second,
		MaxBytes:     cfg.Pipeline.CloneMaxBytes,
		Attempts:     cfg.Pipeline.RetryAttempts,
		BaseDelay:    backoff,
	})
	codeAnalyzer := analyzer.New(analyzer.DefaultRegistry(), analyzer.Options{
		Excludes:     cfg.Analyzer.Excludes,
		MaxFileBytes: cfg.Analyzer.MaxFileBytes,
		MaxFiles:     cfg.Analyzer.MaxFiles,
		Workers:      cfg.Analyzer.Workers,
	})
	orchestrator := ai.NewOrchestrator(registry, ai.Options{
		Attempts:          cfg.Generation.Attempts,
		BaseDelay:         backoff,
		MaxDelay:          30 * time.Second,
		MaxUnitsPerPrompt: cfg.Generation.MaxUnitsPerPrompt,
		Temperature:       cfg.Generation.Temperature,
		MaxTokens:         cfg.Generation.MaxTokens,
	})
	patches := patch.NewGenerator(cfg.Git.BranchPrefix, archive, cfg.Archive.LocalDir, retry.Policy{
		Attempts:  cfg.Pipeline.RetryAttempts,
		BaseDelay: backoff,
		MaxDelay:  30 * time.Second,
	})

	// 创建任务处理器
	processor := worker.NewProcessor(jobRepo, eventRepo, workspaces, codeAnalyzer, orchestrator, patches, publisher, cfg)
	dispatcher := worker.NewDispatcher(jobQueue, lock.NewLocker(rdb), processor, worker.DispatcherOptions{
		Workers:      cfg.Queue.MaxWorkers,
		PopTimeout:   time.Duration(cfg.Queue.PopTimeoutSeconds) * time.Second,
		LockTTL:      time.Duration(cfg.Pipeline.LockTTLSeconds) * time.Second,
		RequeueDelay: 2 * time.Second,
	})

	// 崩溃恢复与工作区清理
	cronService := cron.NewService(jobRepo, eventRepo, jobQueue, cron.Options{
		WorkspaceRoot: cfg.Pipeline.WorkspaceRoot,
		StaleAfter:    time.Duration(cfg.Pipeline.StaleAfterMinutes) * time.Minute,
		Interval:      time.Duration(cfg.Pipeline.RecoveryIntervalMinutes) * time.Minute,
		ExpireAfter:   time.Duration(cfg.Pipeline.WorkspaceExpireHours) * time.Hour,
	})
	cronService.Start()
	defer cronService.Stop()

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if archive != nil {
		go worker.NewReuploader(jobRepo, archive, cfg.Archive.LocalDir).Start(ctx)
	}

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	// 阻塞直到全部 worker 退出
	dispatcher.Run(ctx)
	log.Println("Worker shutdown complete")
}
