package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"wisestory/internal/config"
	"wisestory/internal/handler"
	"wisestory/internal/huggingface"
	"wisestory/internal/imagegen"
	"wisestory/internal/llm"
	"wisestory/internal/middleware"
	"wisestory/internal/queue"
	"wisestory/internal/repository"
	"wisestory/internal/service"
	"wisestory/internal/storage"
	"wisestory/internal/tools"
	"wisestory/internal/volc"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	logFile, err := config.InitLogger(cfg.Log)
	if err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}
	defer logFile.Close()
	log := logrus.WithField("app", "wisestory")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := repository.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			log.Fatalf("迁移数据库失败: %v", err)
		}
	}
	stories := repository.NewStoryRepo(db, log)
	assets := repository.NewAssetRepo(db, log)

	// 初始化模型
	textModel, err := newTextModel(ctx, cfg.Text)
	if err != nil {
		log.Fatalf("初始化文本模型失败: %v", err)
	}
	images := imagegen.NewGenerator(newImageProvider(cfg), imagegen.Options{
		PrimaryModel:  cfg.Image.PrimaryModel,
		BackupModel:   cfg.Image.BackupModel,
		Steps:         cfg.Image.Steps,
		GuidanceScale: cfg.Image.GuidanceScale,
	}, log.WithField("component", "ImageGenerator"))

	objects, err := storage.New(ctx, storage.Config{
		Bucket:          cfg.Storage.Bucket,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		CredentialsFile: cfg.Storage.CredentialsFile,
	}, log)
	if err != nil {
		log.Fatalf("初始化对象存储失败: %v", err)
	}

	// 初始化流水线
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	contentGen := service.NewContentGenerator(textModel, log)
	pipeline := service.NewStoryPipeline(stories, assets, contentGen, images, objects, service.NewMetrics(registry), log)
	pipeline.SetLease(cfg.Dispatch.Lease)
	// 上次进程中断留下的生成中故事
	if _, err := pipeline.RecoverStale(ctx); err != nil {
		log.WithError(err).Warn("回收中断的生成任务失败")
	}

	generateAssets := func(ctx context.Context, storyID string) error {
		_, err := pipeline.GenerateAssets(ctx, storyID)
		return err
	}
	shutdownDispatcher, err := setupDispatcher(ctx, cfg.Dispatch, pipeline, generateAssets, log)
	if err != nil {
		log.Fatalf("初始化任务派发失败: %v", err)
	}

	// 初始化Gin路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Auth.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	h := handler.New(pipeline, images, log)
	h.RegisterTool("story-generate", tools.NewStoryTool(contentGen))
	h.RegisterTool("image-generate", tools.NewImageTool(images, objects))
	h.Register(router, middleware.Auth([]byte(cfg.Auth.JWTSecret)), registry)

	// 启动服务器
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("服务器启动在 %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	<-ctx.Done()
	log.Info("关闭服务器...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("服务器关闭失败: %v", err)
	}
	shutdownDispatcher()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("服务器已关闭")
}

func newTextModel(ctx context.Context, cfg config.TextConfig) (llm.TextModel, error) {
	if strings.EqualFold(cfg.Provider, "ark") {
		return llm.NewArkModel(ctx, cfg.ArkAPIKey, cfg.ArkModel, &http.Client{Timeout: 2 * time.Minute})
	}
	return llm.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
}

func newImageProvider(cfg *config.Config) imagegen.Provider {
	if strings.EqualFold(cfg.Image.Provider, "ark") {
		return volc.NewArkClient(cfg.Text.ArkAPIKey, cfg.Image.Timeout, cfg.Image.Mock)
	}
	return huggingface.NewClient(cfg.Image.HuggingFaceURL, cfg.Image.HuggingFaceAPIKey, cfg.Image.Timeout, cfg.Image.Mock)
}

// setupDispatcher 按配置创建插图任务派发器，返回关闭函数
func setupDispatcher(ctx context.Context, cfg config.DispatchConfig, pipeline *service.StoryPipeline, handle queue.Handler, log logrus.FieldLogger) (func(), error) {
	switch strings.ToLower(cfg.Mode) {
	case "inline":
		pipeline.SetDispatcher(queue.NewInline(handle, log))
		return func() {}, nil
	case "rabbitmq":
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.QueueName, handle, log)
		if err != nil {
			return nil, err
		}
		if err := mq.Start(ctx); err != nil {
			_ = mq.Close()
			return nil, err
		}
		pipeline.SetDispatcher(mq)
		return func() {
			if err := mq.Close(); err != nil {
				log.WithError(err).Warn("关闭rabbitmq失败")
			}
		}, nil
	default:
		local := queue.NewLocal(handle, cfg.Workers, cfg.QueueSize, log)
		// 任务在服务关闭后继续完成，不跟随信号取消
		local.Start(context.WithoutCancel(ctx))
		pipeline.SetDispatcher(local)
		return local.Stop, nil
	}
}
