// Package main 是聊天服务的入口。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"ragchat/internal/config"
	"ragchat/internal/handler"
	"ragchat/internal/model"
	"ragchat/internal/pipeline"
	"ragchat/internal/repository"
	"ragchat/internal/service"
	"ragchat/pkg/database"
	"ragchat/pkg/embedding"
	"ragchat/pkg/extract"
	"ragchat/pkg/kafka"
	"ragchat/pkg/llm"
	"ragchat/pkg/log"
	"ragchat/pkg/storage"
	"ragchat/pkg/token"
	"ragchat/pkg/vectorstore"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log.Init(log.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer log.Sync()
	log.Info("logger initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化存储
	sessions := openSessions(ctx, cfg)
	files := openFiles(cfg)
	rdb := openRedis(ctx, cfg)

	store, err := openVectorStore(cfg)
	if err != nil {
		log.Fatal("failed to create vector store", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal("vector index schema check failed", err)
	}

	// 4. 初始化模型服务
	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatal("failed to create embedding client", err)
	}
	llmClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		log.Fatal("failed to create llm client", err)
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 5. 可选组件，未启用时接口保持 untyped nil
	var (
		objects  service.ObjectRemover
		archiver pipeline.Archiver
		queue    service.CleanupQueue
		producer *kafka.Producer
	)
	if cfg.MinIO.Endpoint != "" {
		m, err := storage.NewMinIO(ctx, cfg.MinIO)
		if err != nil {
			log.Fatal("failed to initialize MinIO", err)
		}
		objects, archiver = m, m
	} else {
		log.Warnf("minio.endpoint is empty, uploads are not archived")
	}
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		queue = producer
	} else {
		log.Warnf("kafka.brokers is empty, failed cleanup steps are only logged")
	}

	// 6. 初始化服务
	processor := pipeline.NewProcessor(embedder, store, files, archiver, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if cfg.Extract.TikaURL != "" {
		processor.SetExtractor(extract.NewTika(cfg.Extract.TikaURL))
		log.Infof("PDF extraction delegated to Tika at %s", cfg.Extract.TikaURL)
	}
	retrieval := service.NewRetrievalService(embedder, store, cfg.RAG.TopK)
	chatService := service.NewChatService(sessions, retrieval, llmClient, cfg.RAG.MemoryTurns)
	sessionService := service.NewSessionService(sessions, files, store, objects, queue)
	fileService := service.NewFileService(sessions, files, store, objects, queue, processor)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTokenHours)

	// 7. 启动清理重试消费者
	var workers sync.WaitGroup
	if producer != nil {
		if rdb == nil {
			log.Warnf("redis is not configured, cleanup retry worker disabled")
		} else {
			consumer := kafka.NewConsumer(cfg.Kafka, service.NewCleanupService(files, store, objects), repository.NewAttemptRepository(rdb))
			workers.Add(1)
			go func() {
				defer workers.Done()
				if err := consumer.Run(ctx); err != nil {
					log.Error("cleanup consumer stopped", err)
				}
			}()
		}
	}

	// 8. 注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.RouterDeps{
		JWT:        jwtManager,
		Redis:      rdb,
		RateLimit:  cfg.RateLimit.Requests,
		RateWindow: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
		Sessions:   handler.NewSessionHandler(sessionService),
		Chat:       handler.NewChatHandler(chatService),
		Files:      handler.NewFileHandler(fileService, cfg.Server.MaxUploadMB, cfg.Server.UploadTempDir),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, closing server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", err)
	}
	workers.Wait()
	log.Info("server stopped")
}

func openSessions(ctx context.Context, cfg *config.Config) repository.SessionRepository {
	if cfg.Database.Mongo.URI == "" {
		log.Warnf("database.mongo.uri is empty, chat sessions are kept in memory")
		return repository.NewCacheSessionRepository()
	}
	client, err := database.ConnectMongo(ctx, cfg.Database.Mongo.URI)
	if err != nil {
		log.Fatal("failed to connect to MongoDB", err)
	}
	db := client.Database(cfg.Database.Mongo.Database)
	if err := repository.EnsureSessionIndexes(ctx, db); err != nil {
		log.Fatal("failed to create session indexes", err)
	}
	return repository.NewSessionRepository(db)
}

func openFiles(cfg *config.Config) repository.FileRepository {
	if cfg.Database.MySQL.DSN == "" {
		log.Warnf("database.mysql.dsn is empty, file records are kept in memory")
		return repository.NewMemoryFileRepository()
	}
	db, err := database.OpenMySQL(cfg.Database.MySQL.DSN, &model.UploadedFile{})
	if err != nil {
		log.Fatal("failed to open MySQL", err)
	}
	return repository.NewFileRepository(db)
}

func openRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.Database.Redis.Addr == "" {
		log.Warnf("database.redis.addr is empty, rate limiting is disabled")
		return nil
	}
	rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
	if err != nil {
		log.Fatal("failed to connect to Redis", err)
	}
	return rdb
}

func openVectorStore(cfg *config.Config) (vectorstore.Store, error) {
	vs := cfg.VectorStore
	switch vs.Backend {
	case "memory":
		log.Warnf("vector_store.backend is memory, vectors are lost on restart")
		return vectorstore.NewMemory(cfg.Embedding.Dimensions), nil
	case "elasticsearch":
		return vectorstore.NewElastic(vectorstore.ElasticOptions{
			Addresses: strings.Split(vs.Elasticsearch.Addresses, ","),
			Username:  vs.Elasticsearch.Username,
			Password:  vs.Elasticsearch.Password,
			Index:     vs.Collection,
			Dimension: cfg.Embedding.Dimensions,
		})
	default:
		return vectorstore.NewQdrant(vectorstore.QdrantOptions{
			URL:        vs.Qdrant.URL,
			APIKey:     vs.Qdrant.APIKey,
			Collection: vs.Collection,
			Dimension:  cfg.Embedding.Dimensions,
		}), nil
	}
}
