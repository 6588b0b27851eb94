package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/studyforge/material-pipeline/config"
	"github.com/studyforge/material-pipeline/internal/extract"
	"github.com/studyforge/material-pipeline/internal/pipeline"
	"github.com/studyforge/material-pipeline/internal/provider"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/storage"
	"github.com/studyforge/material-pipeline/pkg/worker"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelineCfg, err := config.LoadPipelineConfig("")
	if err != nil {
		log.Error("Failed to load pipeline config", logger.Error(err))
		os.Exit(1)
	}

	redisCfg := config.GetRedisConfig()
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisCfg.Addr,
		DB:   redisCfg.DB,
	})
	st := store.NewRedisStore(redisClient)

	storageType := storage.StorageType(os.Getenv("STORAGE_TYPE"))
	if storageType == "" {
		storageType = storage.StorageTypeMinio
	}
	blobs, err := storage.NewStorage(ctx, storageType, log)
	if err != nil {
		log.Error("Failed to create storage", logger.Error(err))
		os.Exit(1)
	}

	providerCfg := config.GetProviderConfig()
	generator := provider.NewOpenAIGenerator(&provider.GeneratorConfig{
		BaseURL: providerCfg.BaseURL,
		APIKey:  providerCfg.APIKey,
		Model:   providerCfg.Model,
	})

	textractCfg := config.GetTextractConfig()
	imageExtractor, err := extract.NewTextractExtractor(ctx, &extract.TextractConfig{
		Region:        textractCfg.Region,
		AccessKey:     textractCfg.AccessKey,
		SecretKey:     textractCfg.SecretKey,
		MinConfidence: 80,
	}, log)
	if err != nil {
		log.Error("Failed to create textract extractor", logger.Error(err))
		os.Exit(1)
	}
	extractor := extract.NewExtractor(extract.NewPDFExtractor(log), imageExtractor, log)

	// one limiter for the whole process so concurrent jobs share the
	// provider cap
	limiter := pipeline.NewLimiter(pipelineCfg.GlobalConcurrency)

	runner := pipeline.NewRunner(st, blobs, generator, extractor, limiter, log, pipeline.Config{
		ChunkSize:              pipelineCfg.ChunkSize,
		QuestionChunkThreshold: pipelineCfg.QuestionChunkThreshold,
		QuestionsPerChunk:      pipelineCfg.QuestionsPerChunk,
		Batch: pipeline.BatchConfig{
			Concurrency: pipelineCfg.Concurrency,
			BatchDelay:  pipelineCfg.BatchDelay,
		},
		Retry: pipeline.RetryPolicy{
			MaxAttempts: pipelineCfg.ChunkMaxAttempts,
			BaseDelay:   pipelineCfg.ChunkBaseDelay,
		},
		StageTimeout: pipelineCfg.StageTimeout,
	})

	materialWorker := worker.NewMaterialWorker(&worker.Config{
		RedisAddr:      redisCfg.Addr,
		RedisDB:        redisCfg.DB,
		Concurrency:    pipelineCfg.WorkerConcurrency,
		RetryBaseDelay: pipelineCfg.JobRetryBaseDelay,
	}, runner, st, log)

	if err := materialWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	materialWorker.Stop()
	log.Info("Worker stopped")
}
