package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/studyforge/material-pipeline/api/handlers"
	"github.com/studyforge/material-pipeline/api/routes"
	"github.com/studyforge/material-pipeline/config"
	"github.com/studyforge/material-pipeline/internal/service/material"
	"github.com/studyforge/material-pipeline/internal/store"
	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/queue"
	"github.com/studyforge/material-pipeline/pkg/storage"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	pipelineCfg, err := config.LoadPipelineConfig("")
	if err != nil {
		log.Fatal("Failed to load pipeline config", logger.Error(err))
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
		log.Fatal("Failed to create storage", logger.Error(err))
	}

	scheduler := queue.NewScheduler(&queue.SchedulerConfig{
		RedisAddr:      redisCfg.Addr,
		RedisDB:        redisCfg.DB,
		MaxRetries:     pipelineCfg.JobMaxRetries,
		RetryBaseDelay: pipelineCfg.JobRetryBaseDelay,
	}, st, log)
	defer scheduler.Close()

	materialService := material.NewService(scheduler, st, blobs, log, &material.ServiceConfig{
		MaxFileSize:   pipelineCfg.MaxFileSize,
		MaxConcurrent: pipelineCfg.Concurrency,
	})

	h := handlers.NewHandlers(materialService, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting on port 8080")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
