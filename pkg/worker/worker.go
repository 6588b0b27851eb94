package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/studyforge/material-pipeline/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.server.Stop()
		w.server.Shutdown()
	})
	return nil
}
