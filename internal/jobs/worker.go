package jobs

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WorkerConfig collects what the worker needs to start.
type WorkerConfig struct {
	Redis       asynq.RedisConnOpt
	Concurrency int
	Handlers    *Handlers
}

// Worker wraps an asynq server with the storefront task handlers.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker builds a Worker. Task contexts carry lg for zctx.From.
func NewWorker(lg *zap.Logger, cfg WorkerConfig) (*Worker, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("handlers are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	srv := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		BaseContext: func() context.Context {
			return zctx.Base(context.Background(), lg)
		},
		Logger: lg.Named("asynq").Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			lg.Error("Task failed",
				zap.String("type", t.Type()),
				zap.Int("retry", retried),
				zap.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	cfg.Handlers.Register(mux)

	return &Worker{server: srv, mux: mux}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return errors.Wrap(err, "start asynq server")
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
