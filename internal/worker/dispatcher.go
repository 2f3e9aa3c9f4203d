// Package worker запускает задачи генерации в ограниченном пуле горутин.
package worker

import (
	"context"
	"errors"

	"whatif-server/internal/models"
)

var (
	// ErrQueueFull - очередь пула заполнена, задача не принята.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolClosed - пул остановлен.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Dispatcher передает задачу генерации на асинхронное выполнение.
// Dispatch не ждет выполнения задачи.
type Dispatcher interface {
	Dispatch(ctx context.Context, job models.GenerationJob) error
}

// JobHandler обрабатывает одну задачу. Ошибки обработчик логирует сам.
type JobHandler interface {
	Process(ctx context.Context, job models.GenerationJob)
}

// JobHandlerFunc адаптирует функцию к JobHandler.
type JobHandlerFunc func(ctx context.Context, job models.GenerationJob)

func (f JobHandlerFunc) Process(ctx context.Context, job models.GenerationJob) { f(ctx, job) }
