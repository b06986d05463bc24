package worker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
)

// InlineEnqueuer runs batch tasks on in-process goroutines instead of a
// Redis-backed queue. It is the dispatch path when Redis is unavailable, so
// the in-memory development setup still processes batches end to end. No
// redelivery: a task that fails here is only logged.
type InlineEnqueuer struct {
	worker *BatchWorker
	sem    chan struct{}
}

func NewInlineEnqueuer(w *BatchWorker, concurrency int) *InlineEnqueuer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &InlineEnqueuer{
		worker: w,
		sem:    make(chan struct{}, concurrency),
	}
}

// Enqueue schedules the task on a goroutine, bounded by the concurrency
// limit. It blocks while the limit is saturated so a large dispatch cannot
// spawn unbounded goroutines.
func (e *InlineEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.sem <- struct{}{}
	go func() {
		defer func() { <-e.sem }()
		if err := e.worker.ProcessTask(context.Background(), task); err != nil {
			log.Printf("Inline batch task failed: %v", err)
		}
	}()
	return &asynq.TaskInfo{Type: task.Type(), Payload: task.Payload()}, nil
}
