package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
)

// Worker polls the task queues and runs handlers. Tasks are delivered
// at-least-once and never retried automatically: a failed task stays
// terminal until a human resubmits its job.
type Worker struct {
	engine      *Engine
	concurrency int
	pollTimeout time.Duration
	logger      zerolog.Logger
}

// NewWorker creates a worker pool over the engine
func NewWorker(engine *Engine, concurrency int, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		engine:      engine,
		concurrency: concurrency,
		pollTimeout: 5 * time.Second,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

// Run starts the worker goroutines and blocks until the context is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().
		Int("concurrency", w.concurrency).
		Msg("Worker starting")

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, slot)
		}(i)
	}
	wg.Wait()

	w.logger.Info().Msg("Worker stopped")
}

// loop round-robins the task kinds so no queue starves another.
func (w *Worker) loop(ctx context.Context, slot int) {
	kinds := queue.Kinds()
	next := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		kind := kinds[next]
		next = (next + 1) % len(kinds)

		task, err := w.engine.queue.Dequeue(ctx, kind, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().
				Err(err).
				Str("kind", string(kind)).
				Int("slot", slot).
				Msg("Failed to dequeue task")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		w.process(ctx, task, slot)
	}
}

func (w *Worker) process(ctx context.Context, task *queue.Task, slot int) {
	logger := w.logger.With().
		Str("job_id", task.JobID).
		Str("kind", string(task.Kind)).
		Int("slot", slot).
		Logger()

	logger.Info().Msg("Task dequeued")

	if err := w.engine.queue.MarkProcessing(ctx, task.JobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark task processing")
	}

	start := time.Now()
	err := w.dispatch(ctx, task)
	elapsed := time.Since(start)

	if err != nil {
		// The handler already persisted the failure; nothing is re-enqueued.
		logger.Error().
			Err(err).
			Dur("elapsed", elapsed).
			Msg("Task failed")
	} else {
		logger.Info().
			Dur("elapsed", elapsed).
			Msg("Task completed")
	}

	if err := w.engine.queue.MarkComplete(ctx, task.JobID); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear processing marker")
	}
}

func (w *Worker) dispatch(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.TaskProvisionInfrastructure:
		return w.handleProvisionInfrastructure(ctx, task)
	case queue.TaskDestroyInfrastructure:
		return w.handleDestroyInfrastructure(ctx, task)
	case queue.TaskProvisionMicroservice:
		return w.handleProvisionMicroservice(ctx, task)
	case queue.TaskDestroyMicroservice:
		return w.handleDestroyMicroservice(ctx, task)
	default:
		return fmt.Errorf("unknown task kind: %s", task.Kind)
	}
}

// claimJob loads the job row for a dequeued task and flips it to RUNNING.
func (w *Worker) claimJob(ctx context.Context, jobID string) (*state.Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID: %w", err)
	}

	job, err := w.engine.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := w.engine.repo.MarkJobRunning(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}
