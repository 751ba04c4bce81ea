package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one job. Returning an error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Handle registers the handler for a job type. It must be called before Run.
func (q *Queue) Handle(jobType string, h Handler) {
	q.handlers[jobType] = h
}

// Run drains the queue with at most Concurrency jobs in flight until ctx is
// cancelled. Jobs interrupted by shutdown are neither acked nor failed, their
// lease runs out and they are delivered again.
func (q *Queue) Run(ctx context.Context) error {
	slog.Info("Queue workers started", "queue", q.cfg.Name, "concurrency", q.cfg.Concurrency)

	g := new(errgroup.Group)
	g.SetLimit(q.cfg.Concurrency)

	var inflight atomic.Int32
	freed := make(chan struct{}, q.cfg.Concurrency)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}

		free := q.cfg.Concurrency - int(inflight.Load())
		jobs, err := q.Claim(ctx, free)
		if err != nil && ctx.Err() == nil {
			slog.Warn("Failed to claim jobs", "queue", q.cfg.Name, "error", err)
		}

		for _, job := range jobs {
			job := job
			inflight.Add(1)
			g.Go(func() error {
				defer func() {
					inflight.Add(-1)
					select {
					case freed <- struct{}{}:
					default:
					}
				}()
				q.process(ctx, job)
				return nil
			})
		}

		if len(jobs) == free && free > 0 {
			// There may be more due jobs.
			continue
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		case <-freed:
		}
	}

	_ = g.Wait()
	slog.Info("Queue workers stopped", "queue", q.cfg.Name)
	return nil
}

func (q *Queue) process(ctx context.Context, job *Job) {
	start := time.Now()
	err := q.dispatch(ctx, job)

	if ctx.Err() != nil {
		slog.Debug("Job interrupted by shutdown, left for redelivery", "queue", q.cfg.Name, "job_id", job.ID)
		return
	}

	// Bookkeeping must survive a shutdown racing the handler.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if ferr := q.Fail(bg, job, err); ferr != nil {
			slog.Error("Failed to record job failure", "queue", q.cfg.Name, "job_id", job.ID, "error", ferr)
		}
		return
	}
	if aerr := q.Ack(bg, job); aerr != nil {
		slog.Error("Failed to ack job", "queue", q.cfg.Name, "job_id", job.ID, "error", aerr)
		return
	}
	slog.Debug("Job completed",
		"queue", q.cfg.Name,
		"job_id", job.ID,
		"type", job.Type,
		"duration", time.Since(start))
}

func (q *Queue) dispatch(ctx context.Context, job *Job) (err error) {
	h, ok := q.handlers[job.Type]
	if !ok {
		return fmt.Errorf("no handler for job type %q", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("handler panic: ", r))
		}
	}()
	return h(ctx, job)
}
