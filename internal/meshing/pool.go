package meshing

import (
	"context"
	"errors"
	"sync"

	"voxrt/internal/world"
)

// ErrPoolClosed is reported for jobs that could not run because the pool
// shut down.
var ErrPoolClosed = errors.New("meshing: worker pool closed")

// GenJob represents a voxel generation request
type GenJob struct {
	Chunk *world.Chunk
	// Result channel - will be sent the result when done
	ResultChan chan GenResult
}

// GenResult contains the result of a generation job
type GenResult struct {
	Chunk *world.Chunk
	Error error
}

// WorkerPool runs voxel generation on a fixed set of goroutines. Meshing
// itself stays on the caller's goroutine since it writes shared staging.
type WorkerPool struct {
	jobQueue  chan GenJob
	workers   int
	generator *world.Generator
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorkerPool creates a new generation worker pool
func NewWorkerPool(gen *world.Generator, workers int, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		jobQueue:  make(chan GenJob, queueSize),
		workers:   workers,
		generator: gen,
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := range workers {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	return pool
}

// SubmitJobBlocking blocks until job is queued. It fails with ErrPoolClosed
// once the pool shuts down, or with ctx's error.
func (p *WorkerPool) SubmitJobBlocking(ctx context.Context, job GenJob) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateAll fills every chunk and waits for all of them. Chunks are
// independent, so they may complete in any order.
func (p *WorkerPool) GenerateAll(ctx context.Context, chunks []*world.Chunk) error {
	results := make(chan GenResult, len(chunks))
	queued := 0
	for _, c := range chunks {
		if err := p.SubmitJobBlocking(ctx, GenJob{Chunk: c, ResultChan: results}); err != nil {
			return err
		}
		queued++
	}
	var errs []error
	for range queued {
		select {
		case r := <-results:
			if r.Error != nil {
				errs = append(errs, r.Error)
			}
		case <-p.ctx.Done():
			return ErrPoolClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}

// worker is the worker goroutine that processes generation jobs
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			p.generator.GenerateVoxels(job.Chunk)

			select {
			case job.ResultChan <- GenResult{Chunk: job.Chunk}:
			case <-p.ctx.Done():
				return
			}

		case <-p.ctx.Done():
			return
		}
	}
}

// Shutdown stops the workers and waits for them to exit. Queued jobs that
// have not started are dropped.
func (p *WorkerPool) Shutdown() {
	p.cancel()
	p.wg.Wait()
}
