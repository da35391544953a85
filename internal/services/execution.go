package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"collabcode/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull    = errors.New("execution queue is full")
	ErrShuttingDown = errors.New("execution service is shutting down")
)

// Executor runs one execution request to completion. *sandbox.Engine satisfies it.
type Executor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult
}

// ExecutionJob pairs a request with the callback that receives its result.
type ExecutionJob struct {
	Request models.ExecutionRequest
	Deliver func(models.ExecutionResult)
}

// ExecutionService runs sandboxed executions on a fixed pool of workers fed
// from a bounded queue. A slow or looping execution occupies one worker
// only; the websocket read loops never wait on it.
type ExecutionService struct {
	executor Executor

	jobs    chan ExecutionJob
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// guards jobs against sends after close
	mu     sync.RWMutex
	closed bool

	log *logrus.Entry
}

func NewExecutionService(executor Executor, numWorkers, queueSize int) *ExecutionService {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ExecutionService{
		executor: executor,
		jobs:     make(chan ExecutionJob, queueSize),
		workers:  numWorkers,
		ctx:      ctx,
		cancel:   cancel,
		log:      logrus.WithField("component", "execution"),
	}
}

// Start spawns the workers.
func (s *ExecutionService) Start() {
	s.log.Infof("🔧 Starting execution worker pool with %d workers", s.workers)

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *ExecutionService) worker(id int) {
	defer s.wg.Done()

	// jobs still queued at shutdown run against a cancelled context, which
	// the executor reports as a failed result, so every Deliver still fires
	for job := range s.jobs {
		s.log.WithFields(logrus.Fields{
			"worker":       id,
			"execution_id": job.Request.ID,
			"session_id":   job.Request.SessionID,
		}).Debug("Processing execution")

		s.run(job)
	}
}

func (s *ExecutionService) run(job ExecutionJob) {
	defer func() {
		if p := recover(); p != nil {
			s.log.WithFields(logrus.Fields{
				"execution_id": job.Request.ID,
				"panic":        p,
				"stack":        string(debug.Stack()),
			}).Error("Execution worker panicked")
		}
	}()

	result := s.executor.Execute(s.ctx, job.Request)
	if job.Deliver != nil {
		job.Deliver(result)
	}
}

// Submit enqueues a request without blocking and returns the execution id
// assigned to it. It fails with ErrQueueFull when the queue has no space
// and ErrShuttingDown after Shutdown.
func (s *ExecutionService) Submit(req models.ExecutionRequest, deliver func(models.ExecutionResult)) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return req.ID, ErrShuttingDown
	}

	select {
	case s.jobs <- ExecutionJob{Request: req, Deliver: deliver}:
		return req.ID, nil
	default:
		return req.ID, fmt.Errorf("%w (%d pending)", ErrQueueFull, cap(s.jobs))
	}
}

// Shutdown stops accepting work, cancels running executions and waits for
// the workers to drain the queue.
func (s *ExecutionService) Shutdown() {
	s.log.Info("🛑 Shutting down execution service...")

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.log.Info("✓ Execution service shutdown complete")
}

// GetQueueLength returns the number of executions waiting for a worker.
func (s *ExecutionService) GetQueueLength() int {
	return len(s.jobs)
}

// RejectedResult is the result reported for a request the pool refused.
func RejectedResult(req models.ExecutionRequest, err error) models.ExecutionResult {
	msg := "Internal server error during code execution."
	switch {
	case errors.Is(err, ErrQueueFull):
		msg = ErrQueueFull.Error()
	case errors.Is(err, ErrShuttingDown):
		msg = ErrShuttingDown.Error()
	}
	return models.ExecutionResult{
		ID:        req.ID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Error:     models.StringPtr(msg),
		ErrorKind: models.ErrorKindInternal,
	}
}
