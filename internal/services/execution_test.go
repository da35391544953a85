package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"collabcode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExecutor struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []models.ExecutionRequest
}

func (e *stubExecutor) Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult {
	e.mu.Lock()
	e.seen = append(e.seen, req)
	e.mu.Unlock()

	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return models.ExecutionResult{ID: req.ID, ErrorKind: models.ErrorKindInternal}
		}
	}
	return models.ExecutionResult{ID: req.ID, SessionID: req.SessionID, Output: models.StringPtr("ok")}
}

func TestSubmitDeliversResult(t *testing.T) {
	svc := NewExecutionService(&stubExecutor{}, 2, 4)
	svc.Start()
	defer svc.Shutdown()

	results := make(chan models.ExecutionResult, 1)
	id, err := svc.Submit(models.ExecutionRequest{SessionID: "s1", Code: "1"}, func(r models.ExecutionResult) {
		results <- r
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "an execution id is assigned")

	select {
	case r := <-results:
		assert.Equal(t, id, r.ID)
		require.NotNil(t, r.Output)
		assert.Equal(t, "ok", *r.Output)
	case <-time.After(time.Second):
		t.Fatal("result was never delivered")
	}
}

func TestSubmitKeepsCallerID(t *testing.T) {
	svc := NewExecutionService(&stubExecutor{}, 1, 1)
	id, err := svc.Submit(models.ExecutionRequest{ID: "mine"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "mine", id)
}

func TestSubmitQueueFull(t *testing.T) {
	exec := &stubExecutor{release: make(chan struct{})}
	svc := NewExecutionService(exec, 1, 1)
	svc.Start()
	defer svc.Shutdown()
	defer close(exec.release)

	// one running, one queued
	_, err := svc.Submit(models.ExecutionRequest{}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.GetQueueLength() == 0 }, time.Second, 5*time.Millisecond)
	_, err = svc.Submit(models.ExecutionRequest{}, nil)
	require.NoError(t, err)

	_, err = svc.Submit(models.ExecutionRequest{}, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, svc.GetQueueLength())
}

func TestSlowExecutionDoesNotBlockOthers(t *testing.T) {
	exec := &slowFirstExecutor{block: make(chan struct{})}
	svc := NewExecutionService(exec, 2, 4)
	svc.Start()
	defer svc.Shutdown()
	defer close(exec.block)

	_, err := svc.Submit(models.ExecutionRequest{Code: "slow"}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = svc.Submit(models.ExecutionRequest{Code: "fast"}, func(models.ExecutionResult) { close(done) })
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fast execution waited on the slow one")
	}
}

type slowFirstExecutor struct {
	block chan struct{}
}

func (e *slowFirstExecutor) Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult {
	if req.Code == "slow" {
		select {
		case <-e.block:
		case <-ctx.Done():
		}
	}
	return models.ExecutionResult{ID: req.ID}
}

func TestShutdownDeliversPendingAndRejectsNew(t *testing.T) {
	exec := &stubExecutor{release: make(chan struct{})}
	svc := NewExecutionService(exec, 1, 4)
	svc.Start()

	var (
		mu        sync.Mutex
		delivered int
	)
	for i := 0; i < 3; i++ {
		_, err := svc.Submit(models.ExecutionRequest{}, func(models.ExecutionResult) {
			mu.Lock()
			delivered++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	svc.Shutdown()
	assert.Equal(t, 3, delivered)

	_, err := svc.Submit(models.ExecutionRequest{}, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)

	svc.Shutdown()
}

func TestRejectedResult(t *testing.T) {
	req := models.ExecutionRequest{ID: "e1", SessionID: "s1", UserID: "u1"}

	r := RejectedResult(req, ErrQueueFull)
	assert.Equal(t, models.ErrorKindInternal, r.ErrorKind)
	require.NotNil(t, r.Error)
	assert.Equal(t, "execution queue is full", *r.Error)
	assert.Nil(t, r.Output)
	assert.Equal(t, "s1", r.SessionID)
}
